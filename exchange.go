package clob

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightning-exchange/clob/protocol"
)

// Options sizes the engine. Zero values fall back to the defaults below.
type Options struct {
	SequencerShards  int
	MatcherShards    int
	CommandBuffer    int
	SettlementBuffer int
	MatcherBuffer    int
	ReplyTimeout     time.Duration
}

const (
	defaultShards        = 10
	defaultCommandBuffer = 4096
	// Settlement must never block a matcher for long, so its buffer is a
	// multiple of the command buffer.
	defaultSettlementBuffer = 16384
	defaultMatcherBuffer    = 4096
	defaultReplyTimeout     = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.SequencerShards <= 0 {
		o.SequencerShards = defaultShards
	}
	if o.MatcherShards <= 0 {
		o.MatcherShards = defaultShards
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = defaultCommandBuffer
	}
	if o.SettlementBuffer <= 0 {
		o.SettlementBuffer = defaultSettlementBuffer
	}
	if o.MatcherBuffer <= 0 {
		o.MatcherBuffer = defaultMatcherBuffer
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = defaultReplyTimeout
	}
	return o
}

// Engine owns the two shard rings and the channels between them, and acts
// as the dispatcher: it computes the target shard for each request, enqueues
// a typed message with a single-shot reply channel and waits for the answer.
//
// The Engine itself holds no mutable domain state; accounts live in the
// Sequencers and books in the Matchers.
type Engine struct {
	opts  Options
	table *SymbolTable

	sequencers []*Sequencer
	matchers   []*Matcher

	isShutdown atomic.Bool
	startOnce  sync.Once
}

func NewEngine(table *SymbolTable, publisher Publisher, opts Options) *Engine {
	opts = opts.withDefaults()
	if publisher == nil {
		publisher = NewDiscardPublisher()
	}

	e := &Engine{
		opts:  opts,
		table: table,
	}

	matchIn := make([]chan Command, opts.MatcherShards)
	for i := range matchIn {
		matchIn[i] = make(chan Command, opts.MatcherBuffer)
	}
	settleIn := make([]chan Settlement, opts.SequencerShards)
	for i := range settleIn {
		settleIn[i] = make(chan Settlement, opts.SettlementBuffer)
	}

	e.sequencers = make([]*Sequencer, opts.SequencerShards)
	for i := 0; i < opts.SequencerShards; i++ {
		e.sequencers[i] = newSequencer(int32(i), int32(opts.SequencerShards), int32(opts.MatcherShards),
			table, matchIn, settleIn[i], opts.CommandBuffer)
	}

	e.matchers = make([]*Matcher, opts.MatcherShards)
	for i := 0; i < opts.MatcherShards; i++ {
		e.matchers[i] = newMatcher(int32(i), int32(opts.MatcherShards), int32(opts.SequencerShards),
			table, matchIn[i], settleIn, publisher)
	}

	return e
}

// Start launches one worker goroutine per shard.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for _, m := range e.matchers {
			go func(m *Matcher) {
				_ = m.Start()
			}(m)
		}
		for _, s := range e.sequencers {
			go func(s *Sequencer) {
				_ = s.Start()
			}(s)
		}
	})
}

// Shutdown stops intake, then drains matchers before sequencers so that
// settlements emitted while a matcher drains are still applied.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.isShutdown.Store(true)

	var errs []error
	for _, m := range e.matchers {
		if err := m.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range e.sequencers {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Table returns the engine's immutable symbol table.
func (e *Engine) Table() *SymbolTable {
	return e.table
}

// sequencerFor returns the command channel owning the account.
func (e *Engine) sequencerFor(accountID int32) chan Command {
	return e.sequencers[shardIndex(accountID, e.opts.SequencerShards)].cmd
}

// matcherFor returns the inbound channel owning the symbol.
func (e *Engine) matcherFor(symbolID int32) chan Command {
	return e.matchers[shardIndex(symbolID, e.opts.MatcherShards)].in
}

// roundTrip enqueues the command and waits for its reply.
func (e *Engine) roundTrip(ctx context.Context, target chan Command, cmd Command) (any, error) {
	if e.isShutdown.Load() {
		return nil, ErrShutdown
	}

	timeout := time.NewTimer(e.opts.ReplyTimeout)
	defer timeout.Stop()

	select {
	case target <- cmd:
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-timeout.C:
		return nil, ErrTimeout
	}

	select {
	case res := <-cmd.Resp:
		return res, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-timeout.C:
		return nil, ErrTimeout
	}
}

// GetAccount returns the account's balances. currencyID of zero selects all
// currencies the account has touched.
func (e *Engine) GetAccount(ctx context.Context, accountID, currencyID int32) (*protocol.GetAccountResponse, error) {
	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.sequencerFor(accountID), Command{
		Type:    CmdGetAccount,
		Payload: &GetAccountQuery{AccountID: accountID, CurrencyID: currencyID},
		Resp:    resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.GetAccountResponse)
	return out, nil
}

// Increase credits an account balance.
func (e *Engine) Increase(ctx context.Context, accountID, currencyID int32, amount string) (*protocol.IncreaseResponse, error) {
	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.sequencerFor(accountID), Command{
		Type:    CmdIncrease,
		Payload: &BalanceChange{AccountID: accountID, CurrencyID: currencyID, Amount: amount},
		Resp:    resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.IncreaseResponse)
	return out, nil
}

// Decrease debits an account balance.
func (e *Engine) Decrease(ctx context.Context, accountID, currencyID int32, amount string) (*protocol.DecreaseResponse, error) {
	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.sequencerFor(accountID), Command{
		Type:    CmdDecrease,
		Payload: &BalanceChange{AccountID: accountID, CurrencyID: currencyID, Amount: amount},
		Resp:    resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.DecreaseResponse)
	return out, nil
}

// PlaceOrder submits an order. Acceptance is decoupled from matching: a
// successful reply means funds are frozen and an order id is assigned.
func (e *Engine) PlaceOrder(ctx context.Context, req *protocol.PlaceOrderRequest) (*protocol.PlaceOrderResponse, error) {
	if req.Side != int32(Bid) && req.Side != int32(Ask) {
		return &protocol.PlaceOrderResponse{Code: protocol.CodeInvalidArgument, Message: "Invalid side"}, nil
	}
	if req.Type != int32(Limit) && req.Type != int32(Market) {
		return &protocol.PlaceOrderResponse{Code: protocol.CodeInvalidArgument, Message: "Invalid order type"}, nil
	}

	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.sequencerFor(req.AccountID), Command{
		Type: CmdPlaceOrder,
		Payload: &PlaceOrder{
			SymbolID:  req.SymbolID,
			AccountID: req.AccountID,
			Type:      OrderType(req.Type),
			Side:      Side(req.Side),
			Price:     req.Price,
			Quantity:  req.Quantity,
			Volume:    req.Volume,
			TakerRate: req.TakerRate,
			MakerRate: req.MakerRate,
		},
		Resp: resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.PlaceOrderResponse)
	return out, nil
}

// CancelOrder cancels a resting order. The request is routed through the
// account's Sequencer, which forwards to the owning Matcher and refunds the
// frozen remainder when the Matcher confirms.
func (e *Engine) CancelOrder(ctx context.Context, accountID, symbolID int32, orderID uint64) (*protocol.CancelOrderResponse, error) {
	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.sequencerFor(accountID), Command{
		Type:    CmdCancelOrder,
		Payload: &CancelOrder{AccountID: accountID, SymbolID: symbolID, OrderID: orderID},
		Resp:    resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.CancelOrderResponse)
	return out, nil
}

// OrderBook returns an aggregated depth snapshot straight from the owning
// Matcher.
func (e *Engine) OrderBook(ctx context.Context, symbolID, levels int32) (*protocol.GetOrderBookResponse, error) {
	resp := make(chan any, 1)
	res, err := e.roundTrip(ctx, e.matcherFor(symbolID), Command{
		Type:    CmdSnapshot,
		Payload: &SnapshotRequest{SymbolID: symbolID, Levels: levels},
		Resp:    resp,
	})
	if err != nil {
		return nil, err
	}
	out, _ := res.(*protocol.GetOrderBookResponse)
	return out, nil
}
