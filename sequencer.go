package clob

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lightning-exchange/clob/metrics"
	"github.com/lightning-exchange/clob/protocol"
	"github.com/shopspring/decimal"
)

// maxFractionalDigits caps the precision accepted on the wire.
const maxFractionalDigits = 18

// Sequencer is one balance shard. It exclusively owns the accounts with
// account_id mod S == shard and is the entry point for every order
// lifecycle event touching them. Two inbound channels feed it: client
// commands and settlements from the Matchers; the loop alternates between
// them so a command flood cannot starve settlement.
type Sequencer struct {
	shard         int32
	shardCount    int32 // S
	matcherShards int32 // M

	table  *SymbolTable
	ledger *ledger

	cmd      chan Command
	settle   chan Settlement
	matchOut []chan Command

	orderSeq uint64

	isShutdown       atomic.Bool
	done             chan struct{}
	shutdownComplete chan struct{}
}

func newSequencer(shard, shardCount, matcherShards int32, table *SymbolTable, matchOut []chan Command, settle chan Settlement, cmdBuffer int) *Sequencer {
	return &Sequencer{
		shard:            shard,
		shardCount:       shardCount,
		matcherShards:    matcherShards,
		table:            table,
		ledger:           newLedger(),
		cmd:              make(chan Command, cmdBuffer),
		settle:           settle,
		matchOut:         matchOut,
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}
}

// nextOrderID combines a per-shard counter with the shard index: strictly
// monotonic within the shard, unique across shards, no shared counter.
func (s *Sequencer) nextOrderID() uint64 {
	s.orderSeq++
	return s.orderSeq*uint64(s.shardCount) + uint64(s.shard)
}

// Start runs the sequencer loop. Each iteration prefers the channel the
// previous one did not serve, which degrades to strict alternation when both
// have messages ready.
func (s *Sequencer) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	preferSettle := false
	for {
		if preferSettle {
			select {
			case msg := <-s.settle:
				s.handleSettlement(msg)
				preferSettle = false
				continue
			default:
			}
		} else {
			select {
			case cmd := <-s.cmd:
				s.handleCommand(cmd)
				preferSettle = true
				continue
			default:
			}
		}

		// The preferred channel is empty: take whatever arrives next.
		select {
		case <-s.done:
			return s.drain()
		case msg := <-s.settle:
			s.handleSettlement(msg)
			preferSettle = false
		case cmd := <-s.cmd:
			s.handleCommand(cmd)
			preferSettle = true
		}
	}
}

// Shutdown stops the sequencer and waits for the drain to finish.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	if s.isShutdown.CompareAndSwap(false, true) {
		close(s.done)
	}

	select {
	case <-s.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) drain() error {
	defer close(s.shutdownComplete)

	for {
		select {
		case msg := <-s.settle:
			s.handleSettlement(msg)
		case cmd := <-s.cmd:
			s.handleCommand(cmd)
		default:
			return nil
		}
	}
}

func (s *Sequencer) handleCommand(cmd Command) {
	switch cmd.Type {
	case CmdGetAccount:
		if q, ok := cmd.Payload.(*GetAccountQuery); ok {
			reply(cmd.Resp, s.handleGetAccount(q))
		}
	case CmdIncrease:
		if c, ok := cmd.Payload.(*BalanceChange); ok {
			reply(cmd.Resp, s.handleIncrease(c))
		}
	case CmdDecrease:
		if c, ok := cmd.Payload.(*BalanceChange); ok {
			reply(cmd.Resp, s.handleDecrease(c))
		}
	case CmdPlaceOrder:
		if p, ok := cmd.Payload.(*PlaceOrder); ok {
			s.handlePlaceOrder(p, cmd.Resp)
		}
	case CmdCancelOrder:
		if c, ok := cmd.Payload.(*CancelOrder); ok {
			s.handleCancelOrder(c, cmd.Resp)
		}
	default:
		logger.Warn("sequencer received unexpected command", "shard", s.shard, "type", cmd.Type)
	}
}

func (s *Sequencer) handleGetAccount(q *GetAccountQuery) *protocol.GetAccountResponse {
	account, ok := s.ledger.find(q.AccountID)
	if !ok {
		return &protocol.GetAccountResponse{
			Code:    protocol.CodeNotFound,
			Message: "Account not found",
			Data:    map[int32]*protocol.Balance{},
		}
	}

	data := make(map[int32]*protocol.Balance)
	if q.CurrencyID != 0 {
		if balance, ok := account.Find(q.CurrencyID); ok {
			data[q.CurrencyID] = balanceData(balance)
		}
	} else {
		for currencyID, balance := range account.Balances() {
			data[currencyID] = balanceData(balance)
		}
	}

	return &protocol.GetAccountResponse{
		Code:    protocol.CodeOK,
		Message: "Success",
		Data:    data,
	}
}

func (s *Sequencer) handleIncrease(c *BalanceChange) *protocol.IncreaseResponse {
	amount, err := parseAmount(c.Amount)
	if err != nil {
		metrics.BalanceOpsTotal.WithLabelValues("increase", "rejected").Inc()
		return &protocol.IncreaseResponse{Code: protocol.CodeInvalidArgument, Message: "Invalid amount format"}
	}

	balance := s.ledger.account(c.AccountID).Balance(c.CurrencyID)
	if err := balance.Increase(amount); err != nil {
		metrics.BalanceOpsTotal.WithLabelValues("increase", "rejected").Inc()
		return &protocol.IncreaseResponse{Code: protocol.CodeInvalidArgument, Message: "Amount must be positive"}
	}

	metrics.BalanceOpsTotal.WithLabelValues("increase", "ok").Inc()
	return &protocol.IncreaseResponse{
		Code:    protocol.CodeOK,
		Message: "Success",
		Data:    balanceData(balance),
	}
}

func (s *Sequencer) handleDecrease(c *BalanceChange) *protocol.DecreaseResponse {
	amount, err := parseAmount(c.Amount)
	if err != nil {
		metrics.BalanceOpsTotal.WithLabelValues("decrease", "rejected").Inc()
		return &protocol.DecreaseResponse{Code: protocol.CodeInvalidArgument, Message: "Invalid amount format"}
	}

	account, ok := s.ledger.find(c.AccountID)
	if !ok {
		metrics.BalanceOpsTotal.WithLabelValues("decrease", "rejected").Inc()
		return &protocol.DecreaseResponse{Code: protocol.CodeNotFound, Message: "Account not found"}
	}

	balance := account.Balance(c.CurrencyID)
	if err := balance.Decrease(amount); err != nil {
		metrics.BalanceOpsTotal.WithLabelValues("decrease", "rejected").Inc()
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			return &protocol.DecreaseResponse{Code: protocol.CodeInvalidArgument, Message: "Insufficient balance"}
		default:
			return &protocol.DecreaseResponse{Code: protocol.CodeInvalidArgument, Message: "Amount must be positive"}
		}
	}

	metrics.BalanceOpsTotal.WithLabelValues("decrease", "ok").Inc()
	return &protocol.DecreaseResponse{
		Code:    protocol.CodeOK,
		Message: "Success",
		Data:    balanceData(balance),
	}
}

// handlePlaceOrder validates the order, freezes the funds it needs, assigns
// the order id and hands the order to the owning Matcher. The caller gets an
// answer at acceptance; the matching outcome arrives through settlements.
func (s *Sequencer) handlePlaceOrder(p *PlaceOrder, resp chan any) {
	symbol := s.table.Symbol(p.SymbolID)
	if symbol == nil {
		s.rejectOrder(p, resp, protocol.CodeNotFound, "Symbol not found")
		return
	}

	var (
		price    decimal.Decimal
		quantity decimal.Decimal
		volume   decimal.Decimal
		err      error
	)

	switch p.Type {
	case Limit:
		if price, err = parsePositive(p.Price); err != nil {
			s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Invalid price")
			return
		}
		if quantity, err = parsePositive(p.Quantity); err != nil {
			s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Invalid quantity")
			return
		}
	case Market:
		if p.Side == Bid {
			if p.Quantity != "" {
				s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Market bid takes volume, not quantity")
				return
			}
			if volume, err = parsePositive(p.Volume); err != nil {
				s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Market bid requires a positive volume")
				return
			}
		} else {
			if quantity, err = parsePositive(p.Quantity); err != nil {
				s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Invalid quantity")
				return
			}
		}
	default:
		s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Unknown order type")
		return
	}

	takerRate, err := parseRate(p.TakerRate)
	if err != nil {
		s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Invalid taker rate")
		return
	}
	makerRate, err := parseRate(p.MakerRate)
	if err != nil {
		s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Invalid maker rate")
		return
	}

	// Freeze before the order exists anywhere: the Matcher only ever sees
	// balance-valid orders.
	freezeCurrency := symbol.Base
	freezeAmount := quantity
	if p.Side == Bid {
		freezeCurrency = symbol.Quote
		if p.Type == Market {
			freezeAmount = volume
		} else {
			freezeAmount = price.Mul(quantity)
		}
	}

	balance := s.ledger.account(p.AccountID).Balance(freezeCurrency)
	if err := balance.Freeze(freezeAmount); err != nil {
		s.rejectOrder(p, resp, protocol.CodeInvalidArgument, "Insufficient balance")
		return
	}

	order := &Order{
		ID:        s.nextOrderID(),
		SymbolID:  p.SymbolID,
		AccountID: p.AccountID,
		Type:      p.Type,
		Side:      p.Side,
		Price:     price,
		Quantity:  quantity,
		Volume:    volume,
		TakerRate: takerRate,
		MakerRate: makerRate,
		State:     StateNew,
		CreatedAt: time.Now().UnixMilli(),
	}

	s.forwardToMatcher(shardIndex(order.SymbolID, int(s.matcherShards)), Command{Type: CmdMatchOrder, Payload: order})

	metrics.OrdersTotal.WithLabelValues(order.Side.String(), order.Type.String(), "accepted").Inc()
	reply(resp, &protocol.PlaceOrderResponse{
		Code:    protocol.CodeOK,
		Message: "Order placed successfully",
		ID:      int64(order.ID),
	})
}

func (s *Sequencer) rejectOrder(p *PlaceOrder, resp chan any, code int32, message string) {
	metrics.OrdersTotal.WithLabelValues(p.Side.String(), p.Type.String(), "rejected").Inc()
	reply(resp, &protocol.PlaceOrderResponse{Code: code, Message: message})
}

// handleCancelOrder forwards the request to the owning Matcher. The reply
// comes back asynchronously as a CancelReply settlement, so the loop never
// waits for another worker's answer.
func (s *Sequencer) handleCancelOrder(c *CancelOrder, resp chan any) {
	if s.table.Symbol(c.SymbolID) == nil {
		metrics.CancelsTotal.WithLabelValues("rejected").Inc()
		reply(resp, &protocol.CancelOrderResponse{
			Code:    protocol.CodeNotFound,
			Message: "Symbol not found",
			OrderID: int64(c.OrderID),
		})
		return
	}

	s.forwardToMatcher(shardIndex(c.SymbolID, int(s.matcherShards)), Command{
		Type: CmdMatchCancel,
		Payload: &CancelRequest{
			AccountID: c.AccountID,
			SymbolID:  c.SymbolID,
			OrderID:   c.OrderID,
			Reply:     resp,
		},
	})
}

func (s *Sequencer) handleSettlement(msg Settlement) {
	switch msg.Type {
	case SettleTradeBuy:
		s.applyTradeBuy(msg.Trade)
	case SettleTradeSell:
		s.applyTradeSell(msg.Trade)
	case SettleUnfreeze:
		s.applyUnfreeze(msg.Unfreeze)
	case SettleCancelReply:
		s.applyCancelReply(msg.Cancel)
	default:
		logger.Warn("sequencer received unexpected settlement", "shard", s.shard, "kind", msg.Type)
	}
	metrics.SettlementsTotal.WithLabelValues(msg.Type.String()).Inc()
}

// applyTradeBuy settles the buyer's side of a trade: the frozen quote amount
// is consumed, the base amount is credited. The freeze taken at placement
// guarantees the funds are there; anything else is a broken invariant.
func (s *Sequencer) applyTradeBuy(t *Trade) {
	symbol := s.table.Symbol(t.SymbolID)
	if symbol == nil {
		fatalInvariant("sequencer %d: trade %d references unknown symbol %d", s.shard, t.ID, t.SymbolID)
	}

	account := s.ledger.account(t.BuyAccountID)
	quoteAmount := t.QuoteAmount()

	if err := account.Balance(symbol.Quote).SpendFrozen(quoteAmount); err != nil {
		fatalInvariant("sequencer %d: buy settlement underflow, trade %d account %d: %v", s.shard, t.ID, t.BuyAccountID, err)
	}
	if err := account.Balance(symbol.Base).Increase(t.Quantity); err != nil {
		fatalInvariant("sequencer %d: buy settlement credit, trade %d account %d: %v", s.shard, t.ID, t.BuyAccountID, err)
	}
}

// applyTradeSell mirrors applyTradeBuy for the seller: frozen base is
// consumed, quote is credited.
func (s *Sequencer) applyTradeSell(t *Trade) {
	symbol := s.table.Symbol(t.SymbolID)
	if symbol == nil {
		fatalInvariant("sequencer %d: trade %d references unknown symbol %d", s.shard, t.ID, t.SymbolID)
	}

	account := s.ledger.account(t.SellAccountID)
	quoteAmount := t.QuoteAmount()

	if err := account.Balance(symbol.Base).SpendFrozen(t.Quantity); err != nil {
		fatalInvariant("sequencer %d: sell settlement underflow, trade %d account %d: %v", s.shard, t.ID, t.SellAccountID, err)
	}
	if err := account.Balance(symbol.Quote).Increase(quoteAmount); err != nil {
		fatalInvariant("sequencer %d: sell settlement credit, trade %d account %d: %v", s.shard, t.ID, t.SellAccountID, err)
	}
}

func (s *Sequencer) applyUnfreeze(r *Refund) {
	balance := s.ledger.account(r.AccountID).Balance(r.CurrencyID)
	if err := balance.Unfreeze(r.Amount); err != nil {
		fatalInvariant("sequencer %d: unfreeze underflow, account %d currency %d amount %s: %v",
			s.shard, r.AccountID, r.CurrencyID, r.Amount.String(), err)
	}
}

// applyCancelReply finishes a cancellation round trip. The Matcher has
// already removed the order, so ownership is verified here on the reply
// data; on a mismatch the requester gets Forbidden and no refund moves.
// On success the frozen remainder is refunded, then the waiting client is
// answered.
func (s *Sequencer) applyCancelReply(c *CancelOutcome) {
	err := c.Err
	if err == nil && c.OwnerAccountID != c.RequestedBy {
		err = ErrForbidden
	}
	if err != nil {
		metrics.CancelsTotal.WithLabelValues("rejected").Inc()

		out := &protocol.CancelOrderResponse{OrderID: int64(c.OrderID)}
		switch {
		case errors.Is(err, ErrForbidden):
			out.Code = protocol.CodeForbidden
			out.Message = "Order does not belong to this account"
		case errors.Is(err, ErrInvalidState):
			out.Code = protocol.CodeInvalidArgument
			out.Message = "Order is already in a terminal state"
		default:
			out.Code = protocol.CodeNotFound
			out.Message = "Order not found"
		}
		reply(c.Reply, out)
		return
	}

	symbol := s.table.Symbol(c.SymbolID)
	if symbol == nil {
		fatalInvariant("sequencer %d: cancel reply references unknown symbol %d", s.shard, c.SymbolID)
	}

	refundCurrency := symbol.Base
	refundAmount := c.CancelledQuantity
	if c.Side == Bid {
		refundCurrency = symbol.Quote
		refundAmount = c.Price.Mul(c.CancelledQuantity)
	}

	balance := s.ledger.account(c.OwnerAccountID).Balance(refundCurrency)
	if err := balance.Unfreeze(refundAmount); err != nil {
		fatalInvariant("sequencer %d: cancel refund underflow, order %d account %d amount %s: %v",
			s.shard, c.OrderID, c.OwnerAccountID, refundAmount.String(), err)
	}

	metrics.CancelsTotal.WithLabelValues("ok").Inc()
	reply(c.Reply, &protocol.CancelOrderResponse{
		Code:              protocol.CodeOK,
		Message:           "Order cancelled successfully",
		OrderID:           int64(c.OrderID),
		CancelledQuantity: c.CancelledQuantity.String(),
		RefundAmount:      refundAmount.String(),
	})
}

// forwardToMatcher delivers a command to a matcher inbox, blocking for
// backpressure. During shutdown a full inbox is abandoned instead of
// deadlocking the drain.
func (s *Sequencer) forwardToMatcher(shard int, cmd Command) {
	select {
	case s.matchOut[shard] <- cmd:
	case <-s.done:
		select {
		case s.matchOut[shard] <- cmd:
		default:
			logger.Warn("matcher command dropped during shutdown", "matcher_shard", shard, "type", cmd.Type)
		}
	}
}

func balanceData(b *Balance) *protocol.Balance {
	return &protocol.Balance{
		Currency:  strconv.FormatInt(int64(b.CurrencyID), 10),
		Value:     b.Total.String(),
		Frozen:    b.Frozen.String(),
		Available: b.Available.String(),
	}
}

// parseAmount parses a wire decimal, rejecting more than 18 fractional
// digits.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidArgument
	}
	if d.Exponent() < -maxFractionalDigits {
		return decimal.Decimal{}, ErrInvalidArgument
	}
	return d, nil
}

// parsePositive parses a wire decimal that must be strictly positive.
func parsePositive(s string) (decimal.Decimal, error) {
	d, err := parseAmount(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, ErrInvalidArgument
	}
	return d, nil
}

// parseRate parses an optional fee rate; empty means zero.
func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, ErrInvalidArgument
	}
	return d, nil
}
