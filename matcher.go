package clob

import (
	"context"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lightning-exchange/clob/metrics"
	"github.com/lightning-exchange/clob/protocol"
	"github.com/shopspring/decimal"
)

// Matcher is one matching shard. It exclusively owns the order books of
// every symbol with symbol_id mod M == shard and processes its inbound
// channel on a single worker goroutine, so book access needs no locks.
type Matcher struct {
	shard      int32
	shardCount int32 // M
	seqShards  int32 // S, for routing settlements

	table     *SymbolTable
	books     map[int32]*OrderBook
	in        chan Command
	settleOut []chan Settlement
	publisher Publisher

	tradeSeq uint64

	isShutdown       atomic.Bool
	done             chan struct{}
	shutdownComplete chan struct{}
}

func newMatcher(shard, shardCount, seqShards int32, table *SymbolTable, in chan Command, settleOut []chan Settlement, publisher Publisher) *Matcher {
	m := &Matcher{
		shard:            shard,
		shardCount:       shardCount,
		seqShards:        seqShards,
		table:            table,
		books:            make(map[int32]*OrderBook),
		in:               in,
		settleOut:        settleOut,
		publisher:        publisher,
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
	}

	for _, symbol := range table.Symbols() {
		if shardIndex(symbol.ID, int(shardCount)) == int(shard) {
			m.books[symbol.ID] = NewOrderBook(symbol)
		}
	}

	return m
}

// nextTradeID combines a per-shard counter with the shard index, which keeps
// trade ids strictly monotonic per shard and unique across shards.
func (m *Matcher) nextTradeID() uint64 {
	m.tradeSeq++
	return m.tradeSeq*uint64(m.shardCount) + uint64(m.shard)
}

// Start runs the matcher loop. It returns after Shutdown once the inbound
// channel has been drained.
func (m *Matcher) Start() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-m.done:
			return m.drain()
		case cmd := <-m.in:
			m.handle(cmd)
		}
	}
}

// Shutdown stops the matcher and waits for the drain to finish.
func (m *Matcher) Shutdown(ctx context.Context) error {
	if m.isShutdown.CompareAndSwap(false, true) {
		close(m.done)
	}

	select {
	case <-m.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Matcher) drain() error {
	defer close(m.shutdownComplete)

	for {
		select {
		case cmd := <-m.in:
			m.handle(cmd)
		default:
			return nil
		}
	}
}

func (m *Matcher) handle(cmd Command) {
	switch cmd.Type {
	case CmdMatchOrder:
		if order, ok := cmd.Payload.(*Order); ok {
			m.matchOrder(order)
		}
	case CmdMatchCancel:
		if req, ok := cmd.Payload.(*CancelRequest); ok {
			m.cancelOrder(req)
		}
	case CmdSnapshot:
		if req, ok := cmd.Payload.(*SnapshotRequest); ok {
			m.snapshot(req, cmd.Resp)
		}
	default:
		logger.Warn("matcher received unexpected command", "shard", m.shard, "type", cmd.Type)
	}
}

// matchOrder executes an order whose funds the Sequencer already froze. The
// client has been answered at acceptance; only settlements flow back.
func (m *Matcher) matchOrder(order *Order) {
	book, ok := m.books[order.SymbolID]
	if !ok {
		// The Sequencer validates symbols before freezing, so an unknown
		// book here means a routing defect. The freeze is returned so funds
		// are not stranded.
		logger.Error("order routed to matcher without book", "shard", m.shard, "symbol_id", order.SymbolID, "order_id", order.ID)
		m.refundAll(order)
		return
	}

	now := time.Now().UnixMilli()
	res := book.place(order, m.nextTradeID, now)

	for _, trade := range res.trades {
		m.sendSettlement(shardIndex(trade.BuyAccountID, int(m.seqShards)), Settlement{Type: SettleTradeBuy, Trade: trade})
		m.sendSettlement(shardIndex(trade.SellAccountID, int(m.seqShards)), Settlement{Type: SettleTradeSell, Trade: trade})
		metrics.TradesTotal.WithLabelValues(strconv.Itoa(int(trade.SymbolID))).Inc()
	}

	if order.Type == Market {
		if refund := m.marketResidual(book.symbol, order); refund != nil {
			m.sendSettlement(shardIndex(order.AccountID, int(m.seqShards)), Settlement{Type: SettleUnfreeze, Unfreeze: refund})
		}
	}

	if len(res.events) > 0 {
		m.publisher.Publish(res.events...)
	}
}

// marketResidual computes the unfreeze for the unmatched part of a market
// order, or nil when it was fully consumed.
func (m *Matcher) marketResidual(symbol *Symbol, order *Order) *Refund {
	if order.ByVolume() {
		residual := order.RemainingVolume()
		if residual.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		return &Refund{AccountID: order.AccountID, CurrencyID: symbol.Quote, Amount: residual}
	}

	residual := order.Remaining()
	if residual.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return &Refund{AccountID: order.AccountID, CurrencyID: symbol.Base, Amount: residual}
}

// refundAll returns the full freeze of an order that never reached a book.
func (m *Matcher) refundAll(order *Order) {
	symbol := m.table.Symbol(order.SymbolID)
	if symbol == nil {
		fatalInvariant("matcher %d: no symbol %d for misrouted order %d", m.shard, order.SymbolID, order.ID)
	}

	refund := &Refund{AccountID: order.AccountID}
	if order.Side == Bid {
		refund.CurrencyID = symbol.Quote
		if order.ByVolume() {
			refund.Amount = order.Volume
		} else {
			refund.Amount = order.Price.Mul(order.Quantity)
		}
	} else {
		refund.CurrencyID = symbol.Base
		refund.Amount = order.Quantity
	}

	m.sendSettlement(shardIndex(order.AccountID, int(m.seqShards)), Settlement{Type: SettleUnfreeze, Unfreeze: refund})
}

// cancelOrder removes a resting order and reports the outcome to the
// requesting account's Sequencer, which verifies ownership on the reply
// data, refunds and answers the client.
func (m *Matcher) cancelOrder(req *CancelRequest) {
	outcome := &CancelOutcome{
		OrderID:     req.OrderID,
		SymbolID:    req.SymbolID,
		RequestedBy: req.AccountID,
		Reply:       req.Reply,
	}

	book, ok := m.books[req.SymbolID]
	if !ok {
		outcome.Err = ErrNotFound
		m.sendSettlement(shardIndex(req.AccountID, int(m.seqShards)), Settlement{Type: SettleCancelReply, Cancel: outcome})
		return
	}

	now := time.Now().UnixMilli()
	order, ev, err := book.cancel(req.OrderID, now)
	if err != nil {
		outcome.Err = err
		if existing := book.order(req.OrderID); existing != nil {
			outcome.OwnerAccountID = existing.AccountID
		}
		m.sendSettlement(shardIndex(req.AccountID, int(m.seqShards)), Settlement{Type: SettleCancelReply, Cancel: outcome})
		return
	}

	outcome.OwnerAccountID = order.AccountID
	outcome.Side = order.Side
	outcome.Price = order.Price
	outcome.CancelledQuantity = order.Remaining()
	m.sendSettlement(shardIndex(req.AccountID, int(m.seqShards)), Settlement{Type: SettleCancelReply, Cancel: outcome})

	m.publisher.Publish(ev)
}

// snapshot answers a depth query directly to the caller's reply channel.
func (m *Matcher) snapshot(req *SnapshotRequest, resp chan any) {
	if resp == nil {
		return
	}

	now := time.Now().UnixMilli()

	book, ok := m.books[req.SymbolID]
	if !ok {
		reply(resp, &protocol.GetOrderBookResponse{
			Code:      protocol.CodeNotFound,
			Message:   "OrderBook not found",
			SymbolID:  req.SymbolID,
			Bids:      []*protocol.PriceLevel{},
			Asks:      []*protocol.PriceLevel{},
			Timestamp: now,
		})
		return
	}

	snap := book.snapshot(req.Levels, now)

	out := &protocol.GetOrderBookResponse{
		Code:      protocol.CodeOK,
		Message:   "Success",
		SymbolID:  req.SymbolID,
		Bids:      toPriceLevels(snap.Bids),
		Asks:      toPriceLevels(snap.Asks),
		Timestamp: snap.Timestamp,
	}
	if snap.BestBid != nil {
		out.BestBid = snap.BestBid.String()
	}
	if snap.BestAsk != nil {
		out.BestAsk = snap.BestAsk.String()
	}
	if snap.Spread != nil {
		out.Spread = snap.Spread.String()
	}

	reply(resp, out)
}

func toPriceLevels(levels []LevelSnapshot) []*protocol.PriceLevel {
	out := make([]*protocol.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, &protocol.PriceLevel{
			Price:    l.Price.String(),
			Quantity: l.Quantity.String(),
		})
	}
	return out
}

// sendSettlement delivers a settlement message, blocking for backpressure.
// During shutdown a full channel is abandoned rather than deadlocking the
// drain.
func (m *Matcher) sendSettlement(shard int, msg Settlement) {
	select {
	case m.settleOut[shard] <- msg:
	case <-m.done:
		select {
		case m.settleOut[shard] <- msg:
		default:
			logger.Warn("settlement dropped during shutdown", "shard", shard, "kind", msg.Type.String())
		}
	}
}

// reply sends a response without blocking; if the caller timed out and no
// one is listening the response is dropped.
func reply(resp chan any, msg any) {
	if resp == nil {
		return
	}
	select {
	case resp <- msg:
	default:
	}
}

// shardIndex maps an entity id onto one of n shards, tolerating negative
// ids the way the settlement routing expects.
func shardIndex(id int32, n int) int {
	idx := int(id) % n
	if idx < 0 {
		idx += n
	}
	return idx
}
