package clob

import "github.com/shopspring/decimal"

// DepthSnapshot is a point-in-time aggregate view of a book. Best prices and
// spread are nil when the corresponding side is empty.
type DepthSnapshot struct {
	SymbolID  int32
	Bids      []LevelSnapshot
	Asks      []LevelSnapshot
	BestBid   *decimal.Decimal
	BestAsk   *decimal.Decimal
	Spread    *decimal.Decimal
	Timestamp int64
}

// matchResult carries everything a single place() produced: trades to
// settle, events to publish, and whether the taker rested on the book.
type matchResult struct {
	trades []*Trade
	events []*BookEvent
	rested bool
}

// OrderBook holds one symbol's resting orders. It is owned by exactly one
// Matcher worker; no method is safe for concurrent use.
//
// Each side is a skip list of price levels (bids descending, asks
// ascending) holding FIFO queues of orders. The orders index retains
// terminal orders so cancellation can tell an unknown order from an already
// filled or cancelled one.
type OrderBook struct {
	symbol   *Symbol
	bids     *bookSide
	asks     *bookSide
	orders   map[uint64]*Order
	nextSeq  uint64 // book-entry sequence numbers, FIFO tie-break
	eventSeq uint64 // published event stream
}

func NewOrderBook(symbol *Symbol) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBidSide(),
		asks:   newAskSide(),
		orders: make(map[uint64]*Order),
	}
}

func (b *OrderBook) newEvent(typ EventType, side Side, price, size decimal.Decimal, trade *Trade, now int64) *BookEvent {
	b.eventSeq++
	return &BookEvent{
		Seq:       b.eventSeq,
		Type:      typ,
		SymbolID:  b.symbol.ID,
		Side:      side,
		Price:     price,
		Size:      size,
		Trade:     trade,
		CreatedAt: now,
	}
}

// place runs the incoming order as taker against the opposite side under
// price-time priority, then rests any limit residual. Trade prices are the
// maker's price. Market orders never rest; their residual is the caller's
// responsibility (it triggers an unfreeze).
func (b *OrderBook) place(taker *Order, newTradeID func() uint64, now int64) *matchResult {
	res := &matchResult{}

	var mine, opposite *bookSide
	if taker.Side == Bid {
		mine, opposite = b.bids, b.asks
	} else {
		mine, opposite = b.asks, b.bids
	}

	for {
		if !taker.ByVolume() && taker.Remaining().LessThanOrEqual(decimal.Zero) {
			break
		}

		maker := opposite.best()
		if maker == nil {
			break
		}

		if taker.Type == Limit {
			if taker.Side == Bid && taker.Price.LessThan(maker.Price) {
				break
			}
			if taker.Side == Ask && taker.Price.GreaterThan(maker.Price) {
				break
			}
		}

		var quantity decimal.Decimal
		if taker.ByVolume() {
			// Bound the fill so price × quantity never exceeds the
			// remaining quote budget.
			affordable, _ := taker.RemainingVolume().QuoRem(maker.Price, 18)
			if affordable.LessThanOrEqual(decimal.Zero) {
				break
			}
			quantity = decimal.Min(affordable, maker.Remaining())
		} else {
			quantity = decimal.Min(taker.Remaining(), maker.Remaining())
		}

		price := maker.Price
		quoteAmount := price.Mul(quantity)

		taker.Filled = taker.Filled.Add(quantity)
		taker.FilledQuote = taker.FilledQuote.Add(quoteAmount)
		maker.Filled = maker.Filled.Add(quantity)
		maker.FilledQuote = maker.FilledQuote.Add(quoteAmount)
		opposite.onFill(maker, quantity)

		buyOrder, sellOrder := taker, maker
		if taker.Side == Ask {
			buyOrder, sellOrder = maker, taker
		}

		trade := &Trade{
			ID:            newTradeID(),
			SymbolID:      b.symbol.ID,
			Price:         price,
			Quantity:      quantity,
			BuyOrderID:    buyOrder.ID,
			SellOrderID:   sellOrder.ID,
			BuyAccountID:  buyOrder.AccountID,
			SellAccountID: sellOrder.AccountID,
			TakerSide:     taker.Side,
			TakerRate:     taker.TakerRate,
			MakerRate:     maker.MakerRate,
			CreatedAt:     now,
		}
		res.trades = append(res.trades, trade)
		res.events = append(res.events, b.newEvent(EventMatch, taker.Side, price, quantity, trade, now))

		if maker.Remaining().IsZero() {
			opposite.remove(maker)
			maker.State = StateFilled
		} else {
			maker.State = StatePartial
		}
	}

	if taker.Type == Limit {
		if taker.Remaining().GreaterThan(decimal.Zero) {
			b.nextSeq++
			taker.Seq = b.nextSeq
			if taker.Filled.GreaterThan(decimal.Zero) {
				taker.State = StatePartial
			} else {
				taker.State = StateNew
			}
			mine.insert(taker)
			res.rested = true
			res.events = append(res.events, b.newEvent(EventOpen, taker.Side, taker.Price, taker.Remaining(), nil, now))
		} else {
			taker.State = StateFilled
		}
	} else {
		// Market orders never rest. A fully consumed order is filled; a
		// residual (insufficient liquidity or exhausted budget) is
		// cancelled and refunded by the caller.
		exhausted := taker.Remaining().IsZero()
		if taker.ByVolume() {
			exhausted = taker.RemainingVolume().IsZero()
		}
		if exhausted {
			taker.State = StateFilled
		} else {
			taker.State = StateCancelled
		}
	}

	b.orders[taker.ID] = taker
	return res
}

// cancel removes a resting order. Ownership is not checked here: the book
// removes any live order it is asked to and reports the owner in the
// returned order; the Sequencer decides on the reply data whether the
// requester was entitled to it.
func (b *OrderBook) cancel(orderID uint64, now int64) (*Order, *BookEvent, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if order.State.Terminal() {
		return nil, nil, ErrInvalidState
	}

	side := b.bids
	if order.Side == Ask {
		side = b.asks
	}

	ev := b.newEvent(EventCancel, order.Side, order.Price, order.Remaining(), nil, now)
	side.remove(order)
	order.State = StateCancelled

	return order, ev, nil
}

// snapshot aggregates the top levels of both sides. levels of zero yields
// empty arrays while best prices and spread stay populated.
func (b *OrderBook) snapshot(levels int32, now int64) *DepthSnapshot {
	snap := &DepthSnapshot{
		SymbolID:  b.symbol.ID,
		Bids:      b.bids.depth(levels),
		Asks:      b.asks.depth(levels),
		Timestamp: now,
	}

	if best, ok := b.bids.bestPrice(); ok {
		snap.BestBid = &best
	}
	if best, ok := b.asks.bestPrice(); ok {
		snap.BestAsk = &best
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}

	return snap
}

// order returns the book's view of an order id, terminal orders included.
func (b *OrderBook) order(id uint64) *Order {
	return b.orders[id]
}
