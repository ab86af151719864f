package clob

import (
	"sync"
	"time"

	"github.com/igrmk/treemap/v2"
	"github.com/lightning-exchange/clob/protocol"
	"github.com/shopspring/decimal"
)

// aggregatedBook is a simplified view of one book: price levels with their
// aggregated sizes plus last-trade statistics, rebuilt purely from the
// published event stream.
type aggregatedBook struct {
	lastSeq uint64

	bids *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	asks *treemap.TreeMap[decimal.Decimal, decimal.Decimal]

	hasLast      bool
	lastPrice    decimal.Decimal
	lastQuantity decimal.Decimal
	baseVolume   decimal.Decimal
	quoteVolume  decimal.Decimal
	tradeCount   int64
}

func newAggregatedBook() *aggregatedBook {
	return &aggregatedBook{
		// Bids iterate best (highest) price first, asks lowest first.
		bids: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.GreaterThan(b)
		}),
		asks: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
	}
}

func (ab *aggregatedBook) sideMap(side Side) *treemap.TreeMap[decimal.Decimal, decimal.Decimal] {
	if side == Bid {
		return ab.bids
	}
	return ab.asks
}

func (ab *aggregatedBook) add(side Side, price, size decimal.Decimal) {
	m := ab.sideMap(side)
	current, _ := m.Get(price)
	m.Set(price, current.Add(size))
}

func (ab *aggregatedBook) sub(side Side, price, size decimal.Decimal) {
	m := ab.sideMap(side)
	current, ok := m.Get(price)
	if !ok {
		return
	}
	next := current.Sub(size)
	if next.LessThanOrEqual(decimal.Zero) {
		m.Del(price)
		return
	}
	m.Set(price, next)
}

func (ab *aggregatedBook) apply(ev *BookEvent) {
	if ev.Seq <= ab.lastSeq {
		return // duplicate or replayed event
	}
	if ab.lastSeq != 0 && ev.Seq != ab.lastSeq+1 {
		logger.Warn("book event gap", "symbol_id", ev.SymbolID, "expected", ab.lastSeq+1, "got", ev.Seq)
	}
	ab.lastSeq = ev.Seq

	switch ev.Type {
	case EventOpen:
		ab.add(ev.Side, ev.Price, ev.Size)
	case EventCancel:
		ab.sub(ev.Side, ev.Price, ev.Size)
	case EventMatch:
		// The taker never rested, so matched liquidity leaves the maker
		// side.
		ab.sub(ev.Side.Opposite(), ev.Price, ev.Size)
		if ev.Trade != nil {
			ab.hasLast = true
			ab.lastPrice = ev.Trade.Price
			ab.lastQuantity = ev.Trade.Quantity
			ab.baseVolume = ab.baseVolume.Add(ev.Trade.Quantity)
			ab.quoteVolume = ab.quoteVolume.Add(ev.Trade.QuoteAmount())
			ab.tradeCount++
		}
	}
}

func (ab *aggregatedBook) best(side Side) (decimal.Decimal, bool) {
	it := ab.sideMap(side).Iterator()
	if !it.Valid() {
		return decimal.Decimal{}, false
	}
	return it.Key(), true
}

// MarketFeed is the read-side market data store. It implements Publisher and
// is fed by every Matcher shard; queries never touch the matching hot path.
type MarketFeed struct {
	mu    sync.RWMutex
	books map[int32]*aggregatedBook
}

func NewMarketFeed(table *SymbolTable) *MarketFeed {
	f := &MarketFeed{books: make(map[int32]*aggregatedBook)}
	for _, s := range table.Symbols() {
		f.books[s.ID] = newAggregatedBook()
	}
	return f
}

// Publish applies book events to the aggregated view. Events for unknown
// symbols are dropped.
func (f *MarketFeed) Publish(events ...*BookEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range events {
		book, ok := f.books[ev.SymbolID]
		if !ok {
			continue
		}
		book.apply(ev)
	}
}

// Depth returns the aggregated size resting at one price level, zero if the
// level does not exist.
func (f *MarketFeed) Depth(symbolID int32, side Side, price decimal.Decimal) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	book, ok := f.books[symbolID]
	if !ok {
		return decimal.Decimal{}
	}
	size, _ := book.sideMap(side).Get(price)
	return size
}

// Ticker summarizes one symbol's market state.
func (f *MarketFeed) Ticker(symbolID int32) *protocol.TickerResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := time.Now().UnixMilli()

	book, ok := f.books[symbolID]
	if !ok {
		return &protocol.TickerResponse{
			Code:      protocol.CodeNotFound,
			Message:   "Symbol not found",
			SymbolID:  symbolID,
			Timestamp: now,
		}
	}

	out := &protocol.TickerResponse{
		Code:        protocol.CodeOK,
		Message:     "Success",
		SymbolID:    symbolID,
		BaseVolume:  book.baseVolume.String(),
		QuoteVolume: book.quoteVolume.String(),
		TradeCount:  book.tradeCount,
		Timestamp:   now,
	}
	if book.hasLast {
		out.LastPrice = book.lastPrice.String()
		out.LastQuantity = book.lastQuantity.String()
	}
	if best, ok := book.best(Bid); ok {
		out.BestBid = best.String()
	}
	if best, ok := book.best(Ask); ok {
		out.BestAsk = best.String()
	}

	return out
}
