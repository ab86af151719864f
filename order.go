package clob

import "github.com/shopspring/decimal"

// Order is the book-side state of an order. It is created by the accepting
// Sequencer and from then on mutated only by the Matcher that owns its
// symbol (the Sequencer touches it again only through settlement messages).
type Order struct {
	ID        uint64
	SymbolID  int32
	AccountID int32
	Type      OrderType
	Side      Side
	Price     decimal.Decimal // zero for market orders
	Quantity  decimal.Decimal // original base quantity; zero for market bids by volume
	Volume    decimal.Decimal // quote budget, market bids only

	Filled      decimal.Decimal // filled base quantity
	FilledQuote decimal.Decimal // spent quote amount

	TakerRate decimal.Decimal
	MakerRate decimal.Decimal

	Seq       uint64 // per-book sequence number, assigned on book entry
	State     OrderState
	CreatedAt int64 // unix milli

	// Intrusive FIFO pointers within a price level.
	next *Order
	prev *Order
}

// Remaining returns the unfilled base quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// RemainingVolume returns the unspent quote budget of a market bid.
func (o *Order) RemainingVolume() decimal.Decimal {
	return o.Volume.Sub(o.FilledQuote)
}

// ByVolume reports whether the order is a market bid constrained by a quote
// budget rather than a base quantity.
func (o *Order) ByVolume() bool {
	return o.Type == Market && o.Side == Bid
}

// Trade records one execution between a taker and a resting maker. Trades
// are immutable once emitted by a Matcher.
type Trade struct {
	ID            uint64
	SymbolID      int32
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	BuyOrderID    uint64
	SellOrderID   uint64
	BuyAccountID  int32
	SellAccountID int32
	TakerSide     Side
	TakerRate     decimal.Decimal
	MakerRate     decimal.Decimal
	CreatedAt     int64 // unix milli
}

// QuoteAmount returns price × quantity, the quote-currency leg of the trade.
func (t *Trade) QuoteAmount() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
