package clob

import "github.com/shopspring/decimal"

// CommandType discriminates the payload of a Command envelope.
type CommandType int8

const (
	// Sequencer command channel.
	CmdGetAccount CommandType = iota
	CmdIncrease
	CmdDecrease
	CmdPlaceOrder
	CmdCancelOrder

	// Matcher inbound channel.
	CmdMatchOrder  // *Order whose funds are already frozen
	CmdMatchCancel // *CancelRequest
	CmdSnapshot    // *SnapshotRequest
)

// Command is the envelope carried by the sequencer command channels and the
// matcher inbound channels. Resp, when set, is a single-shot buffered channel
// the worker replies on; fire-and-forget commands leave it nil.
type Command struct {
	Type    CommandType
	Payload any
	Resp    chan any
}

// GetAccountQuery asks for a balance snapshot. CurrencyID of zero means all
// currencies the account has touched.
type GetAccountQuery struct {
	AccountID  int32
	CurrencyID int32
}

// BalanceChange is a client-initiated credit or debit. Amount stays a string
// until the owning Sequencer parses it.
type BalanceChange struct {
	AccountID  int32
	CurrencyID int32
	Amount     string
}

// PlaceOrder is the order-placement command as received from the dispatcher.
// All numeric fields are decimal strings; the Sequencer validates and parses
// them before any state changes.
type PlaceOrder struct {
	SymbolID  int32
	AccountID int32
	Type      OrderType
	Side      Side
	Price     string
	Quantity  string
	Volume    string
	TakerRate string
	MakerRate string
}

// CancelOrder is the client-facing cancellation command handled by the
// Sequencer, which forwards it to the owning Matcher.
type CancelOrder struct {
	AccountID int32
	SymbolID  int32
	OrderID   uint64
}

// CancelRequest is the Sequencer-to-Matcher form of a cancellation. Reply is
// the client's reply channel; it travels with the request so the CancelReply
// settlement can complete the round trip.
type CancelRequest struct {
	AccountID int32
	SymbolID  int32
	OrderID   uint64
	Reply     chan any
}

// SnapshotRequest asks a Matcher for an aggregated depth view.
type SnapshotRequest struct {
	SymbolID int32
	Levels   int32
}

// SettlementType discriminates messages on the sequencer settlement channel.
type SettlementType int8

const (
	SettleTradeBuy SettlementType = iota
	SettleTradeSell
	SettleUnfreeze
	SettleCancelReply
)

func (t SettlementType) String() string {
	switch t {
	case SettleTradeBuy:
		return "trade_buy"
	case SettleTradeSell:
		return "trade_sell"
	case SettleUnfreeze:
		return "unfreeze"
	case SettleCancelReply:
		return "cancel_reply"
	}
	return "unknown"
}

// Refund releases a frozen amount back to available, either for the residual
// of a market order or for an order that never reached a book. Cancel refunds
// travel as a CancelOutcome instead.
type Refund struct {
	AccountID  int32
	CurrencyID int32
	Amount     decimal.Decimal
}

// CancelOutcome is the Matcher's reply to a CancelRequest, delivered through
// the requester's settlement channel. Err is nil when the order was removed;
// otherwise ErrNotFound or ErrInvalidState. The Matcher removes any live
// order it finds, so the Sequencer compares OwnerAccountID against
// RequestedBy to turn a mismatch into Forbidden.
type CancelOutcome struct {
	Err               error
	OrderID           uint64
	SymbolID          int32
	OwnerAccountID    int32
	RequestedBy       int32
	Side              Side
	Price             decimal.Decimal
	CancelledQuantity decimal.Decimal
	Reply             chan any
}

// Settlement is the fire-and-forget message kind produced by Matchers and
// consumed by Sequencers. Exactly one of Trade, Unfreeze, Cancel is set,
// matching Type.
type Settlement struct {
	Type     SettlementType
	Trade    *Trade
	Unfreeze *Refund
	Cancel   *CancelOutcome
}
