// Package protocol defines the wire-level request and response schema of the
// exchange. The types mirror the external RPC contract; all monetary fields
// are decimal strings with up to 18 fractional digits.
package protocol

// Response codes shared by every operation.
const (
	CodeOK              int32 = 0
	CodeInvalidArgument int32 = 400
	CodeForbidden       int32 = 403
	CodeNotFound        int32 = 404
	CodeInternal        int32 = 500
)

// Balance is one currency's funds as reported to clients. Value is the
// total; available = value - frozen.
type Balance struct {
	Currency  string `json:"currency"`
	Value     string `json:"value"`
	Frozen    string `json:"frozen"`
	Available string `json:"available"`
}

type GetAccountResponse struct {
	Code    int32              `json:"code"`
	Message string             `json:"message,omitempty"`
	Data    map[int32]*Balance `json:"data"`
}

type IncreaseRequest struct {
	RequestID  string `json:"request_id"`
	AccountID  int32  `json:"account_id"`
	CurrencyID int32  `json:"currency_id"`
	Amount     string `json:"amount"`
}

type IncreaseResponse struct {
	Code    int32    `json:"code"`
	Message string   `json:"message,omitempty"`
	Data    *Balance `json:"data,omitempty"`
}

type DecreaseRequest struct {
	RequestID  string `json:"request_id"`
	AccountID  int32  `json:"account_id"`
	CurrencyID int32  `json:"currency_id"`
	Amount     string `json:"amount"`
}

type DecreaseResponse struct {
	Code    int32    `json:"code"`
	Message string   `json:"message,omitempty"`
	Data    *Balance `json:"data,omitempty"`
}

// PlaceOrderRequest carries side BID=0/ASK=1 and type LIMIT=0/MARKET=1.
// Quantity is the base amount; Volume is the quote budget and is only valid
// for market bids. Rates are recorded on the order but not settled.
type PlaceOrderRequest struct {
	RequestID string `json:"request_id"`
	SymbolID  int32  `json:"symbol_id"`
	AccountID int32  `json:"account_id"`
	Type      int32  `json:"type"`
	Side      int32  `json:"side"`
	Price     string `json:"price,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Volume    string `json:"volume,omitempty"`
	TakerRate string `json:"taker_rate,omitempty"`
	MakerRate string `json:"maker_rate,omitempty"`
}

type PlaceOrderResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
	ID      int64  `json:"id"`
}

// PriceLevel is one aggregated depth level: the summed remaining quantity of
// every resting order at the price.
type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type GetOrderBookResponse struct {
	Code      int32         `json:"code"`
	Message   string        `json:"message,omitempty"`
	SymbolID  int32         `json:"symbol_id"`
	Bids      []*PriceLevel `json:"bids"`
	Asks      []*PriceLevel `json:"asks"`
	BestBid   string        `json:"best_bid,omitempty"`
	BestAsk   string        `json:"best_ask,omitempty"`
	Spread    string        `json:"spread,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type CancelOrderRequest struct {
	RequestID string `json:"request_id"`
	SymbolID  int32  `json:"symbol_id"`
	AccountID int32  `json:"account_id"`
	OrderID   uint64 `json:"order_id"`
}

type CancelOrderResponse struct {
	Code              int32  `json:"code"`
	Message           string `json:"message,omitempty"`
	OrderID           int64  `json:"order_id"`
	CancelledQuantity string `json:"cancelled_quantity,omitempty"`
	RefundAmount      string `json:"refund_amount,omitempty"`
}

// TickerResponse is served from the aggregated market-data feed rather than
// the matching shards.
type TickerResponse struct {
	Code         int32  `json:"code"`
	Message      string `json:"message,omitempty"`
	SymbolID     int32  `json:"symbol_id"`
	LastPrice    string `json:"last_price,omitempty"`
	LastQuantity string `json:"last_quantity,omitempty"`
	BestBid      string `json:"best_bid,omitempty"`
	BestAsk      string `json:"best_ask,omitempty"`
	BaseVolume   string `json:"base_volume"`
	QuoteVolume  string `json:"quote_volume"`
	TradeCount   int64  `json:"trade_count"`
	Timestamp    int64  `json:"timestamp"`
}
