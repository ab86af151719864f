package clob

import (
	"context"
	"testing"
	"time"

	"github.com/lightning-exchange/clob/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryPublisher) {
	t.Helper()

	table := newTestTable(t)
	publisher := NewMemoryPublisher()
	engine := NewEngine(table, publisher, Options{
		SequencerShards: 4,
		MatcherShards:   2,
		ReplyTimeout:    2 * time.Second,
	})
	engine.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	return engine, publisher
}

func mustIncrease(t *testing.T, e *Engine, account, currency int32, amount string) {
	t.Helper()
	resp, err := e.Increase(context.Background(), account, currency, amount)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code, resp.Message)
}

func mustPlace(t *testing.T, e *Engine, req *protocol.PlaceOrderRequest) uint64 {
	t.Helper()
	resp, err := e.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code, resp.Message)
	require.Positive(t, resp.ID)
	return uint64(resp.ID)
}

func getBalance(t *testing.T, e *Engine, account, currency int32) *protocol.Balance {
	t.Helper()
	resp, err := e.GetAccount(context.Background(), account, currency)
	require.NoError(t, err)
	if resp.Code != protocol.CodeOK {
		return nil
	}
	return resp.Data[currency]
}

// balanceIs reports whether the account's balance settled at the expected
// triple. Settlement is asynchronous, so callers poll with Eventually.
func balanceIs(e *Engine, account, currency int32, value, frozen, available string) func() bool {
	return func() bool {
		resp, err := e.GetAccount(context.Background(), account, currency)
		if err != nil || resp.Code != protocol.CodeOK {
			return false
		}
		b, ok := resp.Data[currency]
		if !ok {
			return false
		}
		return b.Value == value && b.Frozen == frozen && b.Available == available
	}
}

func TestCreditThenDebit(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 1, "100")

	resp, err := e.Decrease(context.Background(), 1, 1, "30")
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code)

	b := getBalance(t, e, 1, 1)
	require.NotNil(t, b)
	assert.Equal(t, "70", b.Value)
	assert.Equal(t, "0", b.Frozen)
	assert.Equal(t, "70", b.Available)
}

func TestDebitBoundaries(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 1, "50")

	// Exact available succeeds and zeroes the balance.
	resp, err := e.Decrease(context.Background(), 1, 1, "50")
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeOK, resp.Code)
	assert.Equal(t, "0", resp.Data.Available)

	// Past zero fails without side effects.
	resp, err = e.Decrease(context.Background(), 1, 1, "1")
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)

	// Unknown account.
	resp, err = e.Decrease(context.Background(), 999, 1, "1")
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)
}

func TestBalanceInputValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, amount := range []string{"abc", "", "-5", "0", "0.0000000000000000001"} {
		resp, err := e.Increase(context.Background(), 1, 1, amount)
		require.NoError(t, err)
		assert.NotEqual(t, protocol.CodeOK, resp.Code, "amount %q must be rejected", amount)
	}
}

func TestGetAccountUnknown(t *testing.T) {
	e, _ := newTestEngine(t)

	resp, err := e.GetAccount(context.Background(), 12345, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)
	assert.Empty(t, resp.Data)
}

func TestLimitBuyRests(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "50000")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "1.0",
	})

	assert.Eventually(t, func() bool {
		book, err := e.OrderBook(context.Background(), 1, 20)
		if err != nil || book.Code != protocol.CodeOK {
			return false
		}
		return len(book.Bids) == 1 && len(book.Asks) == 0 &&
			book.Bids[0].Price == "50000" && book.Bids[0].Quantity == "1"
	}, 2*time.Second, 10*time.Millisecond, "bid must rest on the book")

	b := getBalance(t, e, 1, 2)
	require.NotNil(t, b)
	assert.Equal(t, "50000", b.Value)
	assert.Equal(t, "50000", b.Frozen)
	assert.Equal(t, "0", b.Available)
}

func TestMatchCrosses(t *testing.T) {
	e, pub := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "50000")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "1.0",
	})

	mustIncrease(t, e, 2, 1, "1.0")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 2, Type: int32(Limit), Side: int32(Ask),
		Price: "50000", Quantity: "1.0",
	})

	// Buyer: quote spent, base received.
	assert.Eventually(t, balanceIs(e, 1, 1, "1", "0", "1"), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, balanceIs(e, 1, 2, "0", "0", "0"), 2*time.Second, 10*time.Millisecond)
	// Seller: base spent, quote received.
	assert.Eventually(t, balanceIs(e, 2, 1, "0", "0", "0"), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, balanceIs(e, 2, 2, "50000", "0", "50000"), 2*time.Second, 10*time.Millisecond)

	book, err := e.OrderBook(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	trades := pub.Trades()
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(dec("50000")))
	assert.True(t, trades[0].Quantity.Equal(dec("1.0")))
}

func TestPartialFillAndCancelRefund(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "100000")
	bidID := mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "2.0",
	})

	mustIncrease(t, e, 2, 1, "1.0")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 2, Type: int32(Limit), Side: int32(Ask),
		Price: "50000", Quantity: "1.0",
	})

	// Half the bid filled; the rest stays frozen on the book.
	assert.Eventually(t, balanceIs(e, 1, 2, "50000", "50000", "0"), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, balanceIs(e, 1, 1, "1", "0", "1"), 2*time.Second, 10*time.Millisecond)

	book, err := e.OrderBook(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "50000", book.Bids[0].Price)
	assert.Equal(t, "1", book.Bids[0].Quantity)
	assert.Empty(t, book.Asks)

	// Cancelling the remainder refunds exactly the frozen amount.
	resp, err := e.CancelOrder(context.Background(), 1, 1, bidID)
	require.NoError(t, err)
	require.Equal(t, protocol.CodeOK, resp.Code, resp.Message)
	assert.Equal(t, "1", resp.CancelledQuantity)
	assert.Equal(t, "50000", resp.RefundAmount)

	assert.Eventually(t, balanceIs(e, 1, 2, "50000", "0", "50000"), 2*time.Second, 10*time.Millisecond)

	book, err = e.OrderBook(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestCancelWrongOwner(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "50000")
	bidID := mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "1.0",
	})

	assert.Eventually(t, func() bool {
		book, err := e.OrderBook(context.Background(), 1, 1)
		return err == nil && len(book.Bids) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := e.CancelOrder(context.Background(), 2, 1, bidID)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeForbidden, resp.Code)
	assert.Empty(t, resp.CancelledQuantity)
	assert.Empty(t, resp.RefundAmount)

	// The Matcher removes the order before ownership is checked; the
	// owner's freeze stays in place because no refund moves on Forbidden.
	assert.Eventually(t, func() bool {
		book, err := e.OrderBook(context.Background(), 1, 1)
		return err == nil && len(book.Bids) == 0
	}, 2*time.Second, 10*time.Millisecond)

	b := getBalance(t, e, 1, 2)
	require.NotNil(t, b)
	assert.Equal(t, "50000", b.Frozen)
	assert.Equal(t, "0", b.Available)

	// A follow-up cancel by the owner finds the order already terminal.
	resp, err = e.CancelOrder(context.Background(), 1, 1, bidID)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)
}

func TestCancelErrorsEndToEnd(t *testing.T) {
	e, _ := newTestEngine(t)

	// Unknown order.
	resp, err := e.CancelOrder(context.Background(), 1, 1, 424242)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)

	// Unknown symbol.
	resp, err = e.CancelOrder(context.Background(), 1, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)

	// Already filled order.
	mustIncrease(t, e, 1, 2, "50000")
	bidID := mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "1.0",
	})
	mustIncrease(t, e, 2, 1, "1.0")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 2, Type: int32(Limit), Side: int32(Ask),
		Price: "50000", Quantity: "1.0",
	})
	assert.Eventually(t, balanceIs(e, 1, 2, "0", "0", "0"), 2*time.Second, 10*time.Millisecond)

	resp, err = e.CancelOrder(context.Background(), 1, 1, bidID)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)
}

func TestPlaceOrderRejections(t *testing.T) {
	e, _ := newTestEngine(t)

	ctx := context.Background()

	// Unknown symbol.
	resp, err := e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 42, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "1", Quantity: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)

	// Limit without a positive price.
	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "0", Quantity: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)

	// Market bid without volume.
	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Market), Side: int32(Bid),
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)

	// Market bid with quantity instead of volume.
	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Market), Side: int32(Bid),
		Quantity: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)

	// Insufficient balance: no order id issued, nothing frozen.
	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)
	assert.Zero(t, resp.ID)

	// Invalid side / type are rejected before dispatch.
	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: 9, Side: int32(Bid), Price: "1", Quantity: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)

	resp, err = e.PlaceOrder(ctx, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: 9, Price: "1", Quantity: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, resp.Code)
}

func TestMarketAskResidualUnfreezes(t *testing.T) {
	e, _ := newTestEngine(t)

	// No liquidity at all: the full freeze comes back asynchronously.
	mustIncrease(t, e, 1, 1, "2.0")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Market), Side: int32(Ask),
		Quantity: "2.0",
	})

	assert.Eventually(t, balanceIs(e, 1, 1, "2", "0", "2"), 2*time.Second, 10*time.Millisecond)
}

func TestMarketBidResidualUnfreezes(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 1, "1.0")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Ask),
		Price: "50000", Quantity: "1.0",
	})

	mustIncrease(t, e, 2, 2, "80000")
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 2, Type: int32(Market), Side: int32(Bid),
		Volume: "80000",
	})

	// 50000 spent on the fill, 30000 unfrozen back.
	assert.Eventually(t, balanceIs(e, 2, 2, "30000", "0", "30000"), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, balanceIs(e, 2, 1, "1", "0", "1"), 2*time.Second, 10*time.Millisecond)

	// Market orders never rest.
	book, err := e.OrderBook(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestOrderBookUnknownSymbol(t *testing.T) {
	e, _ := newTestEngine(t)

	resp, err := e.OrderBook(context.Background(), 77, 20)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeNotFound, resp.Code)
}

func TestOrderIDsMonotonicPerShard(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "1000000")

	var last uint64
	for i := 0; i < 5; i++ {
		id := mustPlace(t, e, &protocol.PlaceOrderRequest{
			SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
			Price: "100", Quantity: "1.0",
		})
		assert.Greater(t, id, last, "order ids must be strictly increasing per shard")
		last = id
	}
}

func TestShutdownRejectsNewRequests(t *testing.T) {
	table := newTestTable(t)
	engine := NewEngine(table, nil, Options{SequencerShards: 1, MatcherShards: 1, ReplyTimeout: time.Second})
	engine.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(ctx))

	_, err := engine.GetAccount(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestConservationAcrossTrades(t *testing.T) {
	e, _ := newTestEngine(t)

	mustIncrease(t, e, 1, 2, "100000")
	mustIncrease(t, e, 2, 1, "2.0")

	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 1, Type: int32(Limit), Side: int32(Bid),
		Price: "50000", Quantity: "2.0",
	})
	mustPlace(t, e, &protocol.PlaceOrderRequest{
		SymbolID: 1, AccountID: 2, Type: int32(Limit), Side: int32(Ask),
		Price: "50000", Quantity: "2.0",
	})

	assert.Eventually(t, balanceIs(e, 1, 1, "2", "0", "2"), 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, balanceIs(e, 2, 2, "100000", "0", "100000"), 2*time.Second, 10*time.Millisecond)

	// Sum per currency is conserved: all credited BTC and USDT are still
	// held between the two accounts.
	sum := func(currency int32) string {
		total := dec("0")
		for _, account := range []int32{1, 2} {
			resp, err := e.GetAccount(context.Background(), account, currency)
			require.NoError(t, err)
			if b, ok := resp.Data[currency]; ok {
				total = total.Add(dec(b.Value))
			}
		}
		return total.String()
	}
	assert.Equal(t, "2", sum(1))
	assert.Equal(t, "100000", sum(2))
}
