package clob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restingOrder(id uint64, side Side, price, quantity string) *Order {
	return &Order{
		ID:       id,
		Side:     side,
		Price:    dec(price),
		Quantity: dec(quantity),
	}
}

func TestBidSidePriceOrdering(t *testing.T) {
	s := newBidSide()

	s.insert(restingOrder(1, Bid, "90", "1"))
	s.insert(restingOrder(2, Bid, "110", "1"))
	s.insert(restingOrder(3, Bid, "100", "1"))

	assert.Equal(t, 3, s.orderCount())
	assert.Equal(t, 3, s.depthCount())

	best := s.best()
	require.NotNil(t, best)
	assert.True(t, best.Price.Equal(dec("110")), "bids must iterate highest price first")

	levels := s.depth(10)
	require.Len(t, levels, 3)
	assert.True(t, levels[0].Price.Equal(dec("110")))
	assert.True(t, levels[1].Price.Equal(dec("100")))
	assert.True(t, levels[2].Price.Equal(dec("90")))
}

func TestAskSidePriceOrdering(t *testing.T) {
	s := newAskSide()

	s.insert(restingOrder(1, Ask, "110", "1"))
	s.insert(restingOrder(2, Ask, "90", "1"))
	s.insert(restingOrder(3, Ask, "100", "1"))

	best := s.best()
	require.NotNil(t, best)
	assert.True(t, best.Price.Equal(dec("90")), "asks must iterate lowest price first")
}

func TestSideFIFOWithinLevel(t *testing.T) {
	s := newAskSide()

	first := restingOrder(1, Ask, "100", "1")
	second := restingOrder(2, Ask, "100", "2")
	third := restingOrder(3, Ask, "100", "3")
	s.insert(first)
	s.insert(second)
	s.insert(third)

	assert.Equal(t, 1, s.depthCount())
	assert.Equal(t, 3, s.orderCount())

	assert.Same(t, first, s.best())
	s.remove(first)
	assert.Same(t, second, s.best())
	s.remove(second)
	assert.Same(t, third, s.best())
	s.remove(third)
	assert.Nil(t, s.best())
	assert.Equal(t, 0, s.depthCount())
}

func TestSideRemoveMiddleOrder(t *testing.T) {
	s := newBidSide()

	first := restingOrder(1, Bid, "100", "1")
	second := restingOrder(2, Bid, "100", "2")
	third := restingOrder(3, Bid, "100", "3")
	s.insert(first)
	s.insert(second)
	s.insert(third)

	s.remove(second)

	levels := s.depth(1)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Quantity.Equal(dec("4")), "level aggregate must drop the removed remaining")

	assert.Same(t, first, s.best())
	s.remove(first)
	assert.Same(t, third, s.best())
}

func TestSideAggregatesRemainingQuantity(t *testing.T) {
	s := newAskSide()

	o := restingOrder(1, Ask, "100", "5")
	o.Filled = dec("2")
	s.insert(o)

	levels := s.depth(1)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Quantity.Equal(dec("3")))

	s.onFill(o, dec("1"))
	o.Filled = dec("3")
	levels = s.depth(1)
	assert.True(t, levels[0].Quantity.Equal(dec("2")))
}

func TestSideDepthLimit(t *testing.T) {
	s := newBidSide()
	s.insert(restingOrder(1, Bid, "100", "1"))
	s.insert(restingOrder(2, Bid, "99", "1"))
	s.insert(restingOrder(3, Bid, "98", "1"))

	assert.Len(t, s.depth(2), 2)
	assert.Len(t, s.depth(0), 0)
	assert.Len(t, s.depth(10), 3)
}

func TestSideEquivalentPriceRepresentations(t *testing.T) {
	s := newBidSide()

	s.insert(restingOrder(1, Bid, "100", "1"))
	s.insert(restingOrder(2, Bid, "100.0", "1"))

	// 100 and 100.0 are the same price level.
	assert.Equal(t, 1, s.depthCount())
	levels := s.depth(1)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Quantity.Equal(dec("2")))
}
