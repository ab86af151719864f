package clob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardIndex(t *testing.T) {
	assert.Equal(t, 0, shardIndex(0, 10))
	assert.Equal(t, 1, shardIndex(1, 10))
	assert.Equal(t, 1, shardIndex(11, 10))
	assert.Equal(t, 9, shardIndex(19, 10))

	// Negative ids must still land inside [0, n).
	assert.Equal(t, 9, shardIndex(-1, 10))
	assert.Equal(t, 0, shardIndex(-10, 10))
}

func TestOrderIDScheme(t *testing.T) {
	table := newTestTable(t)

	a := newSequencer(3, 10, 10, table, nil, make(chan Settlement, 1), 1)
	b := newSequencer(7, 10, 10, table, nil, make(chan Settlement, 1), 1)

	var prev uint64
	for i := 0; i < 100; i++ {
		id := a.nextOrderID()
		assert.Greater(t, id, prev, "ids must be strictly monotonic within a shard")
		assert.EqualValues(t, 3, id%10, "ids must encode their shard")
		prev = id
	}

	// Two shards can never collide.
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		seen[b.nextOrderID()] = true
	}
	assert.Len(t, seen, 100)
	assert.False(t, seen[prev])
}

func TestTradeIDScheme(t *testing.T) {
	table := newTestTable(t)

	m := newMatcher(1, 2, 2, table, make(chan Command, 1), nil, NewDiscardPublisher())

	first := m.nextTradeID()
	second := m.nextTradeID()
	assert.Greater(t, second, first)
	assert.EqualValues(t, 1, first%2)
	assert.EqualValues(t, 1, second%2)
}

func TestParseHelpers(t *testing.T) {
	_, err := parseAmount("not-a-number")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// 19 fractional digits exceed the wire precision.
	_, err = parseAmount("0.0000000000000000001")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	d, err := parseAmount("0.000000000000000001")
	assert.NoError(t, err)
	assert.True(t, d.GreaterThan(dec("0")))

	_, err = parsePositive("0")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = parsePositive("-1")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	r, err := parseRate("")
	assert.NoError(t, err)
	assert.True(t, r.IsZero())
	_, err = parseRate("-0.001")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	r, err = parseRate("0.002")
	assert.NoError(t, err)
	assert.True(t, r.Equal(dec("0.002")))
}
