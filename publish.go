package clob

import (
	"sync"

	"github.com/shopspring/decimal"
)

// EventType classifies book events published to downstream consumers.
type EventType int8

const (
	EventOpen   EventType = iota // a limit order rested on the book
	EventMatch                   // a trade executed
	EventCancel                  // a resting order was cancelled
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMatch:
		return "match"
	case EventCancel:
		return "cancel"
	}
	return "unknown"
}

// BookEvent is one entry of a book's event stream. Seq increases by one per
// event within a book; consumers use it for ordering and gap detection. For
// match events Side is the taker side and the maker side lost the liquidity;
// for open and cancel events Side is the resting order's side.
type BookEvent struct {
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	SymbolID  int32           `json:"symbol_id"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Trade     *Trade          `json:"trade,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Publisher receives book events from Matcher workers.
//
// Publish is called from the owning Matcher's loop; implementations must
// either process synchronously or copy the events before returning, and must
// tolerate concurrent calls from different Matcher shards.
type Publisher interface {
	Publish(events ...*BookEvent)
}

// MemoryPublisher stores events in memory, useful for testing.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []*BookEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: make([]*BookEvent, 0)}
}

func (m *MemoryPublisher) Publish(events ...*BookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
}

// Count returns the number of events stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Get returns the event at the specified index.
func (m *MemoryPublisher) Get(index int) *BookEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[index]
}

// Trades returns the trades carried by match events, in publish order.
func (m *MemoryPublisher) Trades() []*Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trades := make([]*Trade, 0, len(m.events))
	for _, ev := range m.events {
		if ev.Type == EventMatch && ev.Trade != nil {
			trades = append(trades, ev.Trade)
		}
	}
	return trades
}

// DiscardPublisher drops all events, useful for benchmarking.
type DiscardPublisher struct{}

func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

func (p *DiscardPublisher) Publish(events ...*BookEvent) {
}

// MultiPublisher fans events out to several publishers in order.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(events ...*BookEvent) {
	for _, pub := range p.publishers {
		pub.Publish(events...)
	}
}
