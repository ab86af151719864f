package clob

import (
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceLevel is one price point on a book side: a FIFO of resting orders
// linked through their intrusive pointers, plus the aggregated remaining
// quantity used by depth snapshots.
type priceLevel struct {
	price         decimal.Decimal
	totalQuantity decimal.Decimal
	head          *Order
	tail          *Order
	count         int
}

// LevelSnapshot is a point-in-time aggregate of one price level.
type LevelSnapshot struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// bookSide keeps one side of a book ordered by price priority: a skip list
// of price levels, best price at the front. Bids iterate descending, asks
// ascending.
type bookSide struct {
	side        Side
	totalOrders int
	levels      *skiplist.SkipList
}

func newBidSide() *bookSide {
	return &bookSide{
		side: Bid,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			// Highest price first.
			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
	}
}

func newAskSide() *bookSide {
	return &bookSide{
		side: Ask,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			// Lowest price first.
			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
	}
}

// insert appends the order to the tail of its price level, creating the
// level if it does not exist yet.
func (s *bookSide) insert(order *Order) {
	el := s.levels.Get(order.Price)
	if el != nil {
		unit, _ := el.Value.(*priceLevel)

		order.prev = unit.tail
		order.next = nil
		if unit.tail != nil {
			unit.tail.next = order
		}
		unit.tail = order
		if unit.head == nil {
			unit.head = order
		}

		unit.totalQuantity = unit.totalQuantity.Add(order.Remaining())
		unit.count++
	} else {
		unit := &priceLevel{
			price:         order.Price,
			totalQuantity: order.Remaining(),
			head:          order,
			tail:          order,
			count:         1,
		}
		order.next = nil
		order.prev = nil

		s.levels.Set(order.Price, unit)
	}

	s.totalOrders++
}

// remove unlinks the order from its price level and drops the level when it
// becomes empty. The order's remaining quantity leaves the aggregate.
func (s *bookSide) remove(order *Order) {
	el := s.levels.Get(order.Price)
	if el == nil {
		return
	}
	unit, _ := el.Value.(*priceLevel)

	if order.prev != nil {
		order.prev.next = order.next
	} else {
		unit.head = order.next
	}

	if order.next != nil {
		order.next.prev = order.prev
	} else {
		unit.tail = order.prev
	}

	order.next = nil
	order.prev = nil

	unit.totalQuantity = unit.totalQuantity.Sub(order.Remaining())
	unit.count--
	s.totalOrders--

	if unit.count == 0 {
		s.levels.RemoveElement(el)
	}
}

// onFill subtracts an executed quantity from the order's level aggregate.
// The caller removes the order separately once its remaining hits zero.
func (s *bookSide) onFill(order *Order, quantity decimal.Decimal) {
	el := s.levels.Get(order.Price)
	if el == nil {
		return
	}
	unit, _ := el.Value.(*priceLevel)
	unit.totalQuantity = unit.totalQuantity.Sub(quantity)
}

// best returns the order at the front of the side (best price, earliest
// sequence) without removing it.
func (s *bookSide) best() *Order {
	el := s.levels.Front()
	if el == nil {
		return nil
	}

	unit, _ := el.Value.(*priceLevel)
	return unit.head
}

// bestPrice returns the best price on the side.
func (s *bookSide) bestPrice() (decimal.Decimal, bool) {
	el := s.levels.Front()
	if el == nil {
		return decimal.Decimal{}, false
	}

	unit, _ := el.Value.(*priceLevel)
	return unit.price, true
}

// orderCount returns the number of resting orders on the side.
func (s *bookSide) orderCount() int {
	return s.totalOrders
}

// depthCount returns the number of price levels on the side.
func (s *bookSide) depthCount() int {
	return s.levels.Len()
}

// depth returns up to limit aggregated levels in priority order.
func (s *bookSide) depth(limit int32) []LevelSnapshot {
	if limit < 0 {
		limit = 0
	}
	result := make([]LevelSnapshot, 0, limit)

	el := s.levels.Front()
	var i int32
	for i < limit && el != nil {
		unit, _ := el.Value.(*priceLevel)
		result = append(result, LevelSnapshot{
			Price:    unit.price,
			Quantity: unit.totalQuantity,
		})

		el = el.Next()
		i++
	}

	return result
}
