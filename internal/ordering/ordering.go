// Package ordering keeps sibling entities (cards in a column, columns in a board) in a
// strict, gap-tolerant integer order.
//
// Gaps between neighbours absorb inserts without touching siblings. When no integer
// remains between two neighbours the parent is renumbered to multiples of Step, keeping
// the logical sequence, and the new order is computed against the fresh numbering.
package ordering

import (
	"bytes"
	"sort"

	"github.com/gofrs/uuid/v5"
)

// Step is the spacing used for end appends and renumbering.
const Step int64 = 1000

// ComputeInsertionOrder returns the order value that places a new sibling at index
// among orders (ascending). index is clamped to [0, len(orders)].
//
// If the neighbours of index leave no integer between them, renumbered holds the new
// orders of the existing siblings (same length and logical sequence as orders) and the
// returned order fits the renumbered sequence. Otherwise renumbered is nil.
func ComputeInsertionOrder(orders []int64, index int) (order int64, renumbered []int64) {
	index = Clamp(index, len(orders))
	if v, ok := between(orders, index); ok {
		return v, nil
	}
	renumbered = Renumber(len(orders))
	v, _ := between(renumbered, index)
	return v, renumbered
}

// Renumber returns n orders spaced by Step, starting at Step.
func Renumber(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i+1) * Step
	}
	return out
}

// Clamp bounds index to [0, n].
func Clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

// between finds a value strictly between the neighbours of index.
func between(orders []int64, index int) (int64, bool) {
	n := len(orders)
	switch {
	case n == 0:
		return Step, true
	case index == n:
		return orders[n-1] + Step, true
	case index == 0:
		first := orders[0]
		if first <= 0 {
			return 0, false
		}
		return first / 2, true
	default:
		prev, next := orders[index-1], orders[index]
		if next-prev < 2 {
			return 0, false
		}
		return prev + (next-prev)/2, true
	}
}

// Sibling is an entity's identity and order within its parent.
type Sibling struct {
	ID    uuid.UUID
	Order int64
}

// Placement is the outcome of placing an entity among siblings.
type Placement struct {
	Order int64
	// Renumbered lists siblings whose order changed, in logical sequence with their
	// new values. Empty when the gap sufficed.
	Renumbered []Sibling
}

// Sort orders siblings ascending by order, then by id for a deterministic tie-break.
func Sort(siblings []Sibling) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].Order != siblings[j].Order {
			return siblings[i].Order < siblings[j].Order
		}
		return bytes.Compare(siblings[i].ID.Bytes(), siblings[j].ID.Bytes()) < 0
	})
}

// Place computes the order for inserting at index among siblings. siblings must not
// contain the entity being placed; it is sorted in place.
func Place(siblings []Sibling, index int) Placement {
	Sort(siblings)
	orders := make([]int64, len(siblings))
	for i, s := range siblings {
		orders[i] = s.Order
	}
	v, renumbered := ComputeInsertionOrder(orders, index)
	p := Placement{Order: v}
	for i, o := range renumbered {
		if siblings[i].Order != o {
			p.Renumbered = append(p.Renumbered, Sibling{ID: siblings[i].ID, Order: o})
		}
	}
	return p
}

// IndexOf returns the logical index of id among siblings sorted by Sort, or -1.
func IndexOf(siblings []Sibling, id uuid.UUID) int {
	Sort(siblings)
	for i, s := range siblings {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Without returns siblings minus id, preserving order.
func Without(siblings []Sibling, id uuid.UUID) []Sibling {
	out := make([]Sibling, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}
