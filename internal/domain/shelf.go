package domain

import (
	"fmt"
	"time"
)

// ShelfCount is the number of physical shelves on the kiosk.
const ShelfCount = 5

// ShelfID addresses one shelf controller. Valid values are 1..ShelfCount.
type ShelfID int

// shelfRanges maps inclusive productId ranges to shelves.
var shelfRanges = [ShelfCount]struct{ lo, hi int }{
	{1, 4},
	{5, 8},
	{9, 16},
	{17, 24},
	{25, 32},
}

// Valid reports whether s addresses a real shelf.
func (s ShelfID) Valid() bool {
	return s >= 1 && s <= ShelfCount
}

func (s ShelfID) String() string {
	return fmt.Sprintf("shelf-%d", int(s))
}

// ShelfFor returns the shelf that owns productID. ok is false for ids that
// fall outside every range.
func ShelfFor(productID int) (ShelfID, bool) {
	for i, r := range shelfRanges {
		if productID >= r.lo && productID <= r.hi {
			return ShelfID(i + 1), true
		}
	}
	return 0, false
}

// ShelvesDescending lists every shelf from the highest id to the lowest.
func ShelvesDescending() []ShelfID {
	out := make([]ShelfID, 0, ShelfCount)
	for s := ShelfID(ShelfCount); s >= 1; s-- {
		out = append(out, s)
	}
	return out
}

// ShelfStatus is a read-only snapshot of one shelf's liveness.
type ShelfStatus struct {
	Shelf           ShelfID
	Alive           bool
	LastHeartbeatAt time.Time
}
