package domain

import "time"

type Cart struct {
	ID     int64
	UserID int64
	Items  []CartItem
}

type CartItem struct {
	ID        int64
	CartID    int64
	ProductID int64
	Quantity  int
	Product   *Product
}

// CartLine is one (product, quantity) pair of a cart snapshot.
type CartLine struct {
	ProductID int64
	Quantity  int
}

// CartSnapshot is the read-only view of a cart taken at the start of a
// checkout attempt. Lines keep cart insertion order.
type CartSnapshot struct {
	CartID  int64
	UserID  int64
	Lines   []CartLine
	TakenAt time.Time
}

func (s CartSnapshot) Empty() bool {
	return len(s.Lines) == 0
}
