package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCategory = "General"

// PriceScale is the number of decimal places a price may carry, matching
// the DECIMAL(12,2) price columns.
const PriceScale = 2

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Version       int64           `json:"version"` // optimistic locking
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type PriceSort string

const (
	PriceSortNone PriceSort = ""
	PriceSortAsc  PriceSort = "asc"
	PriceSortDesc PriceSort = "desc"
)

func (s PriceSort) Valid() bool {
	switch s {
	case PriceSortNone, PriceSortAsc, PriceSortDesc:
		return true
	}
	return false
}

// ProductFilter narrows a catalog listing. The zero value lists everything
// in id order.
type ProductFilter struct {
	Category    string
	SortByPrice PriceSort
}

func (f ProductFilter) Unfiltered() bool {
	return f.Category == "" && f.SortByPrice == PriceSortNone
}
