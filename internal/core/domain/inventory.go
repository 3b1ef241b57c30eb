package domain

import "github.com/shopspring/decimal"

// DecrementOutcome is the result of a conditional stock decrement. It is
// one of DecrementSuccess, DecrementConflict, DecrementInsufficientStock or
// DecrementNotFound.
type DecrementOutcome interface {
	isDecrementOutcome()
}

// DecrementSuccess carries the price read when the decrement was applied.
type DecrementSuccess struct {
	Price      decimal.Decimal
	NewVersion int64
}

// DecrementConflict means the product's version moved since the caller
// read it.
type DecrementConflict struct {
	CurrentVersion int64
}

type DecrementInsufficientStock struct {
	Available int
}

type DecrementNotFound struct{}

func (DecrementSuccess) isDecrementOutcome()           {}
func (DecrementConflict) isDecrementOutcome()          {}
func (DecrementInsufficientStock) isDecrementOutcome() {}
func (DecrementNotFound) isDecrementOutcome()          {}
