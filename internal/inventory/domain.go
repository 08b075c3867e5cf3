package inventory

import (
	"errors"

	"github.com/shopspring/decimal"
)

// QuantityFilter selects which on-hand rows a stock query returns.
type QuantityFilter string

const (
	// QuantityAvailable keeps only rows with a strictly positive quantity.
	QuantityAvailable QuantityFilter = "available"
	// QuantityIncludeZero applies no quantity predicate.
	QuantityIncludeZero QuantityFilter = "include_zero"
)

// Valid reports whether the filter is a known mode.
func (f QuantityFilter) Valid() bool {
	return f == QuantityAvailable || f == QuantityIncludeZero
}

// Quant is the on-hand quantity of a product at one location, lot and package.
type Quant struct {
	ProductID  int64           `json:"product_id"`
	CategoryID int64           `json:"category_id"`
	LocationID int64           `json:"location_id"`
	LotID      *int64          `json:"lot_id,omitempty"`
	PackageID  *int64          `json:"package_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// QuantFilter narrows a quant listing.
type QuantFilter struct {
	LocationIDs []int64
	Quantity    QuantityFilter
}

var (
	// ErrLocationsRequired is returned when a quant query names no location.
	ErrLocationsRequired = errors.New("inventory: at least one location required")
	// ErrInvalidQuantityFilter indicates an unknown quantity filter.
	ErrInvalidQuantityFilter = errors.New("inventory: invalid quantity filter")
)
