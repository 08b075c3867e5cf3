package masterdata

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
)

// Warehouse represents a warehouse entity
type Warehouse struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// LocationUsage classifies a stock location.
type LocationUsage string

const (
	// UsageInternal marks a physical location inside a warehouse.
	UsageInternal LocationUsage = "internal"
	// UsageView marks a grouping location that never holds stock.
	UsageView LocationUsage = "view"
	// UsageTransit marks an inter-warehouse transit location.
	UsageTransit LocationUsage = "transit"
)

// Location represents a stock location.
type Location struct {
	ID          int64         `json:"id"`
	WarehouseID int64         `json:"warehouse_id"`
	Name        string        `json:"name"`
	Usage       LocationUsage `json:"usage"`
}

// Category is a product category with its accepted count variance.
type Category struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	KPIPercent decimal.Decimal `json:"kpi_percent"`
}

// Repository defines data access for master data lookups.
type Repository interface {
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context, warehouseID int64, usage LocationUsage) ([]Location, error)
	ProductCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)
	ListCategories(ctx context.Context) ([]Category, error)
	UpdateCategoryKPI(ctx context.Context, id int64, percent decimal.Decimal) error
}

var (
	// ErrNotFound indicates a missing master data record.
	ErrNotFound = fmt.Errorf("masterdata: %w", httpx.ErrNotFound)
	// ErrInvalidKPI indicates a KPI percent outside 0..100.
	ErrInvalidKPI = fmt.Errorf("masterdata: kpi percent must be between 0 and 100: %w", httpx.ErrValidation)
	// ErrInvalidID indicates a non-positive identifier.
	ErrInvalidID = fmt.Errorf("masterdata: invalid id: %w", httpx.ErrValidation)
)
