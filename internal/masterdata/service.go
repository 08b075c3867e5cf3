package masterdata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcount/internal/platform/cache"
)

// Service answers master data lookups; category KPIs go through the cache.
type Service struct {
	repo   Repository
	cache  *cache.Cache
	logger *slog.Logger
}

// NewService creates a new master data service. A nil cache disables caching.
func NewService(repo Repository, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, logger: logger}
}

// Warehouse fetches a warehouse by id.
func (s *Service) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, ErrInvalidID
	}
	return s.repo.GetWarehouse(ctx, id)
}

// LocationWarehouse returns the warehouse a location belongs to.
func (s *Service) LocationWarehouse(ctx context.Context, locationID int64) (int64, error) {
	if locationID <= 0 {
		return 0, ErrInvalidID
	}
	loc, err := s.repo.GetLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}
	return loc.WarehouseID, nil
}

// InternalLocations lists the ids of internal locations under a warehouse.
// It reads through to the repository so a count snapshot never misses a new location.
func (s *Service) InternalLocations(ctx context.Context, warehouseID int64) ([]int64, error) {
	if warehouseID <= 0 {
		return nil, ErrInvalidID
	}
	locations, err := s.repo.ListLocations(ctx, warehouseID, UsageInternal)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(locations))
	for _, l := range locations {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

// UnitCosts returns the standard cost per product. Products without a cost are absent.
func (s *Service) UnitCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	if len(productIDs) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}
	return s.repo.ProductCosts(ctx, productIDs)
}

// Categories lists categories with their KPI percent.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	key, err := s.cache.BuildKey(ctx, "categories")
	if err != nil {
		return nil, fmt.Errorf("masterdata: cache key: %w", err)
	}
	var categories []Category
	err = s.cache.FetchJSON(ctx, key, &categories, func(ctx context.Context) (any, error) {
		return s.repo.ListCategories(ctx)
	})
	return categories, err
}

// CategoryKPIs returns the accepted variance percent per requested category.
func (s *Service) CategoryKPIs(ctx context.Context, categoryIDs []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(categoryIDs))
	if len(categoryIDs) == 0 {
		return out, nil
	}
	categories, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int64]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = struct{}{}
	}
	for _, c := range categories {
		if _, ok := wanted[c.ID]; ok {
			out[c.ID] = c.KPIPercent
		}
	}
	return out, nil
}

// SetCategoryKPI updates a category's KPI percent and invalidates cached lookups.
func (s *Service) SetCategoryKPI(ctx context.Context, categoryID int64, percent decimal.Decimal) error {
	if categoryID <= 0 {
		return ErrInvalidID
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidKPI
	}
	if err := s.repo.UpdateCategoryKPI(ctx, categoryID, percent); err != nil {
		return err
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("masterdata cache bump", slog.Any("error", err))
	}
	return nil
}
