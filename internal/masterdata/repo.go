package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name FROM warehouses WHERE id = $1`, id).Scan(&w.ID, &w.Code, &w.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrNotFound
	}
	return w, err
}

func (r *repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var l Location
	var usage string
	err := r.pool.QueryRow(ctx, `SELECT id, warehouse_id, name, usage FROM stock_locations WHERE id = $1`, id).
		Scan(&l.ID, &l.WarehouseID, &l.Name, &usage)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	l.Usage = LocationUsage(usage)
	return l, err
}

func (r *repository) ListLocations(ctx context.Context, warehouseID int64, usage LocationUsage) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, warehouse_id, name, usage FROM stock_locations
WHERE warehouse_id = $1 AND usage = $2 AND active
ORDER BY id`, warehouseID, string(usage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locations []Location
	for rows.Next() {
		var l Location
		var u string
		if err := rows.Scan(&l.ID, &l.WarehouseID, &l.Name, &u); err != nil {
			return nil, err
		}
		l.Usage = LocationUsage(u)
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (r *repository) ProductCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, standard_cost FROM products WHERE id = ANY($1) AND standard_cost IS NOT NULL`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	costs := make(map[int64]decimal.Decimal, len(productIDs))
	for rows.Next() {
		var id int64
		var cost decimal.Decimal
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		costs[id] = cost
	}
	return costs, rows.Err()
}

func (r *repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, COALESCE(kpi_percent, 0) FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.KPIPercent); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repository) UpdateCategoryKPI(ctx context.Context, id int64, percent decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE categories SET kpi_percent = $2, updated_at = NOW() WHERE id = $1`, id, percent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
