package inventory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads stock levels from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListQuants returns on-hand rows for the given locations ordered for stable line seeding.
func (r *Repository) ListQuants(ctx context.Context, filter QuantFilter) ([]Quant, error) {
	sql := `SELECT q.product_id, p.category_id, q.location_id, q.lot_id, q.package_id, q.quantity
FROM stock_quants q
JOIN products p ON p.id = q.product_id
WHERE q.location_id = ANY($1)`
	if filter.Quantity == QuantityAvailable {
		sql += ` AND q.quantity > 0`
	}
	sql += ` ORDER BY q.location_id, q.product_id, q.lot_id NULLS FIRST, q.package_id NULLS FIRST`

	rows, err := r.pool.Query(ctx, sql, filter.LocationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quants []Quant
	for rows.Next() {
		var q Quant
		if err := rows.Scan(&q.ProductID, &q.CategoryID, &q.LocationID, &q.LotID, &q.PackageID, &q.Quantity); err != nil {
			return nil, err
		}
		quants = append(quants, q)
	}
	return quants, rows.Err()
}
