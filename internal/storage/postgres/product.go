package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, price, stock, enabled, image_url
		FROM products WHERE id = $1 AND state = 'active'`

	getProductsSQL = `SELECT id, name, price, stock, enabled, image_url
		FROM products WHERE id = ANY($1) AND state = 'active'`
)

var _ catalog.Store = (*ProductStore)(nil)

// ProductStore implements catalog.Store backed by PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore returns a ProductStore that uses the given pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// GetProduct looks up one live product by id. Returns catalog.ErrNotFound
// when no such product exists.
func (s *ProductStore) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("finding product %q: %w", id, err)
	}
	return &p, nil
}

// GetProducts looks up live products by id. Missing ids are silently
// dropped from the result.
func (s *ProductStore) GetProducts(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("finding products: %w", err)
	}
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p     catalog.Product
		stock int32
	)
	err := row.Scan(&p.ID, &p.Name, &p.Price, &stock, &p.Enabled, &p.ImageURL)
	p.Stock = int(stock)
	return p, err
}
