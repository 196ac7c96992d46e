// Package catalog exposes the read-only product catalog the checkout core
// consumes. Catalog management itself lives outside this service.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a product does not exist or is disabled.
var ErrNotFound = errors.New("product not found")

// Product is the catalog projection the checkout pipeline needs: a price to
// snapshot, a stock level to reserve against, and an enabled flag.
type Product struct {
	ID       uuid.UUID
	Name     string
	Price    int64
	Stock    int
	Enabled  bool
	ImageURL string
}

// Store defines read operations against the product catalog.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}

// InsufficientStockError reports a quantity that exceeds the observed stock
// of a product at write time.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: requested %d, available %d",
		e.Name, e.Requested, e.Available)
}
