// Package cart owns the mutable pre-order basket: line items, quantities,
// per-line price snapshots, selection flags, and soft deletion.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the user has no cart yet.
	ErrNotFound = errors.New("cart not found")
	// ErrLineNotFound is returned when the cart has no live line for the product.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// LineState tags the lifecycle of a soft-deletable cart line.
type LineState uint8

const (
	// LineActive lines are live and visible to snapshots and checkout.
	LineActive LineState = iota
	// LineRemoved lines are soft-deleted; a re-add resurrects them in place.
	LineRemoved
)

// Cart is the one-per-user basket. It carries at most one discount pointer.
type Cart struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DiscountID *int16
}

// Line is one product entry in a cart, keyed by (cart, product). Price is a
// snapshot captured at add time, not a live join to the catalog.
type Line struct {
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	Price     int64
	Selected  bool
	State     LineState
	RemovedAt *time.Time
}

// Live reports whether the line participates in snapshots and checkout.
func (l *Line) Live() bool { return l.State == LineActive }

// Repository defines persistence for carts and their lines.
type Repository interface {
	// GetByUser returns the user's cart, or ErrNotFound.
	GetByUser(ctx context.Context, userID uuid.UUID) (*Cart, error)
	// Create inserts an empty cart for the user.
	Create(ctx context.Context, userID uuid.UUID) (*Cart, error)
	// FindLine returns the line for (cart, product) including soft-deleted
	// ones, or ErrLineNotFound.
	FindLine(ctx context.Context, cartID, productID uuid.UUID) (*Line, error)
	// InsertLine adds a new line.
	InsertLine(ctx context.Context, line *Line) error
	// UpdateLine persists quantity, price, selection, and lifecycle state.
	UpdateLine(ctx context.Context, line *Line) error
	// SelectOnly atomically clears is_selected on every live line of the
	// cart, then sets it for the given products.
	SelectOnly(ctx context.Context, cartID uuid.UUID, productIDs []uuid.UUID) error
	// SetDiscount sets or clears the cart's discount pointer.
	SetDiscount(ctx context.Context, cartID uuid.UUID, discountID *int16) error
	// LiveLines returns the cart's live lines.
	LiveLines(ctx context.Context, cartID uuid.UUID) ([]Line, error)
}
