// Package order implements the transactional checkout core: converting a
// cart's selected lines into an immutable order while reserving stock, and
// later marking that order paid.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

// PaymentCashOnDelivery is the single placeholder payment method.
const PaymentCashOnDelivery int16 = 1

var (
	// ErrNotFound is returned when the user has no matching order.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when the cart has no selected live lines.
	ErrEmptyCart = errors.New("no selected items in cart")
	// ErrIncompleteReceiver is returned by preview when the saved receiver
	// is missing or incomplete.
	ErrIncompleteReceiver = errors.New("receiver information is incomplete")
	// ErrAlreadyPaid is returned when finalizing an order twice. Checkout is
	// deliberately not idempotent; retries must observe this failure.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrUnsupportedPaymentMethod is returned for any method other than the
	// cash-on-delivery placeholder.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
)

// Order is an immutable snapshot created exactly once by the assembler.
// Only the payment and shipping flags change afterwards.
type Order struct {
	ID             uuid.UUID
	DisplayID      string
	UserID         uuid.UUID
	ReceiverID     uuid.UUID
	Receiver       receiver.Receiver
	DiscountID     *int16
	DiscountAmount int64
	ShippingFee    int64
	ProductsTotal  int64
	TotalPrice     int64
	IsPaid         bool
	PaidAt         *time.Time
	IsShip         bool
	PaymentMethod  *int16
	CreatedAt      time.Time
	Lines          []Line
}

// Line is an immutable snapshot of quantity and price at order creation.
type Line struct {
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Name      string
	Quantity  int
	Price     int64
}

// Summary is one row of a user's order history.
type Summary struct {
	DisplayID    string
	CreatedAt    time.Time
	FirstProduct string
	TotalPrice   int64
	IsPaid       bool
	IsShip       bool
}

// Detail is the full projection of a single order.
type Detail struct {
	Order
	KOLCode string
}

// CheckoutInfo is the pre-payment summary for an order.
type CheckoutInfo struct {
	DisplayID  string
	TotalPrice int64
	Receiver   receiver.Receiver
	UserEmail  string
}

// Checkout opens one atomic transaction scope over a user's cart. Nothing
// written inside the callback is visible unless the callback returns nil.
type Checkout interface {
	InTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a checkout transaction.
// Implementations must give at least read-committed isolation, and
// LockProducts must hold the returned rows against concurrent writers until
// the transaction ends.
type Tx interface {
	// SelectedLines returns the cart's selected live lines.
	SelectedLines(ctx context.Context) ([]cart.Line, error)
	// CartDiscount resolves the cart's discount pointer, nil when unset.
	CartDiscount(ctx context.Context) (*discount.Discount, error)
	// Receiver returns the user's saved receiver, or receiver.ErrNotFound.
	Receiver(ctx context.Context) (*receiver.Receiver, error)
	// Products reads products without locking, for read-only projections.
	Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	// LockProducts reads products with row locks held to transaction end.
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error)
	// ReserveStock decrements stock for every product in one batched write.
	ReserveStock(ctx context.Context, quantities map[uuid.UUID]int) error
	// UpsertReceiver overwrites the user's receiver in place and returns it.
	UpsertReceiver(ctx context.Context, info receiver.Info) (*receiver.Receiver, error)
	// InsertOrder persists the order row.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertLines persists the order's line snapshots.
	InsertLines(ctx context.Context, lines []Line) error
	// ReleaseLines soft-deletes the consumed cart lines.
	ReleaseLines(ctx context.Context, productIDs []uuid.UUID) error
	// ClearDiscount resets the cart's discount pointer.
	ClearDiscount(ctx context.Context) error
}

// Repository defines persistence for created orders.
type Repository interface {
	// GetByDisplayID returns the user's order, or ErrNotFound.
	GetByDisplayID(ctx context.Context, userID uuid.UUID, displayID string) (*Order, error)
	// MarkPaid stamps the payment method and flips is_paid.
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentMethod int16, paidAt time.Time) error
	// ReleaseConsumedLines soft-deletes the cart lines matching the order's
	// own line snapshot. A no-op when creation already cleared them.
	ReleaseConsumedLines(ctx context.Context, userID, orderID uuid.UUID) error
	// ListByUser returns a page of the user's orders, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, page, perPage int) ([]Summary, error)
	// Detail returns the full projection of one order.
	Detail(ctx context.Context, userID uuid.UUID, displayID string) (*Detail, error)
	// CheckoutInfo returns the pre-payment summary for one order.
	CheckoutInfo(ctx context.Context, userID uuid.UUID, displayID string) (*CheckoutInfo, error)
}
