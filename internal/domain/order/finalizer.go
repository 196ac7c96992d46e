package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const historyPageSize = 8

// Finalizer marks created orders as paid and serves the post-creation order
// reads (checkout summary, history, detail).
type Finalizer struct {
	orders Repository
	now    func() time.Time
}

// NewFinalizer creates a Finalizer over the order Repository.
func NewFinalizer(orders Repository) *Finalizer {
	return &Finalizer{orders: orders, now: time.Now}
}

// Pay finalizes the order: validates the payment method, flips the paid flag
// exactly once, and releases any cart lines still matching the order's own
// line snapshot. Paying twice fails with ErrAlreadyPaid.
func (f *Finalizer) Pay(ctx context.Context, userID uuid.UUID, displayID string, paymentMethod int16) error {
	if paymentMethod != PaymentCashOnDelivery {
		return ErrUnsupportedPaymentMethod
	}

	o, err := f.orders.GetByDisplayID(ctx, userID, displayID)
	if err != nil {
		return err
	}
	if o.IsPaid {
		return ErrAlreadyPaid
	}

	if err := f.orders.MarkPaid(ctx, o.ID, paymentMethod, f.now()); err != nil {
		return errors.Wrap(err, "mark paid")
	}

	// Creation already cleared the consumed lines, so this is normally a
	// no-op; it only matters for orders imported from stores that defer the
	// release to payment.
	if err := f.orders.ReleaseConsumedLines(ctx, userID, o.ID); err != nil {
		return errors.Wrap(err, "release consumed lines")
	}
	return nil
}

// Checkout returns the pre-payment summary for one of the user's orders.
func (f *Finalizer) Checkout(ctx context.Context, userID uuid.UUID, displayID string) (*CheckoutInfo, error) {
	return f.orders.CheckoutInfo(ctx, userID, displayID)
}

// History returns one fixed-size page of the user's orders, newest first.
// Pages are 1-based; out-of-range pages return an empty slice.
func (f *Finalizer) History(ctx context.Context, userID uuid.UUID, page int) ([]Summary, error) {
	if page < 1 {
		page = 1
	}
	return f.orders.ListByUser(ctx, userID, page, historyPageSize)
}

// Detail returns the full projection of one of the user's orders.
func (f *Finalizer) Detail(ctx context.Context, userID uuid.UUID, displayID string) (*Detail, error) {
	return f.orders.Detail(ctx, userID, displayID)
}
