package order

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

const checkoutAttempts = 3

// UsageRecorder records a committed discount redemption.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID uuid.UUID, discountID int16) error
}

// Placement is the outcome of a successfully created order.
type Placement struct {
	OrderID   uuid.UUID
	DisplayID string
}

// PreviewItem is one selected line projected for the order preview.
type PreviewItem struct {
	ProductID uuid.UUID
	Name      string
	Price     int64
	Quantity  int
	Subtotal  int64
}

// Preview is the read-only projection shown before checkout. Its totals use
// the same arithmetic CreateOrder will charge.
type Preview struct {
	Items          []PreviewItem
	Receiver       receiver.Receiver
	ProductsTotal  int64
	ShippingFee    int64
	DiscountAmount int64
	GrandTotal     int64
}

// Assembler converts a cart into a durable, immutable order while reserving
// inventory, all inside one transaction.
type Assembler struct {
	checkout    Checkout
	usage       UsageRecorder
	shippingFee int64
	// transient classifies retryable store failures (serialization
	// conflicts). The whole transaction is retried a bounded number of
	// times before the failure surfaces to the caller.
	transient func(error) bool
	now       func() time.Time
}

// NewAssembler creates an Assembler. transient may be nil to disable the
// retry loop (the memory store never produces serialization conflicts).
func NewAssembler(checkout Checkout, usage UsageRecorder, shippingFee int64, transient func(error) bool) *Assembler {
	if transient == nil {
		transient = func(error) bool { return false }
	}
	return &Assembler{
		checkout:    checkout,
		usage:       usage,
		shippingFee: shippingFee,
		transient:   transient,
		now:         time.Now,
	}
}

// CreateOrder runs the checkout procedure for the user's selected cart
// lines: lock and re-validate stock, reserve it, snapshot prices and the
// receiver, write the order, and clear the consumed lines — atomically.
// On any failure nothing is persisted.
func (a *Assembler) CreateOrder(ctx context.Context, userID uuid.UUID, info receiver.Info) (*Placement, error) {
	if err := receiver.Validate(info); err != nil {
		return nil, err
	}

	var (
		placement  *Placement
		discountID *int16
	)
	err := retry.Do(
		func() error {
			p, dID, err := a.createOnce(ctx, userID, info)
			if err != nil {
				return err
			}
			placement, discountID = p, dID
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(checkoutAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(a.transient),
	)
	if err != nil {
		return nil, err
	}

	// Usage is recorded only after the order has durably committed. A lost
	// race against a concurrent checkout of the same code is benign, and a
	// store failure here must not fail the already-created order.
	if discountID != nil {
		if err := a.usage.RecordUsage(ctx, userID, *discountID); err != nil {
			zctx.From(ctx).Warn("record discount usage after checkout",
				zap.Int16("discount_id", *discountID),
				zap.Error(err),
			)
		}
	}

	return placement, nil
}

func (a *Assembler) createOnce(ctx context.Context, userID uuid.UUID, info receiver.Info) (*Placement, *int16, error) {
	var (
		placement  Placement
		discountID *int16
	)
	err := a.checkout.InTx(ctx, userID, func(tx Tx) error {
		lines, err := tx.SelectedLines(ctx)
		if err != nil {
			return errors.Wrap(err, "load selected lines")
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		ids := make([]uuid.UUID, len(lines))
		quantities := make(map[uuid.UUID]int, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
			quantities[l.ProductID] = l.Quantity
		}

		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock products")
		}

		// Re-validate every line against the locked stock before touching
		// anything; a single violation aborts the whole transaction.
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return catalog.ErrNotFound
			}
			if l.Quantity > p.Stock {
				return &catalog.InsufficientStockError{
					ProductID: p.ID, Name: p.Name, Requested: l.Quantity, Available: p.Stock,
				}
			}
		}

		if err := tx.ReserveStock(ctx, quantities); err != nil {
			return errors.Wrap(err, "reserve stock")
		}

		// Totals use the cart-snapshotted prices, not a live re-read, so a
		// mid-checkout catalog price change never reaches the buyer.
		var productsTotal int64
		for _, l := range lines {
			productsTotal += l.Price * int64(l.Quantity)
		}

		d, err := tx.CartDiscount(ctx)
		if err != nil {
			return errors.Wrap(err, "load cart discount")
		}
		discountAmount := discount.Amount(d, productsTotal)
		if d != nil {
			discountID = &d.ID
		}

		grandTotal := productsTotal + a.shippingFee - discountAmount

		rcv, err := tx.UpsertReceiver(ctx, info)
		if err != nil {
			return errors.Wrap(err, "upsert receiver")
		}

		now := a.now()
		o := &Order{
			ID:             uuid.New(),
			DisplayID:      displayID(now),
			UserID:         userID,
			ReceiverID:     rcv.ID,
			Receiver:       *rcv,
			DiscountID:     discountID,
			DiscountAmount: discountAmount,
			ShippingFee:    a.shippingFee,
			ProductsTotal:  productsTotal,
			TotalPrice:     grandTotal,
			CreatedAt:      now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		orderLines := make([]Line, len(lines))
		for i, l := range lines {
			orderLines[i] = Line{
				OrderID:   o.ID,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				Price:     l.Price,
			}
		}
		if err := tx.InsertLines(ctx, orderLines); err != nil {
			return errors.Wrap(err, "insert order lines")
		}

		// Consumed lines are cleared inside the same transaction, and the
		// consumed set is frozen in order_lines, so later cart edits are
		// never mistaken for part of this order.
		if err := tx.ReleaseLines(ctx, ids); err != nil {
			return errors.Wrap(err, "release cart lines")
		}
		if err := tx.ClearDiscount(ctx); err != nil {
			return errors.Wrap(err, "clear cart discount")
		}

		placement = Placement{OrderID: o.ID, DisplayID: o.DisplayID}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &placement, discountID, nil
}

// Preview projects the selected lines, saved receiver, and cost summary
// without writing anything.
func (a *Assembler) Preview(ctx context.Context, userID uuid.UUID) (*Preview, error) {
	var pv Preview
	err := a.checkout.InTx(ctx, userID, func(tx Tx) error {
		rcv, err := tx.Receiver(ctx)
		if err != nil && !errors.Is(err, receiver.ErrNotFound) {
			return errors.Wrap(err, "load receiver")
		}
		if !rcv.Complete() {
			return ErrIncompleteReceiver
		}
		pv.Receiver = *rcv

		lines, err := tx.SelectedLines(ctx)
		if err != nil {
			return errors.Wrap(err, "load selected lines")
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		ids := make([]uuid.UUID, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "load products")
		}

		pv.Items = make([]PreviewItem, len(lines))
		for i, l := range lines {
			sub := l.Price * int64(l.Quantity)
			pv.Items[i] = PreviewItem{
				ProductID: l.ProductID,
				Name:      products[l.ProductID].Name,
				Price:     l.Price,
				Quantity:  l.Quantity,
				Subtotal:  sub,
			}
			pv.ProductsTotal += sub
		}

		d, err := tx.CartDiscount(ctx)
		if err != nil {
			return errors.Wrap(err, "load cart discount")
		}
		pv.DiscountAmount = discount.Amount(d, pv.ProductsTotal)
		pv.ShippingFee = a.shippingFee
		pv.GrandTotal = pv.ProductsTotal + pv.ShippingFee - pv.DiscountAmount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &pv, nil
}

// displayID derives the human-facing order id from the creation time. The
// xid suffix keeps concurrent same-second orders distinct.
func displayID(t time.Time) string {
	return t.Format("20060102150405") + "-" + xid.New().String()
}
