package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, display_id, user_id, receiver_id,
		receiver_name, receiver_phone, receiver_post_code, receiver_address,
		discount_id, discount_amount, shipping_fee, products_total, total_price,
		is_paid, paid_at, is_ship, payment_method_id, created_at
		FROM orders WHERE user_id = $1 AND display_id = $2`

	getOrderLinesSQL = `SELECT ol.order_id, ol.product_id, p.name, ol.quantity, ol.price
		FROM order_lines ol JOIN products p ON p.id = ol.product_id
		WHERE ol.order_id = $1
		ORDER BY ol.created_at`

	markPaidSQL = `UPDATE orders
		SET is_paid = TRUE, paid_at = $2, payment_method_id = $3, updated_at = now()
		WHERE id = $1`

	releaseConsumedLinesSQL = `UPDATE cart_lines cl
		SET state = 'removed', removed_at = now(), quantity = 0, is_selected = FALSE,
			updated_at = now()
		FROM carts c, order_lines ol
		WHERE c.user_id = $1 AND cl.cart_id = c.id AND cl.state = 'active'
			AND ol.order_id = $2 AND ol.product_id = cl.product_id`

	listOrdersSQL = `SELECT o.display_id, o.created_at,
		COALESCE((SELECT p.name FROM order_lines ol JOIN products p ON p.id = ol.product_id
			WHERE ol.order_id = o.id ORDER BY ol.created_at LIMIT 1), ''),
		o.total_price, o.is_paid, o.is_ship
		FROM orders o WHERE o.user_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3`

	orderKOLCodeSQL = `SELECT COALESCE(d.kol_code, '')
		FROM orders o LEFT JOIN discounts d ON d.id = o.discount_id
		WHERE o.id = $1`

	checkoutInfoSQL = `SELECT o.display_id, o.total_price,
		o.receiver_id, o.receiver_name, o.receiver_phone, o.receiver_post_code, o.receiver_address,
		u.email
		FROM orders o JOIN users u ON u.id = o.user_id
		WHERE o.user_id = $1 AND o.display_id = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByDisplayID returns the user's order with its line snapshots, or
// order.ErrNotFound.
func (r *OrderRepository) GetByDisplayID(ctx context.Context, userID uuid.UUID, displayID string) (*order.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.get(ctx, userID, displayID)
}

func (r *OrderRepository) get(ctx context.Context, userID uuid.UUID, displayID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, userID, displayID)
	if err != nil {
		return nil, fmt.Errorf("finding order %q: %w", displayID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", displayID, err)
	}

	lineRows, err := r.pool.Query(ctx, getOrderLinesSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("loading lines for order %q: %w", displayID, err)
	}
	o.Lines, err = pgx.CollectRows(lineRows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("loading lines for order %q: %w", displayID, err)
	}
	return &o, nil
}

// MarkPaid stamps the payment method and flips is_paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentMethod int16, paidAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, markPaidSQL, orderID, paidAt, paymentMethod); err != nil {
		return fmt.Errorf("marking order %q paid: %w", orderID, err)
	}
	return nil
}

// ReleaseConsumedLines soft-deletes the user's live cart lines matching the
// order's own line snapshot. A no-op when creation already cleared them.
func (r *OrderRepository) ReleaseConsumedLines(ctx context.Context, userID, orderID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, releaseConsumedLinesSQL, userID, orderID); err != nil {
		return fmt.Errorf("releasing cart lines for order %q: %w", orderID, err)
	}
	return nil
}

// ListByUser returns one page of the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID, page, perPage int) ([]order.Summary, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	offset := (page - 1) * perPage
	rows, err := r.pool.Query(ctx, listOrdersSQL, userID, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}

	summaries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[order.Summary])
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return summaries, nil
}

// Detail returns the full projection of one order, including the redeemed
// code when a discount was applied.
func (r *OrderRepository) Detail(ctx context.Context, userID uuid.UUID, displayID string) (*order.Detail, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	o, err := r.get(ctx, userID, displayID)
	if err != nil {
		return nil, err
	}

	d := &order.Detail{Order: *o}
	if o.DiscountID != nil {
		if err := r.pool.QueryRow(ctx, orderKOLCodeSQL, o.ID).Scan(&d.KOLCode); err != nil {
			return nil, fmt.Errorf("resolving code for order %q: %w", displayID, err)
		}
	}
	return d, nil
}

// CheckoutInfo returns the pre-payment summary for one order.
func (r *OrderRepository) CheckoutInfo(ctx context.Context, userID uuid.UUID, displayID string) (*order.CheckoutInfo, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var info order.CheckoutInfo
	err := r.pool.QueryRow(ctx, checkoutInfoSQL, userID, displayID).Scan(
		&info.DisplayID, &info.TotalPrice,
		&info.Receiver.ID, &info.Receiver.Name, &info.Receiver.Phone,
		&info.Receiver.PostCode, &info.Receiver.Address,
		&info.UserEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("loading checkout info for order %q: %w", displayID, err)
	}
	return &info, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.DisplayID, &o.UserID, &o.ReceiverID,
		&o.Receiver.Name, &o.Receiver.Phone, &o.Receiver.PostCode, &o.Receiver.Address,
		&o.DiscountID, &o.DiscountAmount, &o.ShippingFee, &o.ProductsTotal, &o.TotalPrice,
		&o.IsPaid, &o.PaidAt, &o.IsShip, &o.PaymentMethod, &o.CreatedAt)
	o.Receiver.ID = o.ReceiverID
	return o, err
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l   order.Line
		qty int32
	)
	err := row.Scan(&l.OrderID, &l.ProductID, &l.Name, &qty, &l.Price)
	l.Quantity = int(qty)
	return l, err
}
