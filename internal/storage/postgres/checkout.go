package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

const (
	selectedLinesSQL = `SELECT cart_id, product_id, quantity, price, is_selected, state, removed_at
		FROM cart_lines WHERE cart_id = $1 AND state = 'active' AND is_selected
		ORDER BY created_at`

	// Rows are locked in a fixed order so concurrent checkouts sharing
	// products cannot deadlock each other.
	lockProductsSQL = `SELECT id, name, price, stock, enabled, image_url
		FROM products WHERE id = ANY($1) AND state = 'active'
		ORDER BY id FOR UPDATE`

	reserveStockSQL = `UPDATE products p
		SET stock = p.stock - q.qty, updated_at = now()
		FROM (SELECT unnest($1::uuid[]) AS id, unnest($2::int[]) AS qty) q
		WHERE p.id = q.id`

	insertOrderSQL = `INSERT INTO orders (id, display_id, user_id, receiver_id,
		receiver_name, receiver_phone, receiver_post_code, receiver_address,
		discount_id, discount_amount, shipping_fee, products_total, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)`

	releaseLinesSQL = `UPDATE cart_lines
		SET state = 'removed', removed_at = now(), quantity = 0, is_selected = FALSE,
			updated_at = now()
		WHERE cart_id = $1 AND product_id = ANY($2) AND state = 'active'`

	clearCartDiscountSQL = `UPDATE carts SET discount_id = NULL, updated_at = now()
		WHERE id = $1`
)

var _ order.Checkout = (*CheckoutStore)(nil)

// CheckoutStore implements order.Checkout: one database transaction per
// checkout attempt, scoped to the user's cart.
type CheckoutStore struct {
	pool *pgxpool.Pool
}

// NewCheckoutStore returns a CheckoutStore that uses the given pool.
func NewCheckoutStore(pool *pgxpool.Pool) *CheckoutStore {
	return &CheckoutStore{pool: pool}
}

// InTx resolves the user's cart and runs fn inside one transaction. Nothing
// is committed unless fn returns nil.
func (s *CheckoutStore) InTx(ctx context.Context, userID uuid.UUID, fn func(tx order.Tx) error) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning checkout transaction: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	ct := &checkoutTx{tx: dbtx, userID: userID}
	err = dbtx.QueryRow(ctx, getCartByUserSQL, userID).Scan(&ct.cartID, &ct.cartUserID, &ct.discountID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No cart yet; reads return empty and fn decides how to fail.
	case err != nil:
		return fmt.Errorf("resolving cart for user %q: %w", userID, err)
	default:
		ct.hasCart = true
	}

	if err := fn(ct); err != nil {
		return err
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("committing checkout transaction: %w", err)
	}
	return nil
}

type checkoutTx struct {
	tx         pgx.Tx
	userID     uuid.UUID
	cartID     uuid.UUID
	cartUserID uuid.UUID
	discountID *int16
	hasCart    bool
}

var _ order.Tx = (*checkoutTx)(nil)

func (t *checkoutTx) SelectedLines(ctx context.Context) ([]cart.Line, error) {
	if !t.hasCart {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, selectedLinesSQL, t.cartID)
	if err != nil {
		return nil, fmt.Errorf("loading selected lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("loading selected lines: %w", err)
	}
	return lines, nil
}

func (t *checkoutTx) CartDiscount(ctx context.Context) (*discount.Discount, error) {
	if t.discountID == nil {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, findDiscountByIDSQL, *t.discountID)
	if err != nil {
		return nil, fmt.Errorf("loading cart discount: %w", err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cart discount: %w", err)
	}
	return &d, nil
}

func (t *checkoutTx) Receiver(ctx context.Context) (*receiver.Receiver, error) {
	rows, err := t.tx.Query(ctx, getReceiverByUserSQL, t.userID)
	if err != nil {
		return nil, fmt.Errorf("loading receiver: %w", err)
	}
	rcv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[receiver.Receiver])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, receiver.ErrNotFound
		}
		return nil, fmt.Errorf("loading receiver: %w", err)
	}
	return &rcv, nil
}

func (t *checkoutTx) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return t.products(ctx, getProductsSQL, ids)
}

func (t *checkoutTx) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return t.products(ctx, lockProductsSQL, ids)
}

func (t *checkoutTx) products(ctx context.Context, sql string, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	rows, err := t.tx.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	byID := make(map[uuid.UUID]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (t *checkoutTx) ReserveStock(ctx context.Context, quantities map[uuid.UUID]int) error {
	ids := make([]uuid.UUID, 0, len(quantities))
	counts := make([]int32, 0, len(quantities))
	for id, q := range quantities {
		ids = append(ids, id)
		counts = append(counts, int32(q))
	}
	if _, err := t.tx.Exec(ctx, reserveStockSQL, ids, counts); err != nil {
		return fmt.Errorf("reserving stock: %w", err)
	}
	return nil
}

func (t *checkoutTx) UpsertReceiver(ctx context.Context, info receiver.Info) (*receiver.Receiver, error) {
	return upsertReceiver(ctx, t.tx, t.userID, info)
}

func (t *checkoutTx) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.DisplayID, o.UserID, o.ReceiverID,
		o.Receiver.Name, o.Receiver.Phone, o.Receiver.PostCode, o.Receiver.Address,
		o.DiscountID, o.DiscountAmount, o.ShippingFee, o.ProductsTotal, o.TotalPrice,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order %q: %w", o.DisplayID, err)
	}
	return nil
}

func (t *checkoutTx) InsertLines(ctx context.Context, lines []order.Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(insertOrderLineSQL, l.OrderID, l.ProductID, l.Quantity, l.Price)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order lines: %w", err)
	}
	return nil
}

func (t *checkoutTx) ReleaseLines(ctx context.Context, productIDs []uuid.UUID) error {
	if !t.hasCart {
		return nil
	}
	if _, err := t.tx.Exec(ctx, releaseLinesSQL, t.cartID, productIDs); err != nil {
		return fmt.Errorf("releasing cart lines: %w", err)
	}
	return nil
}

func (t *checkoutTx) ClearDiscount(ctx context.Context) error {
	if !t.hasCart {
		return nil
	}
	if _, err := t.tx.Exec(ctx, clearCartDiscountSQL, t.cartID); err != nil {
		return fmt.Errorf("clearing cart discount: %w", err)
	}
	return nil
}
