package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/cart"
)

const (
	getCartByUserSQL = `SELECT id, user_id, discount_id
		FROM carts WHERE user_id = $1 AND state = 'active'`

	createCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)`

	findCartLineSQL = `SELECT cart_id, product_id, quantity, price, is_selected, state, removed_at
		FROM cart_lines WHERE cart_id = $1 AND product_id = $2`

	insertCartLineSQL = `INSERT INTO cart_lines (cart_id, product_id, quantity, price, is_selected, state, removed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateCartLineSQL = `UPDATE cart_lines
		SET quantity = $3, price = $4, is_selected = $5, state = $6, removed_at = $7, updated_at = now()
		WHERE cart_id = $1 AND product_id = $2`

	deselectAllLinesSQL = `UPDATE cart_lines SET is_selected = FALSE, updated_at = now()
		WHERE cart_id = $1 AND state = 'active'`

	selectLinesSQL = `UPDATE cart_lines SET is_selected = TRUE, updated_at = now()
		WHERE cart_id = $1 AND product_id = ANY($2) AND state = 'active'`

	setCartDiscountSQL = `UPDATE carts SET discount_id = $2, updated_at = now() WHERE id = $1`

	liveLinesSQL = `SELECT cart_id, product_id, quantity, price, is_selected, state, removed_at
		FROM cart_lines WHERE cart_id = $1 AND state = 'active'
		ORDER BY created_at`
)

const (
	lineStateActive  = "active"
	lineStateRemoved = "removed"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByUser returns the user's cart, or cart.ErrNotFound.
func (r *CartRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, getCartByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("finding cart for user %q: %w", userID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[cart.Cart])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("finding cart for user %q: %w", userID, err)
	}
	return &c, nil
}

// Create inserts an empty cart for the user.
func (r *CartRepository) Create(ctx context.Context, userID uuid.UUID) (*cart.Cart, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	c := &cart.Cart{ID: uuid.New(), UserID: userID}
	if _, err := r.pool.Exec(ctx, createCartSQL, c.ID, c.UserID); err != nil {
		return nil, fmt.Errorf("creating cart for user %q: %w", userID, err)
	}
	return c, nil
}

// FindLine returns the line for (cart, product), including soft-deleted
// ones, or cart.ErrLineNotFound.
func (r *CartRepository) FindLine(ctx context.Context, cartID, productID uuid.UUID) (*cart.Line, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, findCartLineSQL, cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("finding cart line %q/%q: %w", cartID, productID, err)
	}

	l, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrLineNotFound
		}
		return nil, fmt.Errorf("finding cart line %q/%q: %w", cartID, productID, err)
	}
	return &l, nil
}

// InsertLine adds a new line.
func (r *CartRepository) InsertLine(ctx context.Context, line *cart.Line) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, insertCartLineSQL,
		line.CartID, line.ProductID, line.Quantity, line.Price,
		line.Selected, lineState(line.State), line.RemovedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting cart line %q/%q: %w", line.CartID, line.ProductID, err)
	}
	return nil
}

// UpdateLine persists quantity, price, selection, and lifecycle state.
func (r *CartRepository) UpdateLine(ctx context.Context, line *cart.Line) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, updateCartLineSQL,
		line.CartID, line.ProductID, line.Quantity, line.Price,
		line.Selected, lineState(line.State), line.RemovedAt,
	)
	if err != nil {
		return fmt.Errorf("updating cart line %q/%q: %w", line.CartID, line.ProductID, err)
	}
	return nil
}

// SelectOnly atomically clears is_selected on every live line of the cart,
// then sets it for the given products.
func (r *CartRepository) SelectOnly(ctx context.Context, cartID uuid.UUID, productIDs []uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning selection update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, deselectAllLinesSQL, cartID); err != nil {
		return fmt.Errorf("deselecting cart lines: %w", err)
	}
	if len(productIDs) > 0 {
		if _, err := tx.Exec(ctx, selectLinesSQL, cartID, productIDs); err != nil {
			return fmt.Errorf("selecting cart lines: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing selection update: %w", err)
	}
	return nil
}

// SetDiscount sets or clears the cart's discount pointer.
func (r *CartRepository) SetDiscount(ctx context.Context, cartID uuid.UUID, discountID *int16) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, setCartDiscountSQL, cartID, discountID); err != nil {
		return fmt.Errorf("setting cart discount: %w", err)
	}
	return nil
}

// LiveLines returns the cart's live lines in insertion order.
func (r *CartRepository) LiveLines(ctx context.Context, cartID uuid.UUID) ([]cart.Line, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, liveLinesSQL, cartID)
	if err != nil {
		return nil, fmt.Errorf("loading cart lines: %w", err)
	}

	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, fmt.Errorf("loading cart lines: %w", err)
	}
	return lines, nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l     cart.Line
		qty   int32
		state string
	)
	err := row.Scan(&l.CartID, &l.ProductID, &qty, &l.Price, &l.Selected, &state, &l.RemovedAt)
	l.Quantity = int(qty)
	if state == lineStateRemoved {
		l.State = cart.LineRemoved
	}
	return l, err
}

func lineState(s cart.LineState) string {
	if s == cart.LineRemoved {
		return lineStateRemoved
	}
	return lineStateActive
}
