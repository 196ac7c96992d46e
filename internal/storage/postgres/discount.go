package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmart/storefront/internal/domain/discount"
)

const (
	findDiscountByCodeSQL = `SELECT id, kol_code, percent, price, threshold_price,
		usage_limit, used_count, is_active, expired_at
		FROM discounts WHERE UPPER(kol_code) = UPPER($1) AND state = 'active'`

	findDiscountByIDSQL = `SELECT id, kol_code, percent, price, threshold_price,
		usage_limit, used_count, is_active, expired_at
		FROM discounts WHERE id = $1 AND state = 'active'`

	deactivateDiscountSQL = `UPDATE discounts SET is_active = FALSE, updated_at = now()
		WHERE id = $1`

	hasUsedDiscountSQL = `SELECT EXISTS (
		SELECT 1 FROM user_discount_usage WHERE user_id = $1 AND discount_id = $2)`

	recordUsageSQL = `INSERT INTO user_discount_usage (id, user_id, discount_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, discount_id) DO NOTHING`

	incrementUsedCountSQL = `UPDATE discounts SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount by its code (case-insensitive). Returns
// discount.ErrNotFound when no such code exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	return r.find(ctx, findDiscountByCodeSQL, code)
}

// FindByID looks up a discount by id. Returns discount.ErrNotFound when no
// such row exists.
func (r *DiscountRepository) FindByID(ctx context.Context, id int16) (*discount.Discount, error) {
	return r.find(ctx, findDiscountByIDSQL, id)
}

func (r *DiscountRepository) find(ctx context.Context, sql string, arg any) (*discount.Discount, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding discount: %w", err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount: %w", err)
	}
	return &d, nil
}

// Deactivate persistently flips is_active to false.
func (r *DiscountRepository) Deactivate(ctx context.Context, id int16) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, deactivateDiscountSQL, id); err != nil {
		return fmt.Errorf("deactivating discount %d: %w", id, err)
	}
	return nil
}

// HasUsed reports whether the user has a usage row for the discount.
func (r *DiscountRepository) HasUsed(ctx context.Context, userID uuid.UUID, id int16) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var used bool
	if err := r.pool.QueryRow(ctx, hasUsedDiscountSQL, userID, id).Scan(&used); err != nil {
		return false, fmt.Errorf("checking discount usage: %w", err)
	}
	return used, nil
}

// RecordUsage inserts the (user, discount) usage row and bumps the shared
// counter, atomically. Losing the insert race reports false without error
// and leaves the counter untouched.
func (r *DiscountRepository) RecordUsage(ctx context.Context, userID uuid.UUID, id int16) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning usage record: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, recordUsageSQL, uuid.New(), userID, id)
	if err != nil {
		return false, fmt.Errorf("recording discount usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, incrementUsedCountSQL, id); err != nil {
		return false, fmt.Errorf("incrementing discount used count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing usage record: %w", err)
	}
	return true, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d          discount.Discount
		percent    decimal.Decimal
		usageLimit int32
		usedCount  int32
		expiredAt  *time.Time
	)
	err := row.Scan(&d.ID, &d.Code, &percent, &d.Price, &d.Threshold,
		&usageLimit, &usedCount, &d.Active, &expiredAt)
	d.Percent = percent
	d.UsageLimit = int(usageLimit)
	d.UsedCount = int(usedCount)
	d.ExpiredAt = expiredAt
	return d, err
}
