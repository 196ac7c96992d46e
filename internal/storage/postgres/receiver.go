package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/storefront/internal/domain/receiver"
)

const (
	getReceiverByUserSQL = `SELECT r.id, r.name, r.phone, r.post_code, r.address
		FROM receivers r JOIN users u ON u.receiver_id = r.id
		WHERE u.id = $1`

	userReceiverIDSQL = `SELECT receiver_id FROM users WHERE id = $1`

	insertReceiverSQL = `INSERT INTO receivers (id, name, phone, post_code, address)
		VALUES ($1, $2, $3, $4, $5)`

	linkReceiverSQL = `UPDATE users SET receiver_id = $2, updated_at = now() WHERE id = $1`

	updateReceiverSQL = `UPDATE receivers
		SET name = $2, phone = $3, post_code = $4, address = $5, updated_at = now()
		WHERE id = $1`
)

var _ receiver.Repository = (*ReceiverRepository)(nil)

// ReceiverRepository implements receiver.Repository backed by PostgreSQL.
type ReceiverRepository struct {
	pool *pgxpool.Pool
}

// NewReceiverRepository returns a ReceiverRepository that uses the given pool.
func NewReceiverRepository(pool *pgxpool.Pool) *ReceiverRepository {
	return &ReceiverRepository{pool: pool}
}

// GetByUser returns the user's receiver, or receiver.ErrNotFound.
func (r *ReceiverRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*receiver.Receiver, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, getReceiverByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("finding receiver for user %q: %w", userID, err)
	}

	rcv, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[receiver.Receiver])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, receiver.ErrNotFound
		}
		return nil, fmt.Errorf("finding receiver for user %q: %w", userID, err)
	}
	return &rcv, nil
}

// Upsert overwrites the user's receiver in place, inserting and linking it
// on first use.
func (r *ReceiverRepository) Upsert(ctx context.Context, userID uuid.UUID, info receiver.Info) (*receiver.Receiver, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning receiver upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	rcv, err := upsertReceiver(ctx, tx, userID, info)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing receiver upsert: %w", err)
	}
	return rcv, nil
}

// upsertReceiver runs the upsert inside the caller's transaction. Shared
// with the checkout transaction, which snapshots the result onto the order.
func upsertReceiver(ctx context.Context, tx pgx.Tx, userID uuid.UUID, info receiver.Info) (*receiver.Receiver, error) {
	var receiverID *uuid.UUID
	if err := tx.QueryRow(ctx, userReceiverIDSQL, userID).Scan(&receiverID); err != nil {
		return nil, fmt.Errorf("resolving receiver for user %q: %w", userID, err)
	}

	rcv := &receiver.Receiver{
		Name:     info.Name,
		Phone:    info.Phone,
		PostCode: info.PostCode,
		Address:  info.Address,
	}

	if receiverID == nil {
		rcv.ID = uuid.New()
		if _, err := tx.Exec(ctx, insertReceiverSQL,
			rcv.ID, rcv.Name, rcv.Phone, rcv.PostCode, rcv.Address); err != nil {
			return nil, fmt.Errorf("inserting receiver: %w", err)
		}
		if _, err := tx.Exec(ctx, linkReceiverSQL, userID, rcv.ID); err != nil {
			return nil, fmt.Errorf("linking receiver to user: %w", err)
		}
		return rcv, nil
	}

	rcv.ID = *receiverID
	if _, err := tx.Exec(ctx, updateReceiverSQL,
		rcv.ID, rcv.Name, rcv.Phone, rcv.PostCode, rcv.Address); err != nil {
		return nil, fmt.Errorf("updating receiver: %w", err)
	}
	return rcv, nil
}
