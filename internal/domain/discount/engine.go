package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Evaluation is the successful outcome of validating a code against a
// candidate subtotal.
type Evaluation struct {
	DiscountID int16
	Code       string
	Amount     int64
	Threshold  int64
	ExpiredAt  *time.Time
}

// Engine validates discount codes and records their usage.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Evaluate validates code for the given user and candidate subtotal and
// computes the discount amount. Checks run in a fixed order and the first
// failure wins. Observing an expired or exhausted code persistently
// deactivates it, even when the caller is only previewing.
func (e *Engine) Evaluate(ctx context.Context, code string, subtotal int64, userID uuid.UUID) (*Evaluation, error) {
	if !ValidCodeShape(code) {
		return nil, ErrMalformed
	}

	d, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	if !d.Active {
		return nil, ErrInactive
	}

	used, err := e.repo.HasUsed(ctx, userID, d.ID)
	if err != nil {
		return nil, errors.Wrap(err, "check discount usage")
	}
	if used {
		return nil, ErrAlreadyUsed
	}

	if d.ExpiredAt != nil && d.ExpiredAt.Before(e.now()) {
		if err := e.repo.Deactivate(ctx, d.ID); err != nil {
			return nil, errors.Wrap(err, "deactivate expired discount")
		}
		return nil, ErrExpired
	}

	if d.UsageLimit > 0 && d.UsedCount >= d.UsageLimit {
		if err := e.repo.Deactivate(ctx, d.ID); err != nil {
			return nil, errors.Wrap(err, "deactivate exhausted discount")
		}
		return nil, ErrExhausted
	}

	if subtotal < d.Threshold {
		return nil, ErrBelowThreshold
	}

	return &Evaluation{
		DiscountID: d.ID,
		Code:       d.Code,
		Amount:     Amount(d, subtotal),
		Threshold:  d.Threshold,
		ExpiredAt:  d.ExpiredAt,
	}, nil
}

// RecordUsage stores the one-per-(user, discount) usage row. Losing the
// insert race to a concurrent checkout is a benign outcome: the row exists,
// which is all the single-use gate requires.
func (e *Engine) RecordUsage(ctx context.Context, userID uuid.UUID, id int16) error {
	if _, err := e.repo.RecordUsage(ctx, userID, id); err != nil {
		return errors.Wrap(err, "record discount usage")
	}
	return nil
}
