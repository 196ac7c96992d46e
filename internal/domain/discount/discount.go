// Package discount implements the KOL discount-code engine: eligibility
// validation, amount computation, and usage recording.
package discount

import (
	"context"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Typed rejections, in the order Evaluate checks them. The first failing
// check wins so callers always see a deterministic reason.
var (
	ErrMalformed      = errors.New("malformed discount code")
	ErrNotFound       = errors.New("discount code not found")
	ErrInactive       = errors.New("discount code is inactive")
	ErrAlreadyUsed    = errors.New("discount code already used by this user")
	ErrExpired        = errors.New("discount code expired")
	ErrExhausted      = errors.New("discount code usage limit reached")
	ErrBelowThreshold = errors.New("subtotal below discount threshold")
)

// codePattern is the accepted shape of a KOL code.
var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

var one = decimal.NewFromInt(1)

// Discount is an immutable rule set behind a redeemable code. Exactly one of
// the two modes is meaningful: Percent < 1 (percent mode, Percent is the
// fraction of the price the buyer still pays) or Price > 0 (flat mode).
type Discount struct {
	ID         int16
	Code       string
	Percent    decimal.Decimal
	Price      int64
	Threshold  int64
	UsageLimit int
	UsedCount  int
	Active     bool
	ExpiredAt  *time.Time
}

// Repository provides lookup and mutation of discount rules and their
// per-user usage records.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
	FindByID(ctx context.Context, id int16) (*Discount, error)
	// Deactivate persistently flips is_active to false.
	Deactivate(ctx context.Context, id int16) error
	HasUsed(ctx context.Context, userID uuid.UUID, id int16) (bool, error)
	// RecordUsage inserts the (user, discount) usage row. It reports false
	// without error when the row already exists.
	RecordUsage(ctx context.Context, userID uuid.UUID, id int16) (bool, error)
}

// Amount computes the discount for the given subtotal, clamped to the
// subtotal. Flat mode takes precedence; the modes are mutually exclusive by
// construction, so the order only matters for malformed rows.
func Amount(d *Discount, subtotal int64) int64 {
	if d == nil || subtotal <= 0 {
		return 0
	}
	if d.Price > 0 {
		return min(d.Price, subtotal)
	}
	if d.Percent.LessThan(one) {
		amount := decimal.NewFromInt(subtotal).
			Mul(one.Sub(d.Percent)).
			Round(0).
			IntPart()
		return min(amount, subtotal)
	}
	return 0
}

// ValidCodeShape reports whether code has the fixed KOL-code shape.
func ValidCodeShape(code string) bool {
	return codePattern.MatchString(code)
}
