package discount

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock repository ---

type mockRepo struct {
	byCode      map[string]*Discount
	used        map[uuid.UUID]map[int16]bool
	deactivated []int16
}

func newMockRepo(discounts ...*Discount) *mockRepo {
	byCode := make(map[string]*Discount, len(discounts))
	for _, d := range discounts {
		byCode[d.Code] = d
	}
	return &mockRepo{byCode: byCode, used: make(map[uuid.UUID]map[int16]bool)}
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Discount, error) {
	d, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) FindByID(_ context.Context, id int16) (*Discount, error) {
	for _, d := range m.byCode {
		if d.ID == id {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Deactivate(_ context.Context, id int16) error {
	m.deactivated = append(m.deactivated, id)
	for _, d := range m.byCode {
		if d.ID == id {
			d.Active = false
		}
	}
	return nil
}

func (m *mockRepo) HasUsed(_ context.Context, userID uuid.UUID, id int16) (bool, error) {
	return m.used[userID][id], nil
}

func (m *mockRepo) RecordUsage(_ context.Context, userID uuid.UUID, id int16) (bool, error) {
	if m.used[userID][id] {
		return false, nil
	}
	if m.used[userID] == nil {
		m.used[userID] = make(map[int16]bool)
	}
	m.used[userID][id] = true
	return true, nil
}

func percentOff(code string, off int64) *Discount {
	return &Discount{
		ID:         1,
		Code:       code,
		Percent:    decimal.New(100-off, -2),
		Active:     true,
		UsageLimit: 1,
	}
}

func newTestEngine(repo Repository, now time.Time) *Engine {
	e := NewEngine(repo)
	e.now = func() time.Time { return now }
	return e
}

// --- Amount ---

func TestAmount_PercentMode(t *testing.T) {
	// Buyer pays 90%, so 10% off 300 is 30.
	d := percentOff("SAVE10", 10)
	assert.Equal(t, int64(30), Amount(d, 300))
}

func TestAmount_PercentRounding(t *testing.T) {
	// 15% of 333 is 49.95, rounded half-up to 50.
	d := &Discount{Percent: decimal.RequireFromString("0.85")}
	assert.Equal(t, int64(50), Amount(d, 333))
}

func TestAmount_FlatMode(t *testing.T) {
	d := &Discount{Percent: decimal.NewFromInt(1), Price: 50}
	assert.Equal(t, int64(50), Amount(d, 300))
}

func TestAmount_FlatClampedToSubtotal(t *testing.T) {
	d := &Discount{Percent: decimal.NewFromInt(1), Price: 500}
	assert.Equal(t, int64(120), Amount(d, 120))
}

func TestAmount_NoDiscount(t *testing.T) {
	assert.Zero(t, Amount(nil, 300))
	assert.Zero(t, Amount(&Discount{Percent: decimal.NewFromInt(1)}, 300))
	assert.Zero(t, Amount(percentOff("SAVE10", 10), 0))
}

// --- Evaluate ---

func TestEvaluate_Success(t *testing.T) {
	repo := newMockRepo(percentOff("SAVE10", 10))
	e := newTestEngine(repo, time.Now())

	ev, err := e.Evaluate(context.Background(), "SAVE10", 300, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int16(1), ev.DiscountID)
	assert.Equal(t, int64(30), ev.Amount)
}

func TestEvaluate_MalformedCode(t *testing.T) {
	e := newTestEngine(newMockRepo(), time.Now())

	for _, code := range []string{"", "save10", "TOOLONG00", "AB-12", "ABC12"} {
		_, err := e.Evaluate(context.Background(), code, 300, uuid.New())
		require.ErrorIs(t, err, ErrMalformed, "code %q", code)
	}
}

func TestEvaluate_NotFound(t *testing.T) {
	e := newTestEngine(newMockRepo(), time.Now())

	_, err := e.Evaluate(context.Background(), "NOSUCH", 300, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvaluate_Inactive(t *testing.T) {
	d := percentOff("SAVE10", 10)
	d.Active = false
	e := newTestEngine(newMockRepo(d), time.Now())

	_, err := e.Evaluate(context.Background(), "SAVE10", 300, uuid.New())
	require.ErrorIs(t, err, ErrInactive)
}

func TestEvaluate_AlreadyUsed(t *testing.T) {
	repo := newMockRepo(percentOff("SAVE10", 10))
	e := newTestEngine(repo, time.Now())
	userID := uuid.New()

	_, err := repo.RecordUsage(context.Background(), userID, 1)
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "SAVE10", 300, userID)
	require.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestEvaluate_ExpiredDeactivates(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	d := percentOff("SAVE10", 10)
	d.ExpiredAt = &past
	repo := newMockRepo(d)
	e := newTestEngine(repo, now)

	_, err := e.Evaluate(context.Background(), "SAVE10", 300, uuid.New())
	require.ErrorIs(t, err, ErrExpired)
	// Lazy expiry must persist, not just reject.
	assert.Equal(t, []int16{1}, repo.deactivated)
}

func TestEvaluate_ExhaustedDeactivates(t *testing.T) {
	d := percentOff("SAVE10", 10)
	d.UsageLimit = 5
	d.UsedCount = 5
	repo := newMockRepo(d)
	e := newTestEngine(repo, time.Now())

	_, err := e.Evaluate(context.Background(), "SAVE10", 300, uuid.New())
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []int16{1}, repo.deactivated)
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	d := percentOff("SAVE10", 10)
	d.Threshold = 500
	e := newTestEngine(newMockRepo(d), time.Now())

	_, err := e.Evaluate(context.Background(), "SAVE10", 300, uuid.New())
	require.ErrorIs(t, err, ErrBelowThreshold)
}

func TestEvaluate_UsedCheckedBeforeExpiry(t *testing.T) {
	// A user who already redeemed sees "already used" even when the code has
	// since expired.
	now := time.Now()
	past := now.Add(-time.Hour)
	d := percentOff("SAVE10", 10)
	d.ExpiredAt = &past
	repo := newMockRepo(d)
	e := newTestEngine(repo, now)
	userID := uuid.New()

	_, err := repo.RecordUsage(context.Background(), userID, 1)
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "SAVE10", 300, userID)
	require.ErrorIs(t, err, ErrAlreadyUsed)
	assert.Empty(t, repo.deactivated)
}

func TestRecordUsage_DuplicateIsBenign(t *testing.T) {
	repo := newMockRepo(percentOff("SAVE10", 10))
	e := newTestEngine(repo, time.Now())
	userID := uuid.New()

	require.NoError(t, e.RecordUsage(context.Background(), userID, 1))
	require.NoError(t, e.RecordUsage(context.Background(), userID, 1))
}
