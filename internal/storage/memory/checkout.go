package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

var _ order.Checkout = (*Store)(nil)

// FailBefore injects an error returned by the named transaction step.
// Used by tests to prove that a failing step leaves no partial writes.
// Step names match the order.Tx method names.
func (s *Store) FailBefore(step string, err error) {
	s.lock()
	defer s.unlock()
	s.failStep, s.failErr = step, err
}

func (s *Store) stepErr(step string) error {
	if s.failStep == step {
		return s.failErr
	}
	return nil
}

// InTx implements order.Checkout. The callback mutates a clone of the whole
// store; the clone replaces the live state only when the callback succeeds.
// The store lock is held throughout, serializing concurrent checkouts.
func (s *Store) InTx(ctx context.Context, userID uuid.UUID, fn func(tx order.Tx) error) error {
	s.lock()
	defer s.unlock()

	tx := &memTx{store: s, data: s.data.clone(), userID: userID}
	if id, ok := tx.data.cartByUser[userID]; ok {
		tx.cartID, tx.hasCart = id, true
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.data = tx.data
	return nil
}

type memTx struct {
	store   *Store
	data    *state
	userID  uuid.UUID
	cartID  uuid.UUID
	hasCart bool
}

var _ order.Tx = (*memTx)(nil)

func (t *memTx) SelectedLines(context.Context) ([]cart.Line, error) {
	if err := t.store.stepErr("SelectedLines"); err != nil {
		return nil, err
	}
	if !t.hasCart {
		return nil, nil
	}
	return liveLines(t.data, t.cartID, true), nil
}

func (t *memTx) CartDiscount(context.Context) (*discount.Discount, error) {
	if err := t.store.stepErr("CartDiscount"); err != nil {
		return nil, err
	}
	if !t.hasCart {
		return nil, nil
	}
	c := t.data.carts[t.cartID]
	if c.DiscountID == nil {
		return nil, nil
	}
	d, ok := t.data.discounts[*c.DiscountID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *memTx) Receiver(context.Context) (*receiver.Receiver, error) {
	if err := t.store.stepErr("Receiver"); err != nil {
		return nil, err
	}
	rcv, ok := receiverOf(t.data, t.userID)
	if !ok {
		return nil, receiver.ErrNotFound
	}
	return &rcv, nil
}

func (t *memTx) Products(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	return t.products(ids)
}

func (t *memTx) LockProducts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	if err := t.store.stepErr("LockProducts"); err != nil {
		return nil, err
	}
	return t.products(ids)
}

func (t *memTx) products(ids []uuid.UUID) (map[uuid.UUID]catalog.Product, error) {
	out := make(map[uuid.UUID]catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.data.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) ReserveStock(_ context.Context, quantities map[uuid.UUID]int) error {
	if err := t.store.stepErr("ReserveStock"); err != nil {
		return err
	}
	for id, q := range quantities {
		p := t.data.products[id]
		p.Stock -= q
		t.data.products[id] = p
	}
	return nil
}

func (t *memTx) UpsertReceiver(_ context.Context, info receiver.Info) (*receiver.Receiver, error) {
	if err := t.store.stepErr("UpsertReceiver"); err != nil {
		return nil, err
	}
	rcv := upsertReceiver(t.data, t.userID, info)
	return &rcv, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *order.Order) error {
	if err := t.store.stepErr("InsertOrder"); err != nil {
		return err
	}
	t.data.orders[o.ID] = *o
	t.data.orderByDisplay[o.DisplayID] = o.ID
	return nil
}

func (t *memTx) InsertLines(_ context.Context, lines []order.Line) error {
	if err := t.store.stepErr("InsertLines"); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	o := t.data.orders[lines[0].OrderID]
	o.Lines = append([]order.Line(nil), lines...)
	t.data.orders[o.ID] = o
	return nil
}

func (t *memTx) ReleaseLines(_ context.Context, productIDs []uuid.UUID) error {
	if err := t.store.stepErr("ReleaseLines"); err != nil {
		return err
	}
	if !t.hasCart {
		return nil
	}
	for _, id := range productIDs {
		k := lineKey{t.cartID, id}
		l, ok := t.data.lines[k]
		if !ok || !l.Live() {
			continue
		}
		l.State = cart.LineRemoved
		l.Quantity = 0
		l.Selected = false
		t.data.lines[k] = l
	}
	return nil
}

func (t *memTx) ClearDiscount(context.Context) error {
	if err := t.store.stepErr("ClearDiscount"); err != nil {
		return err
	}
	if !t.hasCart {
		return nil
	}
	c := t.data.carts[t.cartID]
	c.DiscountID = nil
	t.data.carts[t.cartID] = c
	return nil
}
