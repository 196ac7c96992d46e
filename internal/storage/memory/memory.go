// Package memory implements every storefront repository on in-process maps.
// It backs unit tests and local development without a database; a single
// mutex serializes all operations, and checkout transactions commit by
// swapping in a mutated clone of the whole state.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

type lineKey struct {
	CartID    uuid.UUID
	ProductID uuid.UUID
}

type usageKey struct {
	UserID     uuid.UUID
	DiscountID int16
}

type userRec struct {
	Email      string
	ReceiverID *uuid.UUID
}

type state struct {
	users          map[uuid.UUID]userRec
	products       map[uuid.UUID]catalog.Product
	discounts      map[int16]discount.Discount
	nextDiscountID int16
	usage          map[usageKey]time.Time
	carts          map[uuid.UUID]cart.Cart
	cartByUser     map[uuid.UUID]uuid.UUID
	lines          map[lineKey]cart.Line
	lineSeq        map[lineKey]int
	nextLineSeq    int
	receivers      map[uuid.UUID]receiver.Receiver
	orders         map[uuid.UUID]order.Order
	orderByDisplay map[string]uuid.UUID
}

func newState() *state {
	return &state{
		users:          make(map[uuid.UUID]userRec),
		products:       make(map[uuid.UUID]catalog.Product),
		discounts:      make(map[int16]discount.Discount),
		nextDiscountID: 1,
		usage:          make(map[usageKey]time.Time),
		carts:          make(map[uuid.UUID]cart.Cart),
		cartByUser:     make(map[uuid.UUID]uuid.UUID),
		lines:          make(map[lineKey]cart.Line),
		lineSeq:        make(map[lineKey]int),
		receivers:      make(map[uuid.UUID]receiver.Receiver),
		orders:         make(map[uuid.UUID]order.Order),
		orderByDisplay: make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:          make(map[uuid.UUID]userRec, len(s.users)),
		products:       make(map[uuid.UUID]catalog.Product, len(s.products)),
		discounts:      make(map[int16]discount.Discount, len(s.discounts)),
		nextDiscountID: s.nextDiscountID,
		usage:          make(map[usageKey]time.Time, len(s.usage)),
		carts:          make(map[uuid.UUID]cart.Cart, len(s.carts)),
		cartByUser:     make(map[uuid.UUID]uuid.UUID, len(s.cartByUser)),
		lines:          make(map[lineKey]cart.Line, len(s.lines)),
		lineSeq:        make(map[lineKey]int, len(s.lineSeq)),
		nextLineSeq:    s.nextLineSeq,
		receivers:      make(map[uuid.UUID]receiver.Receiver, len(s.receivers)),
		orders:         make(map[uuid.UUID]order.Order, len(s.orders)),
		orderByDisplay: make(map[string]uuid.UUID, len(s.orderByDisplay)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	for k, v := range s.usage {
		c.usage[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartByUser {
		c.cartByUser[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.lineSeq {
		c.lineSeq[k] = v
	}
	for k, v := range s.receivers {
		c.receivers[k] = v
	}
	for k, v := range s.orders {
		o := v
		o.Lines = append([]order.Line(nil), v.Lines...)
		c.orders[k] = o
	}
	for k, v := range s.orderByDisplay {
		c.orderByDisplay[k] = v
	}
	return c
}

// Store holds all storefront data in memory. The zero value is not usable;
// construct with NewStore.
type Store struct {
	mu   chan struct{} // buffered-one semaphore, reentrancy-free mutex
	data *state

	failStep string
	failErr  error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{
		mu:   make(chan struct{}, 1),
		data: newState(),
	}
	return s
}

func (s *Store) lock()   { s.mu <- struct{}{} }
func (s *Store) unlock() { <-s.mu }

// AddUser registers a user and returns its id.
func (s *Store) AddUser(email string) uuid.UUID {
	s.lock()
	defer s.unlock()
	id := uuid.New()
	s.data.users[id] = userRec{Email: email}
	return id
}

// AddProduct registers a catalog product.
func (s *Store) AddProduct(p catalog.Product) {
	s.lock()
	defer s.unlock()
	s.data.products[p.ID] = p
}

// SetStock overwrites a product's stock level.
func (s *Store) SetStock(id uuid.UUID, stock int) {
	s.lock()
	defer s.unlock()
	p := s.data.products[id]
	p.Stock = stock
	s.data.products[id] = p
}

// AddDiscount registers a discount rule and returns its assigned id.
func (s *Store) AddDiscount(d discount.Discount) int16 {
	s.lock()
	defer s.unlock()
	d.ID = s.data.nextDiscountID
	s.data.nextDiscountID++
	s.data.discounts[d.ID] = d
	return d.ID
}

// Stock returns a product's current stock level.
func (s *Store) Stock(id uuid.UUID) int {
	s.lock()
	defer s.unlock()
	return s.data.products[id].Stock
}

// Discount returns the stored discount row.
func (s *Store) Discount(id int16) discount.Discount {
	s.lock()
	defer s.unlock()
	return s.data.discounts[id]
}

var (
	_ catalog.Store       = (*Store)(nil)
	_ cart.Repository     = (*Store)(nil)
	_ discount.Repository = (*Store)(nil)
	_ order.Repository    = (*Store)(nil)
	_ receiver.Repository = receiverStore{}
)

// GetProduct implements catalog.Store.
func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	s.lock()
	defer s.unlock()
	p, ok := s.data.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// GetProducts implements catalog.Store. Missing ids are dropped.
func (s *Store) GetProducts(_ context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	s.lock()
	defer s.unlock()
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.data.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetByUser implements cart.Repository.
func (s *Store) GetByUser(_ context.Context, userID uuid.UUID) (*cart.Cart, error) {
	s.lock()
	defer s.unlock()
	id, ok := s.data.cartByUser[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	c := s.data.carts[id]
	return &c, nil
}

// Create implements cart.Repository.
func (s *Store) Create(_ context.Context, userID uuid.UUID) (*cart.Cart, error) {
	s.lock()
	defer s.unlock()
	c := cart.Cart{ID: uuid.New(), UserID: userID}
	s.data.carts[c.ID] = c
	s.data.cartByUser[userID] = c.ID
	return &c, nil
}

// FindLine implements cart.Repository.
func (s *Store) FindLine(_ context.Context, cartID, productID uuid.UUID) (*cart.Line, error) {
	s.lock()
	defer s.unlock()
	l, ok := s.data.lines[lineKey{cartID, productID}]
	if !ok {
		return nil, cart.ErrLineNotFound
	}
	return &l, nil
}

// InsertLine implements cart.Repository.
func (s *Store) InsertLine(_ context.Context, line *cart.Line) error {
	s.lock()
	defer s.unlock()
	k := lineKey{line.CartID, line.ProductID}
	s.data.lines[k] = *line
	s.data.lineSeq[k] = s.data.nextLineSeq
	s.data.nextLineSeq++
	return nil
}

// UpdateLine implements cart.Repository.
func (s *Store) UpdateLine(_ context.Context, line *cart.Line) error {
	s.lock()
	defer s.unlock()
	s.data.lines[lineKey{line.CartID, line.ProductID}] = *line
	return nil
}

// SelectOnly implements cart.Repository.
func (s *Store) SelectOnly(_ context.Context, cartID uuid.UUID, productIDs []uuid.UUID) error {
	s.lock()
	defer s.unlock()
	wanted := make(map[uuid.UUID]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	for k, l := range s.data.lines {
		if k.CartID != cartID || !l.Live() {
			continue
		}
		l.Selected = wanted[k.ProductID]
		s.data.lines[k] = l
	}
	return nil
}

// SetDiscount implements cart.Repository.
func (s *Store) SetDiscount(_ context.Context, cartID uuid.UUID, discountID *int16) error {
	s.lock()
	defer s.unlock()
	c := s.data.carts[cartID]
	c.DiscountID = discountID
	s.data.carts[cartID] = c
	return nil
}

// LiveLines implements cart.Repository. Lines come back in insertion order.
func (s *Store) LiveLines(_ context.Context, cartID uuid.UUID) ([]cart.Line, error) {
	s.lock()
	defer s.unlock()
	return liveLines(s.data, cartID, false), nil
}

func liveLines(st *state, cartID uuid.UUID, selectedOnly bool) []cart.Line {
	type seqLine struct {
		seq  int
		line cart.Line
	}
	var out []seqLine
	for k, l := range st.lines {
		if k.CartID != cartID || !l.Live() {
			continue
		}
		if selectedOnly && !l.Selected {
			continue
		}
		out = append(out, seqLine{st.lineSeq[k], l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	lines := make([]cart.Line, len(out))
	for i, sl := range out {
		lines[i] = sl.line
	}
	return lines
}

// FindByCode implements discount.Repository (case-insensitive).
func (s *Store) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	s.lock()
	defer s.unlock()
	for _, d := range s.data.discounts {
		if strings.EqualFold(d.Code, code) {
			return &d, nil
		}
	}
	return nil, discount.ErrNotFound
}

// FindByID implements discount.Repository.
func (s *Store) FindByID(_ context.Context, id int16) (*discount.Discount, error) {
	s.lock()
	defer s.unlock()
	d, ok := s.data.discounts[id]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return &d, nil
}

// Deactivate implements discount.Repository.
func (s *Store) Deactivate(_ context.Context, id int16) error {
	s.lock()
	defer s.unlock()
	d, ok := s.data.discounts[id]
	if !ok {
		return discount.ErrNotFound
	}
	d.Active = false
	s.data.discounts[id] = d
	return nil
}

// HasUsed implements discount.Repository.
func (s *Store) HasUsed(_ context.Context, userID uuid.UUID, id int16) (bool, error) {
	s.lock()
	defer s.unlock()
	_, used := s.data.usage[usageKey{userID, id}]
	return used, nil
}

// RecordUsage implements discount.Repository.
func (s *Store) RecordUsage(_ context.Context, userID uuid.UUID, id int16) (bool, error) {
	s.lock()
	defer s.unlock()
	k := usageKey{userID, id}
	if _, exists := s.data.usage[k]; exists {
		return false, nil
	}
	s.data.usage[k] = time.Now()
	d := s.data.discounts[id]
	d.UsedCount++
	s.data.discounts[id] = d
	return true, nil
}

// Receivers exposes the Store as a receiver.Repository. The wrapper exists
// because GetByUser is already taken by the cart repository.
func (s *Store) Receivers() receiver.Repository { return receiverStore{s} }

type receiverStore struct{ s *Store }

func (r receiverStore) GetByUser(_ context.Context, userID uuid.UUID) (*receiver.Receiver, error) {
	r.s.lock()
	defer r.s.unlock()
	rcv, ok := receiverOf(r.s.data, userID)
	if !ok {
		return nil, receiver.ErrNotFound
	}
	return &rcv, nil
}

func (r receiverStore) Upsert(_ context.Context, userID uuid.UUID, info receiver.Info) (*receiver.Receiver, error) {
	r.s.lock()
	defer r.s.unlock()
	rcv := upsertReceiver(r.s.data, userID, info)
	return &rcv, nil
}

func receiverOf(st *state, userID uuid.UUID) (receiver.Receiver, bool) {
	u, ok := st.users[userID]
	if !ok || u.ReceiverID == nil {
		return receiver.Receiver{}, false
	}
	rcv, ok := st.receivers[*u.ReceiverID]
	return rcv, ok
}

func upsertReceiver(st *state, userID uuid.UUID, info receiver.Info) receiver.Receiver {
	u := st.users[userID]
	rcv := receiver.Receiver{
		Name:     info.Name,
		Phone:    info.Phone,
		PostCode: info.PostCode,
		Address:  info.Address,
	}
	if u.ReceiverID == nil {
		rcv.ID = uuid.New()
		id := rcv.ID
		u.ReceiverID = &id
		st.users[userID] = u
	} else {
		rcv.ID = *u.ReceiverID
	}
	st.receivers[rcv.ID] = rcv
	return rcv
}

// GetByDisplayID implements order.Repository.
func (s *Store) GetByDisplayID(_ context.Context, userID uuid.UUID, displayID string) (*order.Order, error) {
	s.lock()
	defer s.unlock()
	o, ok := s.orderByDisplay(userID, displayID)
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (s *Store) orderByDisplay(userID uuid.UUID, displayID string) (order.Order, bool) {
	id, ok := s.data.orderByDisplay[displayID]
	if !ok {
		return order.Order{}, false
	}
	o := s.data.orders[id]
	if o.UserID != userID {
		return order.Order{}, false
	}
	o.Lines = append([]order.Line(nil), o.Lines...)
	for i := range o.Lines {
		o.Lines[i].Name = s.data.products[o.Lines[i].ProductID].Name
	}
	return o, true
}

// MarkPaid implements order.Repository.
func (s *Store) MarkPaid(_ context.Context, orderID uuid.UUID, paymentMethod int16, paidAt time.Time) error {
	s.lock()
	defer s.unlock()
	o, ok := s.data.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentMethod = &paymentMethod
	s.data.orders[orderID] = o
	return nil
}

// ReleaseConsumedLines implements order.Repository.
func (s *Store) ReleaseConsumedLines(_ context.Context, userID, orderID uuid.UUID) error {
	s.lock()
	defer s.unlock()
	cartID, ok := s.data.cartByUser[userID]
	if !ok {
		return nil
	}
	o := s.data.orders[orderID]
	now := time.Now()
	for _, ol := range o.Lines {
		k := lineKey{cartID, ol.ProductID}
		l, ok := s.data.lines[k]
		if !ok || !l.Live() {
			continue
		}
		l.State = cart.LineRemoved
		l.RemovedAt = &now
		l.Quantity = 0
		l.Selected = false
		s.data.lines[k] = l
	}
	return nil
}

// ListByUser implements order.Repository.
func (s *Store) ListByUser(_ context.Context, userID uuid.UUID, page, perPage int) ([]order.Summary, error) {
	s.lock()
	defer s.unlock()
	var all []order.Order
	for _, o := range s.data.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * perPage
	if start >= len(all) {
		return []order.Summary{}, nil
	}
	end := min(start+perPage, len(all))

	out := make([]order.Summary, 0, end-start)
	for _, o := range all[start:end] {
		var first string
		if len(o.Lines) > 0 {
			first = s.data.products[o.Lines[0].ProductID].Name
		}
		out = append(out, order.Summary{
			DisplayID:    o.DisplayID,
			CreatedAt:    o.CreatedAt,
			FirstProduct: first,
			TotalPrice:   o.TotalPrice,
			IsPaid:       o.IsPaid,
			IsShip:       o.IsShip,
		})
	}
	return out, nil
}

// Detail implements order.Repository.
func (s *Store) Detail(_ context.Context, userID uuid.UUID, displayID string) (*order.Detail, error) {
	s.lock()
	defer s.unlock()
	o, ok := s.orderByDisplay(userID, displayID)
	if !ok {
		return nil, order.ErrNotFound
	}
	d := order.Detail{Order: o}
	if o.DiscountID != nil {
		d.KOLCode = s.data.discounts[*o.DiscountID].Code
	}
	return &d, nil
}

// CheckoutInfo implements order.Repository.
func (s *Store) CheckoutInfo(_ context.Context, userID uuid.UUID, displayID string) (*order.CheckoutInfo, error) {
	s.lock()
	defer s.unlock()
	o, ok := s.orderByDisplay(userID, displayID)
	if !ok {
		return nil, order.ErrNotFound
	}
	return &order.CheckoutInfo{
		DisplayID:  o.DisplayID,
		TotalPrice: o.TotalPrice,
		Receiver:   o.Receiver,
		UserEmail:  s.data.users[userID].Email,
	}, nil
}
