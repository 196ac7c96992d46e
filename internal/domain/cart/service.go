package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
)

// DiscountFinder is the slice of the discount repository the cart needs:
// confirming a pointed-at discount row exists. Eligibility is the discount
// engine's job, not the cart's.
type DiscountFinder interface {
	FindByID(ctx context.Context, id int16) (*discount.Discount, error)
}

// Service implements the cart operations. It enforces the stock invariant
// (a line's quantity never exceeds the catalog stock observed at write time)
// but leaves reservation to the order assembler.
type Service struct {
	carts     Repository
	products  catalog.Store
	discounts DiscountFinder
	now       func() time.Time
}

// NewService creates a cart Service with the required dependencies.
func NewService(carts Repository, products catalog.Store, discounts DiscountFinder) *Service {
	return &Service{
		carts:     carts,
		products:  products,
		discounts: discounts,
		now:       time.Now,
	}
}

// AddItem puts quantity units of a product into the user's cart, creating
// the cart lazily. A live line accumulates quantity; a soft-deleted line is
// resurrected with the requested quantity and a fresh price snapshot.
func (s *Service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > p.Stock {
		return &catalog.InsufficientStockError{
			ProductID: p.ID, Name: p.Name, Requested: quantity, Available: p.Stock,
		}
	}

	c, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		c, err = s.carts.Create(ctx, userID)
	}
	if err != nil {
		return errors.Wrap(err, "get cart")
	}

	line, err := s.carts.FindLine(ctx, c.ID, productID)
	switch {
	case errors.Is(err, ErrLineNotFound):
		return s.carts.InsertLine(ctx, &Line{
			CartID:    c.ID,
			ProductID: productID,
			Quantity:  quantity,
			Price:     p.Price,
			Selected:  true,
			State:     LineActive,
		})
	case err != nil:
		return errors.Wrap(err, "find cart line")
	}

	if line.Live() {
		total := line.Quantity + quantity
		if total > p.Stock {
			return &catalog.InsufficientStockError{
				ProductID: p.ID, Name: p.Name, Requested: total, Available: p.Stock,
			}
		}
		line.Quantity = total
		return s.carts.UpdateLine(ctx, line)
	}

	// Resurrect: the new add replaces the removed quantity, it does not
	// accumulate with it, and the price snapshot is retaken.
	line.Quantity = quantity
	line.Price = p.Price
	line.Selected = true
	line.State = LineActive
	line.RemovedAt = nil
	return s.carts.UpdateLine(ctx, line)
}

// SetQuantity replaces the quantity of a live line. The price snapshot is
// kept as captured at add time.
func (s *Service) SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	line, err := s.liveLine(ctx, userID, productID)
	if err != nil {
		return err
	}

	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > p.Stock {
		return &catalog.InsufficientStockError{
			ProductID: p.ID, Name: p.Name, Requested: quantity, Available: p.Stock,
		}
	}

	line.Quantity = quantity
	return s.carts.UpdateLine(ctx, line)
}

// RemoveItem soft-deletes a live line, zeroing its quantity. The row stays
// behind for resurrection on a later re-add.
func (s *Service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	line, err := s.liveLine(ctx, userID, productID)
	if err != nil {
		return err
	}

	now := s.now()
	line.State = LineRemoved
	line.RemovedAt = &now
	line.Quantity = 0
	line.Selected = false
	return s.carts.UpdateLine(ctx, line)
}

// SetSelection marks exactly the given products as selected for checkout.
// An empty list deselects everything.
func (s *Service) SetSelection(ctx context.Context, userID uuid.UUID, productIDs []uuid.UUID) error {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.carts.SelectOnly(ctx, c.ID, productIDs)
}

// ApplyDiscount sets or clears the cart's discount pointer. It only confirms
// the discount row exists; eligibility is evaluated by the discount engine
// at preview and re-computed arithmetically at checkout.
func (s *Service) ApplyDiscount(ctx context.Context, userID uuid.UUID, discountID *int16) error {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return err
	}

	if discountID == nil {
		return s.carts.SetDiscount(ctx, c.ID, nil)
	}

	if _, err := s.discounts.FindByID(ctx, *discountID); err != nil {
		return err
	}
	return s.carts.SetDiscount(ctx, c.ID, discountID)
}

// SnapshotLine is one live line projected for display.
type SnapshotLine struct {
	ProductID uuid.UUID
	Name      string
	ImageURL  string
	Price     int64
	Quantity  int
	Subtotal  int64
	Selected  bool
}

// Snapshot is the read-only cart projection used by the cart page.
type Snapshot struct {
	Lines      []SnapshotLine
	DiscountID *int16
	Total      int64
	Discount   int64
	FinalPrice int64
}

// Snapshot projects the live lines with per-line and cart subtotals and the
// resolved discount amount. The discount math is the engine's Amount
// formula, so the projection always matches what checkout will charge for
// the same inputs.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	lines, err := s.carts.LiveLines(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart lines")
	}

	snap := &Snapshot{DiscountID: c.DiscountID, Lines: make([]SnapshotLine, 0, len(lines))}
	for _, l := range lines {
		p, err := s.products.GetProduct(ctx, l.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				// The product was disabled after it entered the cart; the
				// line stays visible with its snapshot data.
				p = &catalog.Product{ID: l.ProductID}
			} else {
				return nil, errors.Wrap(err, "load product")
			}
		}
		sub := l.Price * int64(l.Quantity)
		snap.Lines = append(snap.Lines, SnapshotLine{
			ProductID: l.ProductID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			Price:     l.Price,
			Quantity:  l.Quantity,
			Subtotal:  sub,
			Selected:  l.Selected,
		})
		snap.Total += sub
	}

	if c.DiscountID != nil {
		d, err := s.discounts.FindByID(ctx, *c.DiscountID)
		if err != nil && !errors.Is(err, discount.ErrNotFound) {
			return nil, errors.Wrap(err, "load cart discount")
		}
		if err == nil {
			snap.Discount = discount.Amount(d, snap.Total)
		}
	}
	snap.FinalPrice = snap.Total - snap.Discount

	return snap, nil
}

func (s *Service) product(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrap(err, "get product")
	}
	if !p.Enabled {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func (s *Service) liveLine(ctx context.Context, userID, productID uuid.UUID) (*Line, error) {
	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	line, err := s.carts.FindLine(ctx, c.ID, productID)
	if err != nil {
		return nil, err
	}
	if !line.Live() {
		return nil, ErrLineNotFound
	}
	return line, nil
}
