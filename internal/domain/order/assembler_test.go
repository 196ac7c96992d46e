package order_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
	"github.com/oakmart/storefront/internal/storage/memory"
)

const shippingFee = 80

type fixture struct {
	store     *memory.Store
	carts     *cart.Service
	engine    *discount.Engine
	assembler *order.Assembler
	finalizer *order.Finalizer
	userID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	engine := discount.NewEngine(store)
	return &fixture{
		store:     store,
		carts:     cart.NewService(store, store, store),
		engine:    engine,
		assembler: order.NewAssembler(store, engine, shippingFee, nil),
		finalizer: order.NewFinalizer(store),
		userID:    store.AddUser("shopper@example.com"),
	}
}

func (f *fixture) addProduct(t *testing.T, name string, price int64, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.store.AddProduct(catalog.Product{ID: id, Name: name, Price: price, Stock: stock, Enabled: true})
	return id
}

func validReceiver() receiver.Info {
	return receiver.Info{
		Name:     "Lin Mei",
		Phone:    "0912345678",
		PostCode: "100",
		Address:  "12 Harbor Road, Apt 3",
	}
}

func TestCreateOrder_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	discountID := f.store.AddDiscount(discount.Discount{
		Code: "SAVE10", Percent: decimal.RequireFromString("0.90"), Active: true, UsageLimit: 10,
	})

	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 3))
	require.NoError(t, f.carts.ApplyDiscount(ctx, f.userID, &discountID))

	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)
	require.NotNil(t, placement)

	detail, err := f.finalizer.Detail(ctx, f.userID, placement.DisplayID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), detail.ProductsTotal)
	assert.Equal(t, int64(30), detail.DiscountAmount)
	assert.Equal(t, int64(shippingFee), detail.ShippingFee)
	assert.Equal(t, int64(350), detail.TotalPrice)
	assert.Equal(t, "SAVE10", detail.KOLCode)
	assert.False(t, detail.IsPaid)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, 3, detail.Lines[0].Quantity)
	assert.Equal(t, int64(100), detail.Lines[0].Price)
	assert.Equal(t, "Lin Mei", detail.Receiver.Name)

	// Stock was reserved.
	assert.Equal(t, 2, f.store.Stock(productID))

	// Consumed lines are gone and the discount pointer is cleared.
	snap, err := f.carts.Snapshot(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, snap.Lines)
	assert.Nil(t, snap.DiscountID)

	// Usage was recorded after commit.
	used, err := f.store.HasUsed(ctx, f.userID, discountID)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, 1, f.store.Discount(discountID).UsedCount)
}

func TestCreateOrder_DisplayIDShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))

	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{14}-`), placement.DisplayID)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.assembler.CreateOrder(context.Background(), f.userID, validReceiver())
	require.ErrorIs(t, err, order.ErrEmptyCart)
}

func TestCreateOrder_UnselectedLinesStay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "Kettle", 100, 5)
	p2 := f.addProduct(t, "Board", 200, 5)

	require.NoError(t, f.carts.AddItem(ctx, f.userID, p1, 1))
	require.NoError(t, f.carts.AddItem(ctx, f.userID, p2, 1))
	require.NoError(t, f.carts.SetSelection(ctx, f.userID, []uuid.UUID{p1}))

	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)

	detail, err := f.finalizer.Detail(ctx, f.userID, placement.DisplayID)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 1)
	assert.Equal(t, p1, detail.Lines[0].ProductID)
	assert.Equal(t, int64(100+shippingFee), detail.TotalPrice)

	// The unselected line survives for the next order.
	snap, err := f.carts.Snapshot(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, p2, snap.Lines[0].ProductID)
	assert.Equal(t, 5, f.store.Stock(p2))
}

func TestCreateOrder_InvalidReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))

	info := validReceiver()
	info.Phone = "123"

	_, err := f.assembler.CreateOrder(ctx, f.userID, info)
	var fieldErr *receiver.InvalidFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "phone", fieldErr.Field)

	// Nothing was consumed.
	assert.Equal(t, 5, f.store.Stock(productID))
}

func TestCreateOrder_StockShrankSinceAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 4))

	// Another channel drains the stock before checkout.
	f.store.SetStock(productID, 2)

	_, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	// The failed checkout reserved nothing and kept the cart intact.
	assert.Equal(t, 2, f.store.Stock(productID))
	snap, err := f.carts.Snapshot(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
}

func TestCreateOrder_FailedStepLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 3))

	boom := errors.New("disk full")
	f.store.FailBefore("InsertLines", boom)

	_, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.ErrorIs(t, err, boom)

	// The order row, stock reservation, and line release all rolled back.
	assert.Equal(t, 5, f.store.Stock(productID))
	snap, err := f.carts.Snapshot(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)

	summaries, err := f.finalizer.History(ctx, f.userID, 1)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestCreateOrder_ConcurrentOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)

	other := f.store.AddUser("rival@example.com")
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 3))
	require.NoError(t, f.carts.AddItem(ctx, other, productID, 3))

	results := make([]error, 2)
	var g errgroup.Group
	g.Go(func() error {
		_, results[0] = f.assembler.CreateOrder(ctx, f.userID, validReceiver())
		return nil
	})
	g.Go(func() error {
		_, results[1] = f.assembler.CreateOrder(ctx, other, validReceiver())
		return nil
	})
	require.NoError(t, g.Wait())

	var failures int
	for _, err := range results {
		if err != nil {
			var stockErr *catalog.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			failures++
		}
	}
	// 5 units cannot satisfy two 3-unit orders; exactly one must lose.
	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, f.store.Stock(productID))
}

func TestPreview_MatchesCheckoutTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	discountID := f.store.AddDiscount(discount.Discount{
		Code: "SAVE10", Percent: decimal.RequireFromString("0.90"), Active: true, UsageLimit: 10,
	})

	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 3))
	require.NoError(t, f.carts.ApplyDiscount(ctx, f.userID, &discountID))
	_, err := f.store.Receivers().Upsert(ctx, f.userID, validReceiver())
	require.NoError(t, err)

	pv, err := f.assembler.Preview(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pv.ProductsTotal)
	assert.Equal(t, int64(30), pv.DiscountAmount)
	assert.Equal(t, int64(350), pv.GrandTotal)
	require.Len(t, pv.Items, 1)
	assert.Equal(t, "Kettle", pv.Items[0].Name)

	// Preview writes nothing.
	assert.Equal(t, 5, f.store.Stock(productID))
}

func TestPreview_IncompleteReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))

	_, err := f.assembler.Preview(ctx, f.userID)
	require.ErrorIs(t, err, order.ErrIncompleteReceiver)
}

func TestPay_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))

	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)

	require.ErrorIs(t,
		f.finalizer.Pay(ctx, f.userID, placement.DisplayID, 2),
		order.ErrUnsupportedPaymentMethod)

	require.NoError(t, f.finalizer.Pay(ctx, f.userID, placement.DisplayID, order.PaymentCashOnDelivery))

	detail, err := f.finalizer.Detail(ctx, f.userID, placement.DisplayID)
	require.NoError(t, err)
	assert.True(t, detail.IsPaid)
	require.NotNil(t, detail.PaidAt)

	// Checkout is not idempotent: the second attempt must surface a conflict.
	require.ErrorIs(t,
		f.finalizer.Pay(ctx, f.userID, placement.DisplayID, order.PaymentCashOnDelivery),
		order.ErrAlreadyPaid)
}

func TestPay_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	err := f.finalizer.Pay(context.Background(), f.userID, "20990101000000-zzz", order.PaymentCashOnDelivery)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCheckout_Info(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 2))

	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)

	info, err := f.finalizer.Checkout(ctx, f.userID, placement.DisplayID)
	require.NoError(t, err)
	assert.Equal(t, placement.DisplayID, info.DisplayID)
	assert.Equal(t, int64(200+shippingFee), info.TotalPrice)
	assert.Equal(t, "shopper@example.com", info.UserEmail)
	assert.Equal(t, "Lin Mei", info.Receiver.Name)
}

func TestHistory_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 100)

	for range 10 {
		require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))
		_, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
		require.NoError(t, err)
	}

	page1, err := f.finalizer.History(ctx, f.userID, 1)
	require.NoError(t, err)
	assert.Len(t, page1, 8)

	page2, err := f.finalizer.History(ctx, f.userID, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	page3, err := f.finalizer.History(ctx, f.userID, 3)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestHistory_OtherUsersInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := f.addProduct(t, "Kettle", 100, 5)
	require.NoError(t, f.carts.AddItem(ctx, f.userID, productID, 1))
	placement, err := f.assembler.CreateOrder(ctx, f.userID, validReceiver())
	require.NoError(t, err)

	stranger := f.store.AddUser("stranger@example.com")
	_, err = f.finalizer.Detail(ctx, stranger, placement.DisplayID)
	require.ErrorIs(t, err, order.ErrNotFound)

	summaries, err := f.finalizer.History(ctx, stranger, 1)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
