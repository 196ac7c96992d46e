package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/identity"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
	"github.com/oakmart/storefront/internal/handler"
	"github.com/oakmart/storefront/internal/storage/memory"
)

const shippingFee = 80

type testAPI struct {
	server *httptest.Server
	store  *memory.Store
	auth   *identity.TokenProvider
	token  string
	userID uuid.UUID
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewStore()
	engine := discount.NewEngine(store)
	auth := identity.NewTokenProvider([]byte("test-pepper"))

	h := handler.NewHandler(
		cart.NewService(store, store, store),
		engine,
		order.NewAssembler(store, engine, shippingFee, nil),
		order.NewFinalizer(store),
		receiver.NewResolver(store.Receivers()),
		auth,
	)

	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	userID := store.AddUser("shopper@example.com")
	return &testAPI{
		server: server,
		store:  store,
		auth:   auth,
		token:  auth.Issue(userID, identity.RoleUser),
		userID: userID,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testAPI) addProduct(name string, price int64, stock int) uuid.UUID {
	id := uuid.New()
	a.store.AddProduct(catalog.Product{ID: id, Name: name, Price: price, Stock: stock, Enabled: true})
	return id
}

func validReceiverPayload() map[string]any {
	return map[string]any{
		"name":      "Lin Mei",
		"phone":     "0912345678",
		"post_code": "100",
		"address":   "12 Harbor Road, Apt 3",
	}
}

func TestAPI_Unauthorized(t *testing.T) {
	api := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, api.server.URL+"/api/cart", nil)
	require.NoError(t, err)

	resp, err := api.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer bogus")
	resp2, err := api.server.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestAPI_CartFlow(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 1280, 10)

	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 2,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 2560, body["total"])

	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Kettle", item["name"])
	assert.EqualValues(t, 2, item["quantity"])

	resp = api.do(t, http.MethodPatch, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 5,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/cart/items/delete", map[string]any{
		"product_id": productID,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/cart", nil)
	body = decodeBody(t, resp)
	assert.Empty(t, body["items"])
}

func TestAPI_AddItem_InsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 1280, 2)

	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 5,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient_stock", decodeBody(t, resp)["code"])
}

func TestAPI_AddItem_UnknownProduct(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": uuid.New(), "quantity": 1,
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "product_not_found", decodeBody(t, resp)["code"])
}

func TestAPI_DiscountPreviewAndApply(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 100, 10)
	discountID := api.store.AddDiscount(discount.Discount{
		Code: "SAVE10", Percent: decimal.RequireFromString("0.90"), Active: true, UsageLimit: 10,
	})

	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 3,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/discounts/preview", map[string]any{"code": "SAVE10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, discountID, body["discount_id"])
	assert.EqualValues(t, 30, body["amount"])

	resp = api.do(t, http.MethodPatch, "/api/cart/discount", map[string]any{"discount_id": discountID})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/cart", nil)
	body = decodeBody(t, resp)
	assert.EqualValues(t, 30, body["discount"])
	assert.EqualValues(t, 270, body["final_price"])
}

func TestAPI_DiscountPreview_BadCode(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 100, 10)
	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 1,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/discounts/preview", map[string]any{"code": "bad"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed_code", decodeBody(t, resp)["code"])

	resp = api.do(t, http.MethodPost, "/api/discounts/preview", map[string]any{"code": "NOSUCH"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "discount_not_found", decodeBody(t, resp)["code"])
}

func TestAPI_CheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 100, 5)

	resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
		"product_id": productID, "quantity": 3,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Preview needs a saved receiver first.
	resp = api.do(t, http.MethodPost, "/api/checkout/preview", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "incomplete_receiver", decodeBody(t, resp)["code"])

	resp = api.do(t, http.MethodPost, "/api/receiver", validReceiverPayload())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/checkout/preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 300, body["products_total"])
	assert.EqualValues(t, shippingFee, body["shipping_fee"])
	assert.EqualValues(t, 380, body["grand_total"])

	resp = api.do(t, http.MethodPost, "/api/orders", map[string]any{
		"receiver": validReceiverPayload(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	displayID := decodeBody(t, resp)["display_id"].(string)
	require.NotEmpty(t, displayID)

	resp = api.do(t, http.MethodGet, "/api/checkout/"+displayID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.EqualValues(t, 380, body["total_price"])
	assert.Equal(t, "shopper@example.com", body["user_email"])

	resp = api.do(t, http.MethodPut, "/api/checkout/"+displayID, map[string]any{
		"payment_method_id": 1,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Second payment attempt conflicts.
	resp = api.do(t, http.MethodPut, "/api/checkout/"+displayID, map[string]any{
		"payment_method_id": 1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_paid", decodeBody(t, resp)["code"])

	resp = api.do(t, http.MethodGet, "/api/orders/"+displayID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["is_paid"])
	assert.EqualValues(t, 380, body["total_price"])
}

func TestAPI_CreateOrder_EmptyCart(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/api/orders", map[string]any{
		"receiver": validReceiverPayload(),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty_cart", decodeBody(t, resp)["code"])
}

func TestAPI_OrderHistory(t *testing.T) {
	api := newTestAPI(t)
	productID := api.addProduct("Kettle", 100, 100)

	for i := 0; i < 3; i++ {
		resp := api.do(t, http.MethodPost, "/api/cart/items", map[string]any{
			"product_id": productID, "quantity": 1,
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp = api.do(t, http.MethodPost, "/api/orders", map[string]any{
			"receiver": validReceiverPayload(),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := api.do(t, http.MethodGet, "/api/orders?page=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["orders"], 3)

	resp = api.do(t, http.MethodGet, "/api/orders?page=0", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Receiver(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/api/receiver", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/receiver", validReceiverPayload())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Lin Mei", decodeBody(t, resp)["name"])

	bad := validReceiverPayload()
	bad["phone"] = "12345"
	resp = api.do(t, http.MethodPost, "/api/receiver", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_receiver", body["code"])
	assert.Contains(t, fmt.Sprint(body["message"]), "phone")

	resp = api.do(t, http.MethodGet, "/api/receiver", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0912345678", decodeBody(t, resp)["phone"])
}
