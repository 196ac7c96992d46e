// Package handler exposes the storefront checkout API over HTTP.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/identity"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

// Handler routes API requests to the domain services.
type Handler struct {
	carts     *cart.Service
	discounts *discount.Engine
	assembler *order.Assembler
	finalizer *order.Finalizer
	receivers *receiver.Resolver
	auth      identity.Provider
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	carts *cart.Service,
	discounts *discount.Engine,
	assembler *order.Assembler,
	finalizer *order.Finalizer,
	receivers *receiver.Resolver,
	auth identity.Provider,
) *Handler {
	return &Handler{
		carts:     carts,
		discounts: discounts,
		assembler: assembler,
		finalizer: finalizer,
		receivers: receivers,
		auth:      auth,
	}
}

// Routes returns the API routing table. Every route requires authentication;
// probe endpoints are mounted separately by the server.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("POST /api/cart/items", h.addCartItem)
	mux.HandleFunc("PATCH /api/cart/items", h.setCartQuantity)
	mux.HandleFunc("POST /api/cart/items/delete", h.removeCartItem)
	mux.HandleFunc("PATCH /api/cart/selection", h.setCartSelection)
	mux.HandleFunc("PATCH /api/cart/discount", h.setCartDiscount)

	mux.HandleFunc("POST /api/discounts/preview", h.previewDiscount)

	mux.HandleFunc("POST /api/checkout/preview", h.previewCheckout)
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{display_id}", h.getOrder)
	mux.HandleFunc("GET /api/checkout/{display_id}", h.getCheckout)
	mux.HandleFunc("PUT /api/checkout/{display_id}", h.payOrder)

	mux.HandleFunc("GET /api/receiver", h.getReceiver)
	mux.HandleFunc("POST /api/receiver", h.upsertReceiver)

	return h.authenticate(mux)
}

// decode parses the JSON request body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}
