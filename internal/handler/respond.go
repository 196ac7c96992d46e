package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/oakmart/storefront/internal/domain/cart"
	"github.com/oakmart/storefront/internal/domain/catalog"
	"github.com/oakmart/storefront/internal/domain/discount"
	"github.com/oakmart/storefront/internal/domain/identity"
	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

// writeJSON encodes the response built by fn into the response writer.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps domain errors onto the API's {code, message} error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		// Internal details stay out of the response body.
		msg = "internal error"
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func classifyError(err error) (status int, code string) {
	var (
		stockErr *catalog.InsufficientStockError
		fieldErr *receiver.InvalidFieldError
	)
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"

	case errors.As(err, &stockErr):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, order.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, discount.ErrAlreadyUsed):
		return http.StatusConflict, "discount_already_used"
	case errors.Is(err, discount.ErrExhausted):
		return http.StatusConflict, "discount_exhausted"

	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, cart.ErrNotFound), errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound, "cart_item_not_found"
	case errors.Is(err, discount.ErrNotFound):
		return http.StatusNotFound, "discount_not_found"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, receiver.ErrNotFound):
		return http.StatusNotFound, "receiver_not_found"

	case errors.As(err, &fieldErr):
		return http.StatusBadRequest, "invalid_receiver"
	case errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest, "empty_cart"
	case errors.Is(err, order.ErrIncompleteReceiver):
		return http.StatusBadRequest, "incomplete_receiver"
	case errors.Is(err, order.ErrUnsupportedPaymentMethod):
		return http.StatusBadRequest, "unsupported_payment_method"
	case errors.Is(err, discount.ErrMalformed):
		return http.StatusBadRequest, "malformed_code"
	case errors.Is(err, discount.ErrInactive):
		return http.StatusBadRequest, "discount_inactive"
	case errors.Is(err, discount.ErrExpired):
		return http.StatusBadRequest, "discount_expired"
	case errors.Is(err, discount.ErrBelowThreshold):
		return http.StatusBadRequest, "below_threshold"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}

// errBadRequest wraps malformed request payload failures.
var errBadRequest = errors.New("bad request")
