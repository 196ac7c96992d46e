package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/oakmart/storefront/internal/domain/cart"
)

type cartItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.AddItem(r.Context(), caller(r).UserID, req.ProductID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.SetQuantity(r.Context(), caller(r).UserID, req.ProductID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID uuid.UUID `json:"product_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.RemoveItem(r.Context(), caller(r).UserID, req.ProductID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCartSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductIDs []uuid.UUID `json:"product_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.SetSelection(r.Context(), caller(r).UserID, req.ProductIDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setCartDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DiscountID *int16 `json:"discount_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.ApplyDiscount(r.Context(), caller(r).UserID, req.DiscountID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.carts.Snapshot(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCartSnapshot(e, snap)
	})
}

func encodeCartSnapshot(e *jx.Encoder, snap *cart.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range snap.Lines {
					encodeCartLine(e, l)
				}
			})
		})
		if snap.DiscountID != nil {
			e.Field("discount_id", func(e *jx.Encoder) { e.Int32(int32(*snap.DiscountID)) })
		}
		e.Field("total", func(e *jx.Encoder) { e.Int64(snap.Total) })
		e.Field("discount", func(e *jx.Encoder) { e.Int64(snap.Discount) })
		e.Field("final_price", func(e *jx.Encoder) { e.Int64(snap.FinalPrice) })
	})
}

func encodeCartLine(e *jx.Encoder, l cart.SnapshotLine) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID.String()) })
		e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
		if l.ImageURL != "" {
			e.Field("image_url", func(e *jx.Encoder) { e.Str(l.ImageURL) })
		}
		e.Field("price", func(e *jx.Encoder) { e.Int64(l.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Int64(l.Subtotal) })
		e.Field("selected", func(e *jx.Encoder) { e.Bool(l.Selected) })
	})
}
