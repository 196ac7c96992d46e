package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/oakmart/storefront/internal/domain/order"
	"github.com/oakmart/storefront/internal/domain/receiver"
)

type receiverPayload struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	PostCode string `json:"post_code"`
	Address  string `json:"address"`
}

func (p receiverPayload) info() receiver.Info {
	return receiver.Info{
		Name:     p.Name,
		Phone:    p.Phone,
		PostCode: p.PostCode,
		Address:  p.Address,
	}
}

func (h *Handler) previewCheckout(w http.ResponseWriter, r *http.Request) {
	pv, err := h.assembler.Preview(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, it := range pv.Items {
						e.Obj(func(e *jx.Encoder) {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID.String()) })
							e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
							e.Field("price", func(e *jx.Encoder) { e.Int64(it.Price) })
							e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
							e.Field("subtotal", func(e *jx.Encoder) { e.Int64(it.Subtotal) })
						})
					}
				})
			})
			e.Field("receiver", func(e *jx.Encoder) { encodeReceiver(e, &pv.Receiver) })
			e.Field("products_total", func(e *jx.Encoder) { e.Int64(pv.ProductsTotal) })
			e.Field("shipping_fee", func(e *jx.Encoder) { e.Int64(pv.ShippingFee) })
			e.Field("discount_amount", func(e *jx.Encoder) { e.Int64(pv.DiscountAmount) })
			e.Field("grand_total", func(e *jx.Encoder) { e.Int64(pv.GrandTotal) })
		})
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Receiver receiverPayload `json:"receiver"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	placement, err := h.assembler.CreateOrder(r.Context(), caller(r).UserID, req.Receiver.info())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order_id", func(e *jx.Encoder) { e.Str(placement.OrderID.String()) })
			e.Field("display_id", func(e *jx.Encoder) { e.Str(placement.DisplayID) })
		})
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, errBadRequest)
			return
		}
		page = n
	}

	summaries, err := h.finalizer.History(r.Context(), caller(r).UserID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("page", func(e *jx.Encoder) { e.Int(page) })
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, s := range summaries {
						e.Obj(func(e *jx.Encoder) {
							e.Field("display_id", func(e *jx.Encoder) { e.Str(s.DisplayID) })
							e.Field("created_at", func(e *jx.Encoder) { e.Str(s.CreatedAt.Format(time.RFC3339)) })
							e.Field("first_product", func(e *jx.Encoder) { e.Str(s.FirstProduct) })
							e.Field("total_price", func(e *jx.Encoder) { e.Int64(s.TotalPrice) })
							e.Field("is_paid", func(e *jx.Encoder) { e.Bool(s.IsPaid) })
							e.Field("is_ship", func(e *jx.Encoder) { e.Bool(s.IsShip) })
						})
					}
				})
			})
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.finalizer.Detail(r.Context(), caller(r).UserID, r.PathValue("display_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrderDetail(e, detail)
	})
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	info, err := h.finalizer.Checkout(r.Context(), caller(r).UserID, r.PathValue("display_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("display_id", func(e *jx.Encoder) { e.Str(info.DisplayID) })
			e.Field("total_price", func(e *jx.Encoder) { e.Int64(info.TotalPrice) })
			e.Field("receiver", func(e *jx.Encoder) { encodeReceiver(e, &info.Receiver) })
			e.Field("user_email", func(e *jx.Encoder) { e.Str(info.UserEmail) })
		})
	})
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMethodID int16 `json:"payment_method_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.finalizer.Pay(r.Context(), caller(r).UserID, r.PathValue("display_id"), req.PaymentMethodID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeOrderDetail(e *jx.Encoder, d *order.Detail) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("display_id", func(e *jx.Encoder) { e.Str(d.DisplayID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(d.CreatedAt.Format(time.RFC3339)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range d.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID.String()) })
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Int64(l.Price) })
					})
				}
			})
		})
		e.Field("receiver", func(e *jx.Encoder) { encodeReceiver(e, &d.Receiver) })
		if d.KOLCode != "" {
			e.Field("kol_code", func(e *jx.Encoder) { e.Str(d.KOLCode) })
		}
		e.Field("discount_amount", func(e *jx.Encoder) { e.Int64(d.DiscountAmount) })
		e.Field("shipping_fee", func(e *jx.Encoder) { e.Int64(d.ShippingFee) })
		e.Field("products_total", func(e *jx.Encoder) { e.Int64(d.ProductsTotal) })
		e.Field("total_price", func(e *jx.Encoder) { e.Int64(d.TotalPrice) })
		e.Field("is_paid", func(e *jx.Encoder) { e.Bool(d.IsPaid) })
		if d.PaidAt != nil {
			e.Field("paid_at", func(e *jx.Encoder) { e.Str(d.PaidAt.Format(time.RFC3339)) })
		}
		e.Field("is_ship", func(e *jx.Encoder) { e.Bool(d.IsShip) })
	})
}
