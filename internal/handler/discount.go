package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
)

// previewDiscount validates a code against the caller's currently selected
// cart lines and reports the amount it would shave off.
func (h *Handler) previewDiscount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := caller(r).UserID
	snap, err := h.carts.Snapshot(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var subtotal int64
	for _, l := range snap.Lines {
		if l.Selected {
			subtotal += l.Subtotal
		}
	}

	ev, err := h.discounts.Evaluate(r.Context(), req.Code, subtotal, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("discount_id", func(e *jx.Encoder) { e.Int32(int32(ev.DiscountID)) })
			e.Field("code", func(e *jx.Encoder) { e.Str(ev.Code) })
			e.Field("amount", func(e *jx.Encoder) { e.Int64(ev.Amount) })
			e.Field("threshold", func(e *jx.Encoder) { e.Int64(ev.Threshold) })
			if ev.ExpiredAt != nil {
				e.Field("expired_at", func(e *jx.Encoder) { e.Str(ev.ExpiredAt.Format(time.RFC3339)) })
			}
		})
	})
}
