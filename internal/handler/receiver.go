package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/oakmart/storefront/internal/domain/receiver"
)

func (h *Handler) getReceiver(w http.ResponseWriter, r *http.Request) {
	rcv, err := h.receivers.Get(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeReceiver(e, rcv)
	})
}

func (h *Handler) upsertReceiver(w http.ResponseWriter, r *http.Request) {
	var req receiverPayload
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rcv, err := h.receivers.Upsert(r.Context(), caller(r).UserID, req.info())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeReceiver(e, rcv)
	})
}

func encodeReceiver(e *jx.Encoder, rcv *receiver.Receiver) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(rcv.Name) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(rcv.Phone) })
		e.Field("post_code", func(e *jx.Encoder) { e.Str(rcv.PostCode) })
		e.Field("address", func(e *jx.Encoder) { e.Str(rcv.Address) })
	})
}
