package handler

import (
	"net/http"
	"strings"

	"github.com/oakmart/storefront/internal/domain/identity"
)

// authenticate resolves the bearer token into an identity and rejects the
// request when that fails. Handlers read the identity from the context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, r, identity.ErrUnauthorized)
			return
		}

		id, err := h.auth.Authenticate(token)
		if err != nil {
			writeError(w, r, identity.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

// caller returns the authenticated identity. The auth middleware guarantees
// it is present on every routed request.
func caller(r *http.Request) *identity.Identity {
	return identity.FromContext(r.Context())
}
