package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithRequestID(t *testing.T, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var ctxID string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, ctxID
}

func TestRequestID_Generated(t *testing.T) {
	rec, ctxID := serveWithRequestID(t, "")

	id := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	assert.Equal(t, id, ctxID)
}

func TestRequestID_ReusesIncoming(t *testing.T) {
	rec, ctxID := serveWithRequestID(t, "upstream-id-42")

	assert.Equal(t, "upstream-id-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "upstream-id-42", ctxID)
}

func TestRequestID_ReplacesInvalid(t *testing.T) {
	for _, bad := range []string{
		"has\nnewline",
		"non-ascii-\xff",
		strings.Repeat("x", 129),
	} {
		rec, ctxID := serveWithRequestID(t, bad)

		id := rec.Header().Get("X-Request-ID")
		require.NotEmpty(t, id)
		assert.NotEqual(t, bad, id)
		assert.Equal(t, id, ctxID)
	}
}

func TestValidRequestID(t *testing.T) {
	assert.True(t, validRequestID("abc-123"))
	assert.False(t, validRequestID(""))
	assert.False(t, validRequestID(strings.Repeat("x", 129)))
	assert.False(t, validRequestID("tab\there"))
}
