package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
})

func serve(h http.Handler, method, origin string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/threads", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rr := serve(h, "GET", "", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, rr.Header().Get("X-Request-ID"), seen)

	rr = serve(h, "GET", "", map[string]string{"X-Request-ID": "review-42"})
	assert.Equal(t, "review-42", rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "review-42", seen)

	long := strings.Repeat("x", 200)
	rr = serve(h, "GET", "", map[string]string{"X-Request-ID": long})
	assert.NotEqual(t, long, rr.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"deny when unconfigured", nil, "http://localhost:3000", ""},
		{"wildcard", []string{"*"}, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://review.local"}, "http://review.local", "http://review.local"},
		{"unlisted origin", []string{"http://review.local"}, "http://evil.com", ""},
		{"same origin", []string{"http://review.local"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(corsMiddleware(okHandler, tt.allowed), "GET", tt.origin, nil)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.want, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "X-Request-ID", rr.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	rr := serve(corsMiddleware(okHandler, nil), "OPTIONS", "http://localhost:3000", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map in handler")
	}), testLog())

	rr := serve(h, "GET", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	shape := decode[ErrorShape](t, rr.Body.Bytes())
	assert.Equal(t, "internal", shape.Code)
}

func TestRecoverMiddleware_RepanicsAbort(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}), testLog())

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { serve(h, "GET", "", nil) })
}

func TestStatusWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	sw.WriteHeader(http.StatusAccepted)
	sw.WriteHeader(http.StatusTeapot)
	n, err := sw.Write([]byte("queued"))
	require.NoError(t, err)

	assert.Equal(t, 6, n)
	assert.Equal(t, http.StatusAccepted, sw.status, "first status wins")
	assert.Equal(t, 6, sw.bytes)
	assert.Equal(t, rr, sw.Unwrap())

	_, _, err = sw.Hijack()
	assert.Error(t, err, "recorders cannot be hijacked")
}

func TestWithMiddleware(t *testing.T) {
	h := withMiddleware(okHandler, testLog(), []string{"http://review.local"})

	rr := serve(h, "GET", "http://review.local", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "http://review.local", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = serve(withMiddleware(okHandler, testLog(), nil), "GET", "http://review.local", nil)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
