package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	t.Run("plain text", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewRecoveryMiddleware(nil)(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})

	t.Run("custom page", func(t *testing.T) {
		w := httptest.NewRecorder()
		render := func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("something went wrong")) }
		NewRecoveryMiddleware(render)(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "something went wrong") {
			t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
		}
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if w.Header().Get(h) == "" {
			t.Errorf("header %s should be set", h)
		}
	}
}
