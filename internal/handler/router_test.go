package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/warren/internal/feed"
	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/session"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

func newTestRouter(t *testing.T, sess session.Session, health HealthChecker) http.Handler {
	t.Helper()

	rd := newTestRenderer(t)
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	views := &mockFeedViews{
		getFn: func(string, string) (feed.View, bool) { return readyView("v1"), true },
	}

	return NewRouter(&RouterDeps{
		Sessions: resolverFunc(func(context.Context, string) session.Session {
			return sess
		}),
		RateLimiter:   rl,
		Metrics:       metrics.NewCollector(reg),
		Gatherer:      reg,
		HealthChecker: health,
		Renderer:      rd,
		Auth:          NewAuthHandler(&mockSessionStore{}, &mockConfirmer{}, rd, AuthHandlerConfig{}),
		Pages:         NewPageHandler(views, &mockProfiles{}, rd),
		Cases:         NewCaseHandler(&mockCreator{}, &mockResolver{}, rd, "http://localhost:8080"),
	})
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, session.Session{}, &mockHealthChecker{err: tt.err})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestRouter_ProtectedPages(t *testing.T) {
	paths := []string{"/feed", "/my-warren", "/new-case", "/profile", "/case/c1"}

	t.Run("signed out redirects to sign in", func(t *testing.T) {
		router := newTestRouter(t, session.Session{}, nil)
		for _, p := range paths {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))

			if w.Code != http.StatusSeeOther {
				t.Errorf("%s: status = %d, want %d", p, w.Code, http.StatusSeeOther)
			}
			if loc := w.Header().Get("Location"); loc != "/auth" {
				t.Errorf("%s: Location = %q, want /auth", p, loc)
			}
		}
	})

	t.Run("loading renders placeholder", func(t *testing.T) {
		router := newTestRouter(t, session.Session{IsLoading: true}, nil)
		for _, p := range paths {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))

			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("%s: status = %d, want %d", p, w.Code, http.StatusServiceUnavailable)
			}
			if !strings.Contains(w.Body.String(), "Loading") {
				t.Errorf("%s: body should show the loading placeholder", p)
			}
		}
	})

	t.Run("signed in renders page", func(t *testing.T) {
		router := newTestRouter(t, session.Session{Identity: testIdentity()}, nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feed?v=v1", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "Mothman Sightings") {
			t.Error("feed should list cases")
		}
	})
}

func TestRouter_PublicPages(t *testing.T) {
	router := newTestRouter(t, session.Session{}, nil)

	for _, p := range []string{"/", "/auth"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", p, w.Code, http.StatusOK)
		}
	}
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, session.Session{Identity: testIdentity()}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no/such/page", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if !strings.Contains(w.Body.String(), `href="/feed"`) {
		t.Error("not found page should link to the feed")
	}
}

func TestRouter_PostRequiresCSRFToken(t *testing.T) {
	router := newTestRouter(t, session.Session{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newFormRequest(http.MethodPost, "/auth/sign-in", url.Values{"email": {"a@example.com"}}))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_PostWithCSRFToken(t *testing.T) {
	router := newTestRouter(t, session.Session{}, nil)

	req := newFormRequest(http.MethodPost, "/auth/sign-in", url.Values{
		"email":                  {"a@example.com"},
		middleware.CSRFFormField: {"token-1"},
	})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "token-1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, session.Session{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "warren_http_requests_total") {
		t.Error("metrics should include the request counter")
	}
}

func TestRouter_StaticScript(t *testing.T) {
	router := newTestRouter(t, session.Session{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/warren.js", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Errorf("Content-Type = %q, want javascript", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"data-strength-url", "X-CSRF-Token", "navigator.clipboard"} {
		if !strings.Contains(body, want) {
			t.Errorf("script should contain %q", want)
		}
	}

	// ページはCSPのscript-src 'self'で読み込める同一オリジンのスクリプトを参照する
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth?mode=sign-up", nil))
	if !strings.Contains(w.Body.String(), `<script src="/static/warren.js" defer></script>`) {
		t.Error("layout should load the static script")
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "script-src 'self'") {
		t.Errorf("Content-Security-Policy = %q, want script-src 'self'", csp)
	}
}
