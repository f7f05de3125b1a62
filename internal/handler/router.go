package handler

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/warren/internal/guard"
	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/middleware"
)

//go:embed static
var staticFS embed.FS

// HealthChecker はヘルスチェックでデータベースの疎通を確認する。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Sessions    middleware.SessionResolver
	Cookie      middleware.CookieConfig
	RateLimiter *middleware.RateLimiter
	Metrics     metrics.MetricsCollector
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger

	HealthChecker HealthChecker
	Renderer      *Renderer

	Auth  *AuthHandler
	Pages *PageHandler
	Cases *CaseHandler
}

// NewRouter は全ページのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → Session → CSRF
//
// 保護されたページはさらに Guard → RateLimit(General) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Renderer.RenderPanic))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(m))

	// --- セッションを参照しないルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	r.Handle("/static/*", staticHandler())
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(middleware.NewCSRFMiddleware(deps.Cookie))

		r.NotFound(deps.Renderer.NotFound)
		r.Get("/", deps.Pages.Landing)

		// 認証ルート（IP単位のレート制限）
		r.Route("/auth", func(r chi.Router) {
			r.Get("/", deps.Auth.Page)
			r.Get("/confirm", deps.Auth.Confirm)
			r.Get("/callback", deps.Auth.Callback)
			r.Post("/sign-out", deps.Auth.SignOut)
			r.Post("/password-strength", deps.Auth.PasswordStrength)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/sign-in", deps.Auth.SignIn)
				r.Post("/sign-up", deps.Auth.SignUp)
				r.Post("/demo", deps.Auth.Demo)
				r.Get("/oauth/{provider}", deps.Auth.OAuthLogin)
			})
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(guard.Protect(middleware.SessionFromRequest, deps.Renderer))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/feed", deps.Pages.Feed)
			r.Get("/my-warren", deps.Pages.MyWarren)
			r.Get("/profile", deps.Pages.Profile)
			r.Get("/case/{id}", deps.Cases.Show)

			r.Get("/new-case", deps.Cases.NewCase)
			r.With(deps.RateLimiter.CreateMiddleware()).Post("/new-case", deps.Cases.CreateCase)
		})
	})

	return r
}

// staticHandler は埋め込みの静的ファイルを配信する。
// GET /static/warren.js
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

// healthHandler はデータベースへの疎通を確認する。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	}
}
