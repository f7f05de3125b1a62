package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/warren/internal/auth"
	"github.com/hitoshi/warren/internal/cases"
	"github.com/hitoshi/warren/internal/config"
	"github.com/hitoshi/warren/internal/database"
	"github.com/hitoshi/warren/internal/detail"
	"github.com/hitoshi/warren/internal/feed"
	"github.com/hitoshi/warren/internal/handler"
	"github.com/hitoshi/warren/internal/logger"
	"github.com/hitoshi/warren/internal/metrics"
	"github.com/hitoshi/warren/internal/middleware"
	"github.com/hitoshi/warren/internal/repository"
	"github.com/hitoshi/warren/internal/session"
	"github.com/hitoshi/warren/internal/user"
	"github.com/hitoshi/warren/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前のエラーも構造化ログで出せるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	caseRepo := repository.NewPostgresCaseRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(registry)

	// 4. 認証プロバイダー
	var oauthProviders []auth.OAuthProvider
	var providerNames []string
	if cfg.GoogleOAuthEnabled() {
		google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
		oauthProviders = append(oauthProviders, google)
		providerNames = append(providerNames, google.Name())
	}

	authService := auth.NewService(auth.Dependencies{
		Users:         userRepo,
		Identities:    userRepo,
		Sessions:      sessionRepo,
		Confirmations: profileRepo,
		DB:            db,
		Events:        auth.NewPQEventSource(cfg.DatabaseURL),
		Mailer:        auth.LogMailer{},
		OAuth:         oauthProviders,
		Metrics:       m,
	}, auth.ServiceConfig{
		SessionMaxAge:   cfg.SessionMaxAge,
		ConfirmationTTL: cfg.ConfirmationTTL,
		Secret:          []byte(cfg.SessionSecret),
		BaseURL:         cfg.BaseURL,
		BcryptCost:      cfg.BcryptCost,
	})

	if cfg.DemoEmail != "" {
		if err := authService.SeedDemoAccount(ctx, cfg.DemoEmail, cfg.DemoPassword); err != nil {
			return fmt.Errorf("failed to seed demo account: %w", err)
		}
		slog.Info("demo account ready", slog.String("email", cfg.DemoEmail))
	}

	// 5. ドメインサービス
	store := session.NewStore(authService, session.Config{
		CacheTTL: cfg.SessionCacheTTL,
		Metrics:  m,
	})
	caseService := cases.NewService(caseRepo, nil, m)
	views := feed.NewViews(caseService, feed.ViewsConfig{TTL: cfg.FeedViewTTL})
	userService := user.NewService(profileRepo, caseService)
	resolver := detail.NewResolver(caseService, views)

	// 6. ハンドラー
	renderer, err := handler.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}

	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.AuthRate, rlConfig.AuthBurst = middleware.PerMinute(cfg.RateLimitAuth), cfg.RateLimitAuth
	rlConfig.CreateRate, rlConfig.CreateBurst = middleware.PerMinute(cfg.RateLimitCreate), cfg.RateLimitCreate
	rlConfig.GeneralRate, rlConfig.GeneralBurst = middleware.PerMinute(cfg.RateLimitGeneral), cfg.RateLimitGeneral
	rateLimiter := middleware.NewRateLimiter(rlConfig)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Sessions:      store,
		Cookie:        cookie,
		RateLimiter:   rateLimiter,
		Metrics:       m,
		Gatherer:      registry,
		Logger:        slog.Default(),
		HealthChecker: db,
		Renderer:      renderer,
		Auth: handler.NewAuthHandler(store, authService, renderer, handler.AuthHandlerConfig{
			Cookie:         cookie,
			OAuthProviders: providerNames,
			DemoEmail:      cfg.DemoEmail,
			DemoPassword:   cfg.DemoPassword,
		}),
		Pages: handler.NewPageHandler(views, userService, renderer),
		Cases: handler.NewCaseHandler(caseService, resolver, renderer, cfg.BaseURL),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	store.Start(gctx)

	g.Go(func() error {
		slog.Info("web server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down web server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()

	// gctxのキャンセルでセッションの購読も止まっている
	store.Wait()
	views.Wait()

	if err != nil {
		return err
	}
	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションと確認トークンを定期的に削除する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	m := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(db, slog.Default(), m)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// ブロッキング。ctxのキャンセルで戻る
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
