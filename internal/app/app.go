package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/promptbox/internal/auth"
	"github.com/hitoshi/promptbox/internal/config"
	"github.com/hitoshi/promptbox/internal/database"
	"github.com/hitoshi/promptbox/internal/handler"
	"github.com/hitoshi/promptbox/internal/logger"
	"github.com/hitoshi/promptbox/internal/metrics"
	"github.com/hitoshi/promptbox/internal/middleware"
	"github.com/hitoshi/promptbox/internal/prompt"
	"github.com/hitoshi/promptbox/internal/repository"
	"github.com/hitoshi/promptbox/internal/security"
	"github.com/hitoshi/promptbox/internal/user"
	"github.com/hitoshi/promptbox/internal/worker/cleanup"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
	shutdownTimeout    = 30 * time.Second
	healthcheckTimeout = 5 * time.Second
	redisPingTimeout   = 5 * time.Second
	defaultServerPort  = "3000"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドが省略された場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// stores は選択されたストア実装と、その後始末をまとめたもの。
type stores struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	prompts  repository.PromptRepository
	pinger   handler.Pinger
	closers  []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}
}

// openStores はSTORE_DRIVERとSESSION_STOREに従ってリポジトリを構築する。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	var db *sql.DB
	if cfg.StoreDriver == config.StoreDriverPostgres {
		var err error
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, db.Close)

		if err := database.WaitForConnection(ctx, db, cfg.DBConnectTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		s.users = repository.NewPostgresUserRepo(db)
		s.prompts = repository.NewPostgresPromptRepo(db)
		s.pinger = db
	} else {
		s.users = repository.NewMemoryUserRepo()
		s.prompts = repository.NewMemoryPromptRepo()
		slog.Warn("using in-memory store; data is lost on restart")
	}

	switch cfg.SessionStore {
	case config.StoreDriverPostgres:
		s.sessions = repository.NewPostgresSessionRepo(db)
	case config.SessionStoreRedis:
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.sessions = repository.NewRedisSessionRepo(client, "")
	default:
		s.sessions = repository.NewMemorySessionRepo()
	}

	slog.Info("stores initialized",
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("session_store", cfg.SessionStore),
	)
	return s, nil
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーとセッションクリーンアップを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストア
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. セキュリティ・メトリクス
	ssrfGuard := security.NewSSRFGuard()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. IdP
	provider, err := auth.NewOIDCProvider(ctx, auth.OIDCConfig{
		Name:         cfg.OAuthProviderName,
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		HTTPClient:   ssrfGuard.NewSafeClient(cfg.ProviderTimeout),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	stateCodec, err := auth.NewStateCodec(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize state codec: %w", err)
	}

	// 4. ドメインサービス
	userService := user.NewService(st.users)
	authService := auth.NewService(
		provider, userService, st.sessions,
		auth.ServiceConfig{
			SessionMaxAge:   cfg.SessionMaxAge,
			ProviderTimeout: cfg.ProviderTimeout,
		},
		auth.WithMetrics(collector),
		auth.WithAvatarValidator(ssrfGuard),
		auth.WithDisplayNameSanitizer(security.NewDisplayNameSanitizer()),
	)
	promptService := prompt.NewService(st.prompts, cfg.PromptMaxLength, collector)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPromptCreate),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		StatusRecorder: collector,

		AuthService: authService,
		StateCodec:  stateCodec,
		AuthConfig: handler.AuthHandlerConfig{
			ClientURL:    cfg.ClientURL,
			FailureURL:   cfg.FailureURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		PromptService:  promptService,
		MetricsHandler: metrics.Handler(registry),
	}
	if st.pinger != nil {
		deps.HealthPinger = st.pinger
	}

	router := handler.NewRouter(deps)

	// 6. セッションクリーンアップ
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	cleanupJob := cleanup.NewCleanupJob(st.sessions, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanupInterval
	go cleanupJob.Start(jobCtx)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("provider", authService.ProviderName()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	cancelJob()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runCleanup は期限切れセッションの削除を1回だけ実行する。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job := cleanup.NewCleanupJob(st.sessions, slog.Default())
	if _, err := job.Run(ctx); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: healthcheckTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はSERVER_PORTを返す。未設定なら既定ポート。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return defaultServerPort
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
