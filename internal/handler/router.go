package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/promptbox/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	StatusRecorder    middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	StateCodec  StateCodec
	AuthConfig  AuthHandlerConfig

	// プロンプト
	PromptService PromptServiceInterface

	// 運用
	HealthPinger   Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → (認証が必要なルートのみ) Auth → RateLimit(General) → CSRF
//
// 認証ルートはAuthミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.StateCodec, deps.AuthConfig)
	promptHandler := NewPromptHandler(deps.PromptService)

	// --- 認証不要のルート ---

	// OAuthフロー
	r.Get("/auth/{provider}", authHandler.Login)
	r.Get("/auth/{provider}/callback", authHandler.Callback)

	// ログイン状態
	r.Get("/login/success", authHandler.LoginSuccess)
	r.Get("/login/failed", authHandler.LoginFailed)

	// ログアウト
	r.Get("/logout", authHandler.Logout)
	r.Post("/logout", authHandler.Logout)

	r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	r.Get("/health", NewHealthHandler(deps.HealthPinger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.AuthService))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		create := deps.RateLimiter.PromptCreationMiddleware()

		r.Get("/prompts", promptHandler.List)
		r.With(create).Post("/prompts", promptHandler.Create)

		// 旧クライアント互換のエイリアス
		r.Get("/posts", promptHandler.List)
		r.With(create).Post("/user/post", promptHandler.Create)
	})

	return r
}
