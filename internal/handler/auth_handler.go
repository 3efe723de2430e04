// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/promptbox/internal/middleware"
	"github.com/hitoshi/promptbox/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ProviderName() string
	SessionMaxAge() int
	BeginAuth(state string) string
	CompleteAuth(ctx context.Context, code string) (*model.Session, error)
	CurrentUser(ctx context.Context, sessionID string) (*model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// StateCodec はOAuthのstate値を発行・検証する。auth.StateCodecが実装する。
type StateCodec interface {
	Issue() (state string, token string, err error)
	Verify(token, state string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	ClientURL    string // ログイン成功・ログアウト後のリダイレクト先
	FailureURL   string // ログイン失敗時のリダイレクト先
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	states  StateCodec
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, states StateCodec, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		states:  states,
		config:  config,
	}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	CreatedAt   string `json:"created_at"`
}

// loginStatusResponse はログイン状態確認のレスポンス。
type loginStatusResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	User    *userResponse `json:"user,omitempty"`
}

// Login はOAuthフローを開始する。
// GET /auth/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.matchesProvider(r) {
		http.NotFound(w, r)
		return
	}

	state, token, err := h.states.Issue()
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 署名付きstateをCookieに保存（CSRF対策）
	h.setStateCookie(w, token, oauthStateMaxAge)

	http.Redirect(w, r, h.service.BeginAuth(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
// 失敗時はセッションを作らず失敗URLへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.matchesProvider(r) {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	var stateToken string
	if cookie, err := r.Cookie(oauthStateCookie); err == nil {
		stateToken = cookie.Value
	}
	// stateクッキーは結果に関わらず削除する
	h.setStateCookie(w, "", -1)

	if providerErr := query.Get("error"); providerErr != "" {
		h.failLogin(w, r, model.NewAuthError(model.AuthStageProvider, errors.New(providerErr)))
		return
	}

	if err := h.states.Verify(stateToken, query.Get("state")); err != nil {
		h.failLogin(w, r, model.NewAuthError(model.AuthStageState, err))
		return
	}

	session, err := h.service.CompleteAuth(r.Context(), query.Get("code"))
	if err != nil {
		h.failLogin(w, r, err)
		return
	}

	// セッションCookieを設定（HTTP Only）
	h.setSessionCookie(w, session.ID, h.service.SessionMaxAge())

	http.Redirect(w, r, h.config.ClientURL, http.StatusTemporaryRedirect)
}

// LoginSuccess は現在のログインユーザー情報を返す。
// GET /login/success
func (h *AuthHandler) LoginSuccess(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	user, err := h.service.CurrentUser(r.Context(), sessionID)
	if errors.Is(err, model.ErrNotAuthenticated) {
		middleware.WriteJSON(w, http.StatusUnauthorized, loginStatusResponse{
			Success: false,
			Message: "User is not authenticated",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, loginStatusResponse{
		Success: true,
		Message: "Successful",
		User:    toUserResponse(user),
	})
}

// LoginFailed はログイン失敗を通知する。
// GET /login/failed
func (h *AuthHandler) LoginFailed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusUnauthorized, loginStatusResponse{
		Success: false,
		Message: "failure",
	})
}

// Logout はセッションを破棄する。
// GET /logout, POST /logout
// 事前の状態に関わらずCookieを削除してクライアントURLへリダイレクトする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.setSessionCookie(w, "", -1)

	http.Redirect(w, r, h.config.ClientURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) matchesProvider(r *http.Request) bool {
	return chi.URLParam(r, "provider") == h.service.ProviderName()
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, err error) {
	attrs := []any{slog.String("error", err.Error())}
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		attrs = append(attrs, slog.String("stage", authErr.Stage))
	}
	slog.Warn("oauth callback failed", attrs...)

	http.Redirect(w, r, h.config.FailureURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toUserResponse(u *model.User) *userResponse {
	return &userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		CreatedAt:   u.CreatedAt.UTC().Format(timeLayout),
	}
}
