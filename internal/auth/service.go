package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/promptbox/internal/metrics"
	"github.com/hitoshi/promptbox/internal/model"
	"github.com/hitoshi/promptbox/internal/repository"
	"github.com/hitoshi/promptbox/internal/user"
)

// DefaultSessionMaxAge はセッションの既定有効期間（秒）。7日間。
const DefaultSessionMaxAge = 7 * 24 * 60 * 60

// UserProvisioner はユーザーの取得と初回作成を行う。user.Serviceが実装する。
type UserProvisioner interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindOrCreate(ctx context.Context, params user.NewUserParams) (*model.User, bool, error)
}

// URLValidator はIdPから受け取ったURLを検証する。security.SSRFGuardが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// TextSanitizer はIdPから受け取った表示名をプレーンテキストにする。security.DisplayNameSanitizerが実装する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge   int           // セッション有効期間（秒）
	ProviderTimeout time.Duration // IdPとのコード交換のタイムアウト。0以下で無制限
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider     IdentityProvider
	users        UserProvisioner
	sessionRepo  repository.SessionRepository
	config       ServiceConfig
	metrics      metrics.MetricsCollector
	urlValidator URLValidator
	nameCleaner  TextSanitizer
	provisioning singleflight.Group
	now          func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAvatarValidator はアバターURLの検証を設定する。検証に失敗したURLは保存しない。
func WithAvatarValidator(v URLValidator) Option {
	return func(s *Service) { s.urlValidator = v }
}

// WithDisplayNameSanitizer は表示名の無害化を設定する。
func WithDisplayNameSanitizer(c TextSanitizer) Option {
	return func(s *Service) { s.nameCleaner = c }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	users UserProvisioner,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	opts ...Option,
) *Service {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = DefaultSessionMaxAge
	}
	s := &Service{
		provider:    provider,
		users:       users,
		sessionRepo: sessionRepo,
		config:      config,
		metrics:     metrics.Nop{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProviderName はIdPの名前を返す。
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// SessionMaxAge はセッション有効期間（秒）を返す。クッキーのMaxAgeに使う。
func (s *Service) SessionMaxAge() int {
	return s.config.SessionMaxAge
}

// BeginAuth はIdPの同意画面URLを返す。
func (s *Service) BeginAuth(state string) string {
	return s.provider.AuthCodeURL(state)
}

// CompleteAuth は認可コードを交換し、ユーザーを特定または作成してセッションを発行する。
// 失敗はすべて*model.AuthErrorとして返し、その場合セッションは作られない。
func (s *Service) CompleteAuth(ctx context.Context, code string) (*model.Session, error) {
	if code == "" {
		return nil, s.fail(model.AuthStageExchange, errors.New("authorization code is missing"))
	}

	profile, err := s.exchange(ctx, code)
	if err != nil {
		return nil, s.fail(model.AuthStageExchange, err)
	}
	if profile == nil || profile.SubjectID == "" {
		return nil, s.fail(model.AuthStageProfile, errors.New("profile has no subject id"))
	}

	u, err := s.provision(ctx, profile)
	if err != nil {
		return nil, s.fail(model.AuthStageProvision, err)
	}

	session, err := s.createSession(ctx, u.ID)
	if err != nil {
		return nil, s.fail(model.AuthStageSession, err)
	}

	s.metrics.RecordLogin(metrics.LoginResultSuccess)
	s.metrics.RecordSessionIssued()
	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("provider", profile.Provider),
	)
	return session, nil
}

// CurrentUser はセッションIDからユーザーを復元する。
// セッションIDが空、セッションが存在しないか期限切れ、参照先ユーザーが存在しない場合は
// model.ErrNotAuthenticatedを返す。ストアの障害はラップしてそのまま返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.ErrNotAuthenticated
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	// 期限切れのセッションはリポジトリがnilとして返す
	if session == nil {
		return nil, model.ErrNotAuthenticated
	}

	u, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		s.discardSession(ctx, sessionID)
		return nil, model.ErrNotAuthenticated
	}

	return u, nil
}

// Logout はセッションを破棄する。セッションIDが空、または存在しない場合も成功とする。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// exchange はタイムアウト付きでIdPとコード交換する。
func (s *Service) exchange(ctx context.Context, code string) (*Profile, error) {
	if s.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	profile, err := s.provider.Exchange(ctx, code)
	s.metrics.RecordProviderLatency(time.Since(start))
	return profile, err
}

type provisionResult struct {
	user    *model.User
	created bool
}

// provision はsubjectに対応するユーザーを特定または作成する。
// 同一プロセス内で同じsubjectのコールバックが重なった場合は1回の処理にまとめる。
func (s *Service) provision(ctx context.Context, profile *Profile) (*model.User, error) {
	contact := SelectPrimaryContact(profile)
	avatarURL := contact.AvatarURL
	if avatarURL != "" && s.urlValidator != nil {
		if err := s.urlValidator.ValidateURL(avatarURL); err != nil {
			slog.Warn("discarding avatar url from provider",
				slog.String("provider", profile.Provider),
				slog.String("error", err.Error()),
			)
			avatarURL = ""
		}
	}

	displayName := profile.DisplayName
	if s.nameCleaner != nil {
		displayName = s.nameCleaner.Sanitize(displayName)
	}

	// 重なった呼び出しは先頭のリクエストのctxを共有するため、その切断で全体が失敗しないようにする
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.provisioning.Do(profile.SubjectID, func() (any, error) {
		u, created, err := s.users.FindOrCreate(flightCtx, user.NewUserParams{
			ExternalID:  profile.SubjectID,
			Email:       contact.Email,
			DisplayName: displayName,
			AvatarURL:   avatarURL,
		})
		if err != nil {
			return nil, err
		}
		if created {
			s.metrics.RecordUserProvisioned()
		}
		return provisionResult{user: u, created: created}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(provisionResult).user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// discardSession は無効になったセッションを削除する。失敗はログのみ。
func (s *Service) discardSession(ctx context.Context, sessionID string) {
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		slog.Warn("failed to discard stale session", slog.String("error", err.Error()))
	}
}

func (s *Service) fail(stage string, err error) error {
	s.metrics.RecordLogin(metrics.LoginResultFailure)
	return model.NewAuthError(stage, err)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
