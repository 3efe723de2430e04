package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig はOIDCProviderの設定。
type OIDCConfig struct {
	Name         string // ルーティングに使うプロバイダー名
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// HTTPClient はディスカバリ、トークン交換、JWKS取得に使うクライアント。
	// nilの場合はhttp.DefaultClientを使う。
	HTTPClient *http.Client
}

// OIDCProvider はOpenID Connectの認可コードフローでIdPと連携する。
// Googleを含むOIDC準拠のIdPに対応する。
type OIDCProvider struct {
	name         string
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	httpClient   *http.Client
}

// idTokenClaims はIDトークンから取り出すプロフィール項目。
type idTokenClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

// NewOIDCProvider はディスカバリを実行してOIDCProviderを生成する。
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("issuer URL and client ID are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	slog.Debug("oidc provider discovered",
		slog.String("provider", cfg.Name),
		slog.String("issuer", cfg.IssuerURL),
	)

	return &OIDCProvider{
		name: cfg.Name,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		httpClient: httpClient,
	}, nil
}

// Name はプロバイダー名を返す。
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthCodeURL は同意画面のURLを返す。
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange は認可コードをトークンに交換し、IDトークンを検証してプロフィールを返す。
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	ctx = oidc.ClientContext(ctx, p.httpClient)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("id_token missing from token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	profile := &Profile{
		Provider:    p.name,
		SubjectID:   idToken.Subject,
		DisplayName: claims.Name,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = claims.PreferredUsername
	}
	if claims.Email != "" {
		profile.Emails = []string{claims.Email}
	}
	if claims.Picture != "" {
		profile.Photos = []string{claims.Picture}
	}
	return profile, nil
}

// compile-time interface check
var _ IdentityProvider = (*OIDCProvider)(nil)
