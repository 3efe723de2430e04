// Package auth はOAuth/OIDCによるログイン、セッション発行、セッションからのユーザー復元を提供する。
package auth

import "context"

// Profile はIdPから取得したユーザープロフィール。
// EmailsとPhotosはIdPが返した順序のまま保持する。
type Profile struct {
	Provider    string
	SubjectID   string
	Emails      []string
	DisplayName string
	Photos      []string
}

// IdentityProvider は外部IdPとの認可コードフローを抽象化する。
// 本番ではOIDCProvider、テストではスタブ実装を使う。
type IdentityProvider interface {
	// Name はルーティングやログで使うプロバイダー名を返す（例: "google"）。
	Name() string
	// AuthCodeURL はstateを埋め込んだ同意画面のURLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換し、検証済みのプロフィールを返す。
	Exchange(ctx context.Context, code string) (*Profile, error)
}
