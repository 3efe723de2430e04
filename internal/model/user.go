// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 外部IdPのsubject識別子（ExternalID）で一意に紐付く。
// プロフィール項目は作成時にのみコピーし、以降のログインでは再同期しない。
type User struct {
	ID          string
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// Session はユーザーのログインセッションを表す。
// ユーザーオブジェクトは保持せず、UserIDのみを参照キーとして持つ。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はセッションが指定時刻の時点で期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
