// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, prompt, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeCSRFTokenFailed = "CSRF_TOKEN_INVALID"
)

// ErrNotAuthenticated は有効なセッションが存在しないことを表す。
// セッション未指定、期限切れ、参照先ユーザーの消失はすべてこのエラーに集約する。
// 障害ではなく「未ログイン」として扱う。
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError はOAuthコールバック処理の失敗を表す。
// IdPによる拒否、コード交換失敗、プロフィール不正、ユーザー作成やセッション発行の失敗を含む。
// ハンドラーは詳細をログにのみ記録し、失敗URLへリダイレクトする。
type AuthError struct {
	Stage string // 失敗した処理段階（AuthStage*）
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication failed at %s", e.Stage)
	}
	return fmt.Sprintf("authentication failed at %s: %v", e.Stage, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// AuthErrorのStage値。
const (
	AuthStageProvider  = "provider"
	AuthStageState     = "state"
	AuthStageExchange  = "exchange"
	AuthStageProfile   = "profile"
	AuthStageProvision = "provision"
	AuthStageSession   = "session"
)

// NewAuthError はAuthErrorを生成する。
func NewAuthError(stage string, err error) *AuthError {
	return &AuthError{Stage: stage, Err: err}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "User is not authenticated",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してから再度送信してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディを解析できませんでした。",
		Category: "validation",
		Action:   "JSON形式またはフォーム形式で content を送信してください。",
	}
}

// IsValidationError はエラーが入力検証エラーかどうかを判定する。
func IsValidationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeValidation
}
