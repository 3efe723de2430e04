// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/promptbox/internal/model"
)

// ErrDuplicateExternalID は同一のexternal_idを持つユーザーが既に存在することを表す。
// 同一subjectのコールバックが並行した場合に発生し、呼び出し側は既存行を再取得する。
var ErrDuplicateExternalID = errors.New("user with the same external id already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID はIdPのsubject識別子でユーザーを取得する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Create はユーザーを作成する。
	// external_idが重複する場合はErrDuplicateExternalIDを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PromptRepository はプロンプトデータの永続化インターフェース。
type PromptRepository interface {
	// Create はプロンプトを作成する。
	Create(ctx context.Context, prompt *model.Prompt) error
	// ListByAuthorID は指定ユーザーが作成したプロンプトの一覧を返す。
	ListByAuthorID(ctx context.Context, authorID string) ([]*model.Prompt, error)
}
