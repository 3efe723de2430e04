package model

import "time"

// Prompt はユーザーが投稿したプロンプトを表す。
// AuthorIDは作成時に認証済みユーザーのIDで固定され、変更されない。
type Prompt struct {
	ID        string
	Content   string
	AuthorID  string
	CreatedAt time.Time
}
