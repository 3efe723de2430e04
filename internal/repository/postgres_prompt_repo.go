package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/promptbox/internal/model"
)

// PostgresPromptRepo はPostgreSQLを使用したプロンプトリポジトリ。
type PostgresPromptRepo struct {
	db *sql.DB
}

// NewPostgresPromptRepo はPostgresPromptRepoを生成する。
func NewPostgresPromptRepo(db *sql.DB) *PostgresPromptRepo {
	return &PostgresPromptRepo{db: db}
}

// Create はプロンプトを作成する。
func (r *PostgresPromptRepo) Create(ctx context.Context, prompt *model.Prompt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO prompts (id, author_id, content, created_at)
		 VALUES ($1, $2, $3, $4)`,
		prompt.ID, prompt.AuthorID, prompt.Content, prompt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

// ListByAuthorID は指定ユーザーのプロンプトを作成日時の昇順で返す。
// 同時刻の行はidで順序を固定する。
func (r *PostgresPromptRepo) ListByAuthorID(ctx context.Context, authorID string) ([]*model.Prompt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, author_id, content, created_at
		 FROM prompts
		 WHERE author_id = $1
		 ORDER BY created_at ASC, id ASC`,
		authorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]*model.Prompt, 0)
	for rows.Next() {
		p := &model.Prompt{}
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}

	return prompts, nil
}

// compile-time interface check
var _ PromptRepository = (*PostgresPromptRepo)(nil)
