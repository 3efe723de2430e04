// Package prompt はプロンプトの作成と一覧取得のドメインロジックを提供する。
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/promptbox/internal/metrics"
	"github.com/hitoshi/promptbox/internal/model"
	"github.com/hitoshi/promptbox/internal/repository"
)

// DefaultMaxLength はプロンプト本文の既定の最大文字数（rune数）。
const DefaultMaxLength = 10000

// Service はプロンプトのサービス層。
type Service struct {
	repo      repository.PromptRepository
	maxLength int
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。
// maxLengthが0以下の場合はDefaultMaxLengthを使う。
func NewService(repo repository.PromptRepository, maxLength int, m metrics.MetricsCollector) *Service {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		maxLength: maxLength,
		metrics:   m,
		now:       time.Now,
	}
}

// Create はauthorIDを作成者としてプロンプトを作成する。
// 本文は受け取ったまま保存する。空白のみ、または最大文字数を超える場合は検証エラーを返す。
func (s *Service) Create(ctx context.Context, authorID, content string) (*model.Prompt, error) {
	if authorID == "" {
		return nil, model.ErrNotAuthenticated
	}

	if strings.TrimSpace(content) == "" {
		return nil, model.NewValidationError("content is required")
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return nil, model.NewValidationError(fmt.Sprintf("content must be at most %d characters", s.maxLength))
	}

	p := &model.Prompt{
		ID:        uuid.New().String(),
		Content:   content,
		AuthorID:  authorID,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}

	s.metrics.RecordPromptCreated()
	slog.Info("prompt created",
		slog.String("prompt_id", p.ID),
		slog.String("user_id", authorID),
	)
	return p, nil
}

// ListByAuthor はauthorIDが作成したプロンプトの一覧を返す。該当なしの場合は空スライスを返す。
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]*model.Prompt, error) {
	if authorID == "" {
		return nil, model.ErrNotAuthenticated
	}

	prompts, err := s.repo.ListByAuthorID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	if prompts == nil {
		prompts = []*model.Prompt{}
	}
	return prompts, nil
}
