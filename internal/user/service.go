// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/promptbox/internal/model"
	"github.com/hitoshi/promptbox/internal/repository"
)

// NewUserParams は新規ユーザー作成時にIdPのプロフィールから引き継ぐ値。
// 作成後にプロフィールが変わっても再同期はしない。
type NewUserParams struct {
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		now:      time.Now,
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// FindOrCreate はexternal_idに対応するユーザーを返す。
// 存在しない場合は新規作成し、createdにtrueを返す。
// 並行する作成でexternal_idの一意制約に抵触した場合は、勝った側の行を再取得して返す。
func (s *Service) FindOrCreate(ctx context.Context, params NewUserParams) (*model.User, bool, error) {
	if params.ExternalID == "" {
		return nil, false, fmt.Errorf("external id is required")
	}

	existing, err := s.userRepo.FindByExternalID(ctx, params.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	newUser := &model.User{
		ID:          uuid.New().String(),
		ExternalID:  params.ExternalID,
		Email:       params.Email,
		DisplayName: params.DisplayName,
		AvatarURL:   params.AvatarURL,
		CreatedAt:   s.now(),
	}

	err = s.userRepo.Create(ctx, newUser)
	if errors.Is(err, repository.ErrDuplicateExternalID) {
		winner, findErr := s.userRepo.FindByExternalID(ctx, params.ExternalID)
		if findErr != nil {
			return nil, false, fmt.Errorf("ユーザーの再取得に失敗しました: %w", findErr)
		}
		if winner == nil {
			return nil, false, fmt.Errorf("user %q vanished after duplicate insert", params.ExternalID)
		}
		slog.Info("concurrent user creation resolved to existing user",
			slog.String("user_id", winner.ID),
		)
		return winner, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", newUser.Email),
	)
	return newUser, true, nil
}
