package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/promptbox/internal/model"
)

// MemoryUserRepo はメモリ上でユーザーを保持するリポジトリ。
// 開発環境とテストで使用する。プロセス終了で内容は失われる。
type MemoryUserRepo struct {
	mu         sync.RWMutex
	byID       map[string]*model.User
	byExternal map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:       make(map[string]*model.User),
		byExternal: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

// FindByExternalID はexternal_idでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByExternalID(_ context.Context, externalID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	copied := *r.byID[id]
	return &copied, nil
}

// Create はユーザーを作成する。external_idが重複する場合はErrDuplicateExternalIDを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[user.ExternalID]; exists {
		return ErrDuplicateExternalID
	}
	copied := *user
	r.byID[user.ID] = &copied
	r.byExternal[user.ExternalID] = user.ID
	return nil
}

// Delete は指定IDのユーザーを削除する。
// 削除済みユーザーを参照するセッションの扱いを検証するために使用する。
func (r *MemoryUserRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.byID[id]; ok {
		delete(r.byExternal, u.ExternalID)
		delete(r.byID, id)
	}
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// MemorySessionRepo はメモリ上でセッションを保持するリポジトリ。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// SetClock は期限判定に使う現在時刻関数を差し替える。
func (r *MemorySessionRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || s.IsExpired(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *MemorySessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var deleted int64
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count は期限切れを含めて保持しているセッション数を返す。
func (r *MemorySessionRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// MemoryPromptRepo はメモリ上でプロンプトを保持するリポジトリ。
// 一覧は挿入順で返す。
type MemoryPromptRepo struct {
	mu      sync.RWMutex
	prompts []model.Prompt
}

// NewMemoryPromptRepo はMemoryPromptRepoを生成する。
func NewMemoryPromptRepo() *MemoryPromptRepo {
	return &MemoryPromptRepo{}
}

// Create はプロンプトを作成する。
func (r *MemoryPromptRepo) Create(_ context.Context, prompt *model.Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, *prompt)
	return nil
}

// ListByAuthorID は指定ユーザーのプロンプトを挿入順で返す。
func (r *MemoryPromptRepo) ListByAuthorID(_ context.Context, authorID string) ([]*model.Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.Prompt, 0)
	for i := range r.prompts {
		if r.prompts[i].AuthorID == authorID {
			p := r.prompts[i]
			result = append(result, &p)
		}
	}
	return result, nil
}

// Count は保持しているプロンプトの総数を返す。
func (r *MemoryPromptRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts)
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ PromptRepository  = (*MemoryPromptRepo)(nil)
)
