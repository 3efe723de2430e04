package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/promptbox/internal/middleware"
	"github.com/hitoshi/promptbox/internal/model"
)

// --- モック定義 ---

type mockPromptService struct {
	createFn       func(ctx context.Context, authorID, content string) (*model.Prompt, error)
	listByAuthorFn func(ctx context.Context, authorID string) ([]*model.Prompt, error)
}

func (m *mockPromptService) Create(ctx context.Context, authorID, content string) (*model.Prompt, error) {
	if m.createFn != nil {
		return m.createFn(ctx, authorID, content)
	}
	return nil, errors.New("not configured")
}

func (m *mockPromptService) ListByAuthor(ctx context.Context, authorID string) ([]*model.Prompt, error) {
	if m.listByAuthorFn != nil {
		return m.listByAuthorFn(ctx, authorID)
	}
	return []*model.Prompt{}, nil
}

var fixedCreatedAt = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUser(req.Context(), &model.User{ID: userID}))
}

func echoCreate(ctx context.Context, authorID, content string) (*model.Prompt, error) {
	return &model.Prompt{ID: "prompt-1", Content: content, AuthorID: authorID, CreatedAt: fixedCreatedAt}, nil
}

// --- Create ---

func TestPromptHandler_Create_JSONBody(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{createFn: echoCreate})

	req := httptest.NewRequest(http.MethodPost, "/prompts", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, withUser(req, "user-u"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}

	var got createPromptResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := createPromptResponse{
		Success: true,
		Message: "Prompt created",
		Prompt: promptResponse{
			ID:        "prompt-1",
			Content:   "hello",
			AuthorID:  "user-u",
			CreatedAt: "2026-03-04T05:06:07Z",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestPromptHandler_Create_FormBody(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{createFn: echoCreate})

	form := url.Values{"content": {"buy milk"}}
	req := httptest.NewRequest(http.MethodPost, "/user/post", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	w := httptest.NewRecorder()

	h.Create(w, withUser(req, "user-a"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	var got createPromptResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.Prompt.Content != "buy milk" || got.Prompt.AuthorID != "user-a" {
		t.Errorf("prompt = %+v", got.Prompt)
	}
}

func TestPromptHandler_Create_AuthorComesFromSession(t *testing.T) {
	var gotAuthor string
	h := NewPromptHandler(&mockPromptService{
		createFn: func(ctx context.Context, authorID, content string) (*model.Prompt, error) {
			gotAuthor = authorID
			return echoCreate(ctx, authorID, content)
		},
	})

	// ボディに含まれるauthor_idは無視される
	req := httptest.NewRequest(http.MethodPost, "/prompts", strings.NewReader(`{"content":"x","author_id":"user-v"}`))
	req.Header.Set("Content-Type", "application/json")
	h.Create(httptest.NewRecorder(), withUser(req, "user-u"))

	if gotAuthor != "user-u" {
		t.Errorf("authorID = %q, want %q", gotAuthor, "user-u")
	}
}

func TestPromptHandler_Create_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		userID     string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "no user", body: `{"content":"x"}`, wantStatus: http.StatusUnauthorized, wantCode: model.ErrCodeUnauthorized},
		{name: "malformed json", body: `{"content":`, userID: "user-u", wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeInvalidRequest},
		{name: "validation", body: `{"content":"  "}`, userID: "user-u", serviceErr: model.NewValidationError("content is empty"), wantStatus: http.StatusBadRequest, wantCode: model.ErrCodeValidation},
		{name: "store failure", body: `{"content":"x"}`, userID: "user-u", serviceErr: errors.New("insert failed"), wantStatus: http.StatusInternalServerError, wantCode: model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewPromptHandler(&mockPromptService{
				createFn: func(ctx context.Context, authorID, content string) (*model.Prompt, error) {
					called = true
					return nil, tt.serviceErr
				},
			})

			req := httptest.NewRequest(http.MethodPost, "/prompts", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.userID != "" {
				req = withUser(req, tt.userID)
			}
			w := httptest.NewRecorder()

			h.Create(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if tt.serviceErr == nil && called {
				t.Error("service should not be called")
			}
		})
	}
}

func TestPromptHandler_Create_BodyTooLarge(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{createFn: echoCreate})

	big := `{"content":"` + strings.Repeat("a", maxPromptBodyBytes+1) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/prompts", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Create(w, withUser(req, "user-u"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- List ---

func TestPromptHandler_List_ReturnsCallerPrompts(t *testing.T) {
	var gotAuthor string
	h := NewPromptHandler(&mockPromptService{
		listByAuthorFn: func(ctx context.Context, authorID string) ([]*model.Prompt, error) {
			gotAuthor = authorID
			return []*model.Prompt{
				{ID: "p1", Content: "hello", AuthorID: authorID, CreatedAt: fixedCreatedAt},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.List(w, withUser(httptest.NewRequest(http.MethodGet, "/prompts", nil), "user-u"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotAuthor != "user-u" {
		t.Errorf("authorID = %q, want %q", gotAuthor, "user-u")
	}

	var got []promptResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := []promptResponse{{ID: "p1", Content: "hello", AuthorID: "user-u", CreatedAt: "2026-03-04T05:06:07Z"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestPromptHandler_List_EmptyIsJSONArray(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{})

	w := httptest.NewRecorder()
	h.List(w, withUser(httptest.NewRequest(http.MethodGet, "/prompts", nil), "user-v"))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestPromptHandler_List_NoUser_Returns401(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/prompts", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestPromptHandler_List_StoreError_Returns500(t *testing.T) {
	h := NewPromptHandler(&mockPromptService{
		listByAuthorFn: func(ctx context.Context, authorID string) ([]*model.Prompt, error) {
			return nil, errors.New("query failed")
		},
	})

	w := httptest.NewRecorder()
	h.List(w, withUser(httptest.NewRequest(http.MethodGet, "/prompts", nil), "user-u"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
