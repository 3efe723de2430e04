package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/promptbox/internal/middleware"
	"github.com/hitoshi/promptbox/internal/model"
)

// maxPromptBodyBytes はプロンプト作成リクエストのボディ上限。
const maxPromptBodyBytes = 1 << 20

const timeLayout = time.RFC3339

// PromptServiceInterface はプロンプトハンドラーが必要とするサービスインターフェース。
type PromptServiceInterface interface {
	Create(ctx context.Context, authorID, content string) (*model.Prompt, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*model.Prompt, error)
}

// PromptHandler はプロンプトのHTTPハンドラー。
// 認証ミドルウェアの内側に配置し、コンテキストのユーザーを投稿者として扱う。
type PromptHandler struct {
	service PromptServiceInterface
}

// NewPromptHandler はPromptHandlerを生成する。
func NewPromptHandler(service PromptServiceInterface) *PromptHandler {
	return &PromptHandler{service: service}
}

// createPromptRequest はプロンプト作成リクエストのボディ。
type createPromptRequest struct {
	Content string `json:"content"`
}

// promptResponse はプロンプトのAPIレスポンス。
type promptResponse struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

// createPromptResponse はプロンプト作成のレスポンス。
type createPromptResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Prompt  promptResponse `json:"prompt"`
}

// Create はプロンプトを作成する。
// POST /prompts, POST /user/post
// ボディはJSON {"content": "..."} またはフォームの content フィールド。
func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	content, err := readPromptContent(w, r)
	if err != nil {
		slog.Warn("failed to parse prompt request",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	prompt, err := h.service.Create(r.Context(), userID, content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, createPromptResponse{
		Success: true,
		Message: "Prompt created",
		Prompt:  toPromptResponse(prompt),
	})
}

// List は認証ユーザーのプロンプト一覧を返す。
// GET /prompts, GET /posts
func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	prompts, err := h.service.ListByAuthor(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]promptResponse, 0, len(prompts))
	for _, p := range prompts {
		resp = append(resp, toPromptResponse(p))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// readPromptContent はContent-Typeに応じてcontentを取り出す。
func readPromptContent(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPromptBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxPromptBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return "", err
		}
		return r.PostFormValue("content"), nil
	default:
		var req createPromptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Content, nil
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotAuthenticated) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCSRFTokenFailed:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func toPromptResponse(p *model.Prompt) promptResponse {
	return promptResponse{
		ID:        p.ID,
		Content:   p.Content,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt.UTC().Format(timeLayout),
	}
}
