package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/promptbox/internal/auth"
	"github.com/hitoshi/promptbox/internal/metrics"
	"github.com/hitoshi/promptbox/internal/middleware"
	"github.com/hitoshi/promptbox/internal/prompt"
	"github.com/hitoshi/promptbox/internal/repository"
	"github.com/hitoshi/promptbox/internal/security"
	"github.com/hitoshi/promptbox/internal/user"
)

// --- 統合テスト用のIdP ---

// fakeProvider は同意画面を経由せず、直ちにコールバックへリダイレクトするIdP。
// 次にログインするsubjectはloginAsで指定する。
type fakeProvider struct {
	mu          sync.Mutex
	callbackURL string
	next        string
}

func (p *fakeProvider) Name() string { return "google" }

func (p *fakeProvider) loginAs(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = subject
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := url.Values{"code": {"code-" + p.next}, "state": {state}}
	return p.callbackURL + "?" + q.Encode()
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*auth.Profile, error) {
	subject, ok := strings.CutPrefix(code, "code-")
	if !ok || subject == "" {
		return nil, fmt.Errorf("invalid_grant")
	}
	return &auth.Profile{
		Provider:    "google",
		SubjectID:   subject,
		Emails:      []string{subject + "@example.com"},
		DisplayName: strings.ToUpper(subject),
	}, nil
}

// --- 統合テスト用の環境 ---

type integrationEnv struct {
	server   *httptest.Server
	provider *fakeProvider
	users    *repository.MemoryUserRepo
	sessions *repository.MemorySessionRepo
	prompts  *repository.MemoryPromptRepo

	mu  sync.Mutex
	now time.Time
}

func (e *integrationEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *integrationEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	env := &integrationEnv{
		provider: &fakeProvider{},
		users:    repository.NewMemoryUserRepo(),
		sessions: repository.NewMemorySessionRepo(),
		prompts:  repository.NewMemoryPromptRepo(),
		now:      time.Now(),
	}
	env.sessions.SetClock(env.clock)

	authService := auth.NewService(
		env.provider,
		user.NewService(env.users),
		env.sessions,
		auth.ServiceConfig{ProviderTimeout: 5 * time.Second},
		auth.WithClock(env.clock),
		auth.WithAvatarValidator(security.NewSSRFGuard()),
		auth.WithDisplayNameSanitizer(security.NewDisplayNameSanitizer()),
	)
	promptService := prompt.NewService(env.prompts, prompt.DefaultMaxLength, metrics.Nop{})

	states, err := auth.NewStateCodec("integration-secret")
	if err != nil {
		t.Fatalf("failed to create state codec: %v", err)
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	// ルーターはサーバーURL確定後に差し込む
	var router http.Handler
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(env.server.Close)

	env.provider.callbackURL = env.server.URL + "/auth/google/callback"
	router = NewRouter(&RouterDeps{
		CORSAllowedOrigin: env.server.URL,
		RateLimiter:       rl,
		AuthService:       authService,
		StateCodec:        states,
		AuthConfig: AuthHandlerConfig{
			ClientURL:  env.server.URL + "/login/success",
			FailureURL: env.server.URL + "/login/failed",
		},
		PromptService: promptService,
	})

	return env
}

// browser はCookieを保持するHTTPクライアント。
type browser struct {
	t      *testing.T
	env    *integrationEnv
	client *http.Client
}

func (e *integrationEnv) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &browser{t: t, env: e, client: &http.Client{Jar: jar}}
}

func (b *browser) do(req *http.Request) (int, []byte) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, body
}

func (b *browser) get(path string) (int, []byte) {
	b.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, b.env.server.URL+path, nil)
	return b.do(req)
}

// login はsubjectとしてOAuthフローを通し、最終的な/login/successの結果を返す。
func (b *browser) login(subject string) (int, loginStatusResponse) {
	b.t.Helper()
	b.env.provider.loginAs(subject)
	status, body := b.get("/auth/google")
	var resp loginStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		b.t.Fatalf("failed to decode login response: %v (%s)", err, body)
	}
	return status, resp
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	_, body := b.get("/csrf-token")
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		b.t.Fatalf("failed to decode csrf token: %v", err)
	}
	return resp.Token
}

func (b *browser) postForm(path, content string) (int, []byte) {
	b.t.Helper()
	token := b.csrfToken()
	form := url.Values{"content": {content}}
	req, _ := http.NewRequest(http.MethodPost, b.env.server.URL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.CSRFHeaderName, token)
	return b.do(req)
}

func (b *browser) listContents(path string) (int, []string) {
	b.t.Helper()
	status, body := b.get(path)
	if status != http.StatusOK {
		return status, nil
	}
	var prompts []promptResponse
	if err := json.Unmarshal(body, &prompts); err != nil {
		b.t.Fatalf("failed to decode prompts: %v (%s)", err, body)
	}
	contents := make([]string, 0, len(prompts))
	for _, p := range prompts {
		contents = append(contents, p.Content)
	}
	return status, contents
}

// --- 統合テスト ---

// TestIntegration_TwoUsersScenario はログインからプロンプト作成、ユーザー間の分離、ログアウトまでを通しで検証する。
func TestIntegration_TwoUsersScenario(t *testing.T) {
	env := newIntegrationEnv(t)
	alice := env.newBrowser(t)
	bob := env.newBrowser(t)

	// 1. Aliceが初回ログインするとユーザーが作成される
	status, login := alice.login("alice")
	if status != http.StatusOK || !login.Success || login.User == nil {
		t.Fatalf("alice login: status=%d body=%+v", status, login)
	}
	aliceID := login.User.ID
	if login.User.Email != "alice@example.com" || login.User.DisplayName != "ALICE" {
		t.Errorf("alice profile = %+v", login.User)
	}

	// 2. Aliceがプロンプトを作成する
	status, body := alice.postForm("/user/post", "buy milk")
	if status != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", status, body)
	}
	var created createPromptResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if created.Prompt.AuthorID != aliceID {
		t.Errorf("author_id = %q, want %q", created.Prompt.AuthorID, aliceID)
	}

	// 3. Aliceの一覧に表示される
	if status, contents := alice.listContents("/posts"); status != http.StatusOK || len(contents) != 1 || contents[0] != "buy milk" {
		t.Errorf("alice list: status=%d contents=%v", status, contents)
	}

	// 4. Bobにはプロンプトが見えない
	if status, _ := bob.login("bob"); status != http.StatusOK {
		t.Fatalf("bob login: status=%d", status)
	}
	if status, contents := bob.listContents("/prompts"); status != http.StatusOK || len(contents) != 0 {
		t.Errorf("bob list: status=%d contents=%v", status, contents)
	}

	// 5. Aliceの再ログインでは既存ユーザーを再利用する
	if _, again := alice.login("alice"); again.User == nil || again.User.ID != aliceID {
		t.Errorf("alice relogin user = %+v, want ID %q", again.User, aliceID)
	}
	if got := env.users.Count(); got != 2 {
		t.Errorf("user count = %d, want 2", got)
	}

	// 6. ログアウト後は401。リダイレクト先の /login/success も未認証として401を返す
	if status, _ := alice.get("/logout"); status != http.StatusUnauthorized {
		t.Errorf("logout final status = %d, want %d", status, http.StatusUnauthorized)
	}
	if status, _ := alice.listContents("/prompts"); status != http.StatusUnauthorized {
		t.Errorf("list after logout: status = %d, want %d", status, http.StatusUnauthorized)
	}

	// 7. Bobのセッションは影響を受けない
	if status, _ := bob.listContents("/prompts"); status != http.StatusOK {
		t.Errorf("bob list after alice logout: status = %d, want %d", status, http.StatusOK)
	}
}

// TestIntegration_ExpiredSession_Returns401 は7日を過ぎたセッションが拒否されることを検証する。
func TestIntegration_ExpiredSession_Returns401(t *testing.T) {
	env := newIntegrationEnv(t)
	b := env.newBrowser(t)

	if status, _ := b.login("carol"); status != http.StatusOK {
		t.Fatalf("login: status=%d", status)
	}

	env.advance(6 * 24 * time.Hour)
	if status, _ := b.listContents("/prompts"); status != http.StatusOK {
		t.Errorf("before expiry: status = %d, want %d", status, http.StatusOK)
	}

	env.advance(2 * 24 * time.Hour)
	if status, _ := b.listContents("/prompts"); status != http.StatusUnauthorized {
		t.Errorf("after expiry: status = %d, want %d", status, http.StatusUnauthorized)
	}
}

// TestIntegration_PromptContentRoundTrips は本文がHTTP経由でも変換されずに保存・返却されることを検証する。
func TestIntegration_PromptContentRoundTrips(t *testing.T) {
	env := newIntegrationEnv(t)
	b := env.newBrowser(t)
	if status, _ := b.login("carol"); status != http.StatusOK {
		t.Fatalf("login: status=%d", status)
	}

	inputs := []string{
		"if a<b and c>d then swap",
		"Summarize the text inside <article> tags",
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"<br>",
	}
	for _, in := range inputs {
		if status, body := b.postForm("/prompts", in); status != http.StatusCreated {
			t.Fatalf("create %q: status=%d body=%s", in, status, body)
		}
	}

	status, contents := b.listContents("/prompts")
	if status != http.StatusOK {
		t.Fatalf("list: status=%d", status)
	}
	if diff := cmp.Diff(inputs, contents); diff != "" {
		t.Errorf("contents mismatch (-want +got):\n%s", diff)
	}
}

// TestIntegration_CreateWithoutSession_PersistsNothing は未認証の作成要求が何も保存しないことを検証する。
func TestIntegration_CreateWithoutSession_PersistsNothing(t *testing.T) {
	env := newIntegrationEnv(t)
	b := env.newBrowser(t)

	status, _ := b.postForm("/prompts", "hello")
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", status, http.StatusUnauthorized)
	}
	if got := env.prompts.Count(); got != 0 {
		t.Errorf("prompt count = %d, want 0", got)
	}
}

// TestIntegration_FailedCallback_RedirectsToFailure はコード交換の失敗でセッションが作られないことを検証する。
func TestIntegration_FailedCallback_RedirectsToFailure(t *testing.T) {
	env := newIntegrationEnv(t)
	b := env.newBrowser(t)

	status, resp := b.login("")
	if status != http.StatusUnauthorized || resp.Message != "failure" {
		t.Errorf("status=%d body=%+v, want 401 failure", status, resp)
	}
	if got := env.sessions.Count(); got != 0 {
		t.Errorf("session count = %d, want 0", got)
	}
	if got := env.users.Count(); got != 0 {
		t.Errorf("user count = %d, want 0", got)
	}
}
