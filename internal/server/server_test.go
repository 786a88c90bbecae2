package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"postql/internal/domain"
	"postql/internal/metrics"
)

const testSecret = "relay-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	panics  bool
	calls   int
	lastReq domain.ChatRequest
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.panics {
		panic("provider exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{Content: p.reply}, nil
}

func newTestServer(p *fakeProvider, mutate ...func(*Config)) http.Handler {
	cfg := Config{
		APIKey:   testSecret,
		Model:    "test-model",
		Provider: p,
		Logger:   testLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg).Handler()
}

func postQuery(t *testing.T, h http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %q", rec.Body.String())
	}
	return out
}

func TestQuery_RoundTripCleansReply(t *testing.T) {
	p := &fakeProvider{reply: "```json\n{\"name\":\"ada\"}\n```\n## Answer\n\n\n* The user is **ada**"}
	h := newTestServer(p)

	rec := postQuery(t, h, testSecret, `{"json":{"users":[ {"name": "ada"} ]},"query":"who is the user?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	out := decode(t, rec)
	if out["status"] != "success" {
		t.Fatalf("status field = %v", out["status"])
	}
	result := out["data"].(map[string]any)["result"]
	if result != "Answer\nThe user is **ada**" {
		t.Fatalf("result = %q", result)
	}

	prompt := p.lastReq.Messages[0].Content
	if !strings.Contains(prompt, "Query: who is the user?") {
		t.Fatalf("prompt missing question: %q", prompt)
	}
	if !strings.HasSuffix(prompt, `JSON: {"users":[{"name":"ada"}]}`) {
		t.Fatalf("prompt should end with compact JSON: %q", prompt)
	}
	if p.lastReq.Messages[0].Role != "user" || p.lastReq.Model != "test-model" {
		t.Fatalf("unexpected upstream request: %+v", p.lastReq)
	}
}

func TestQuery_MissingKey(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	rec := postQuery(t, newTestServer(p), "", `{"json":{},"query":"valid question"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["error"] != "Forbidden: Invalid API key" {
		t.Fatalf("body = %s", rec.Body)
	}
	if p.calls != 0 {
		t.Fatal("upstream must not be called")
	}
}

func TestQuery_WrongKey(t *testing.T) {
	rec := postQuery(t, newTestServer(&fakeProvider{}), "relay-secreT", `{"json":{},"query":"valid question"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQuery_UnconfiguredSecretRejectsAll(t *testing.T) {
	h := newTestServer(&fakeProvider{}, func(c *Config) { c.APIKey = "" })
	rec := postQuery(t, h, "anything", `{"json":{},"query":"valid question"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQuery_AuthBeforeValidation(t *testing.T) {
	p := &fakeProvider{}
	rec := postQuery(t, newTestServer(p), "wrong", `this is not json`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("auth must be checked first, got %d", rec.Code)
	}
}

func TestQuery_ShortQuestion(t *testing.T) {
	p := &fakeProvider{}
	rec := postQuery(t, newTestServer(p), testSecret, `{"json":{"a":1},"query":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "fail" {
		t.Fatalf("status field = %v", out["status"])
	}
	errs := out["error"].([]any)
	if len(errs) != 1 || !strings.Contains(errs[0].(string), "at least 3") {
		t.Fatalf("errors = %v", errs)
	}
	if p.calls != 0 {
		t.Fatal("upstream must not be called")
	}
}

func TestQuery_ItemizesEveryProblem(t *testing.T) {
	rec := postQuery(t, newTestServer(&fakeProvider{}), testSecret, `{"json":null,"query":42}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	errs := decode(t, rec)["error"].([]any)
	if len(errs) != 2 {
		t.Fatalf("expected two messages, got %v", errs)
	}
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"multibyte question long enough", `{"json":{"a":1},"query":"héé"}`, nil},
		{"multibyte question too short", `{"json":{"a":1},"query":"hé"}`, []string{"query must contain at least 3 characters"}},
		{"both fields missing", `{}`, []string{"json is required", "query is required"}},
		{"null question", `{"json":[1],"query":null}`, []string{"query is required"}},
		{"non-string question", `{"json":[1],"query":true}`, []string{"query must be a string"}},
		{"array body", `[{"json":1,"query":"abc"}]`, []string{"body must be a JSON object"}},
		{"invalid json", `{"json":`, []string{"body must be a JSON object"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, got := validateQuery([]byte(tt.body))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("problems = %q, want %q", got, tt.want)
			}
			if tt.want == nil && req.Question != "héé" {
				t.Fatalf("question = %q", req.Question)
			}
		})
	}
}

func TestQuery_BodyNotObject(t *testing.T) {
	for _, body := range []string{`[1,2]`, `"text"`, `not json`, ``} {
		rec := postQuery(t, newTestServer(&fakeProvider{}), testSecret, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestQuery_UpstreamFailureHidesDetail(t *testing.T) {
	p := &fakeProvider{err: errors.New("upstream 401: invalid key sk-live-123")}
	rec := postQuery(t, newTestServer(p), testSecret, `{"json":{"a":1},"query":"what is a?"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["error"] != upstreamFailure {
		t.Fatalf("body = %s", rec.Body)
	}
	if strings.Contains(rec.Body.String(), "sk-live") {
		t.Fatal("upstream detail leaked to the caller")
	}
}

func TestQuery_PanicBecomesGeneric500(t *testing.T) {
	p := &fakeProvider{panics: true}
	rec := postQuery(t, newTestServer(p), testSecret, `{"json":{"a":1},"query":"what is a?"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["error"] != "Something went wrong!" {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestQuery_BodyTooLarge(t *testing.T) {
	h := newTestServer(&fakeProvider{reply: "ok"}, func(c *Config) { c.MaxBodyBytes = 64 })
	body := `{"json":{"data":"` + strings.Repeat("x", 200) + `"},"query":"what is it?"}`
	rec := postQuery(t, h, testSecret, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQuery_RateLimited(t *testing.T) {
	h := newTestServer(&fakeProvider{reply: "ok"}, func(c *Config) { c.RateLimitPerMinute = 2 })
	body := `{"json":{"a":1},"query":"what is a?"}`

	for i := 0; i < 2; i++ {
		if rec := postQuery(t, h, testSecret, body); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	if rec := postQuery(t, h, testSecret, body); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestBannerHealthAndMetrics(t *testing.T) {
	h := newTestServer(&fakeProvider{}, func(c *Config) {
		c.MetricsHandler = metrics.Collector.Handler()
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "test-model") {
		t.Fatalf("banner: %d %q", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "postql_uptime_seconds") {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body)
	}
}

func TestCORSAllowsAPIKeyHeader(t *testing.T) {
	h := newTestServer(&fakeProvider{})
	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "x-api-key, content-type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	allowed := strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowed, "x-api-key") {
		t.Fatalf("x-api-key not allowed: %q", allowed)
	}
}

func TestCleanReply(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain answer", "plain answer"},
		{"  padded  \n", "padded"},
		{"Here:\n```python\nprint(1)\n```\nDone.", "Here:\nDone."},
		{"# Title\n> quoted\n- item\n-- double", "Title\nquoted\nitem\ndouble"},
		{"a\n\n\n\nb", "a\nb"},
		{"a\n  \n\t\nb", "a\nb"},
		{"```\nonly code\n```", ""},
	}
	for _, tc := range cases {
		if got := CleanReply(tc.in); got != tc.want {
			t.Errorf("CleanReply(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
