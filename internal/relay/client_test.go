package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"postql/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyTransport fails the first n round trips with a refused connection.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (t *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.calls.Add(1) <= t.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	return t.next.RoundTrip(r)
}

func newTestClient(url string, cfg ClientConfig) *Client {
	cfg.BackendURL = url
	cfg.Logger = testLogger()
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Millisecond
	}
	return NewClient(cfg)
}

var doc = json.RawMessage(`{"users":[{"name":"ada"}]}`)

func TestAsk_SendsRequest(t *testing.T) {
	var got domain.QueryRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-api-key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"success","data":{"result":"ada"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ClientConfig{APIKey: "secret"})
	answer, err := c.Ask(context.Background(), doc, "  <b>who</b> is there?  ")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "ada" {
		t.Fatalf("answer = %q", answer)
	}
	if key != "secret" {
		t.Fatalf("x-api-key = %q", key)
	}
	if got.Question != "bwho/b is there?" {
		t.Fatalf("question = %q", got.Question)
	}
	if string(got.Document) != string(doc) {
		t.Fatalf("document = %s", got.Document)
	}
}

func TestAsk_RejectsInvalidInputWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ClientConfig{})
	if _, err := c.Ask(context.Background(), json.RawMessage(`42`), "what?"); !errors.Is(err, domain.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if _, err := c.Ask(context.Background(), doc, "  <> "); !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("no request should be sent for invalid input")
	}
}

func TestAsk_RetriesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":"third time"}}`))
	}))
	defer srv.Close()

	transport := &flakyTransport{failures: 2, next: http.DefaultTransport}
	c := newTestClient(srv.URL, ClientConfig{
		NetworkRetries: 2,
		HTTPClient:     &http.Client{Transport: transport},
	})

	answer, err := c.Ask(context.Background(), doc, "anything?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "third time" {
		t.Fatalf("answer = %q", answer)
	}
	if transport.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", transport.calls.Load())
	}
}

func TestAsk_GivesUpAfterRetries(t *testing.T) {
	transport := &flakyTransport{failures: 10, next: http.DefaultTransport}
	c := newTestClient("http://relay.invalid/api/query", ClientConfig{
		NetworkRetries: 2,
		HTTPClient:     &http.Client{Transport: transport},
	})

	_, err := c.Ask(context.Background(), doc, "anything?")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected the network error, got %v", err)
	}
	if transport.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", transport.calls.Load())
	}
}

func TestAsk_NoRetryOnHTTPError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"fail","error":["query must be at least 3 characters long"]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ClientConfig{NetworkRetries: 2})
	_, err := c.Ask(context.Background(), doc, "anything?")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || len(apiErr.Messages) != 1 {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
	if hits.Load() != 1 {
		t.Fatalf("HTTP errors must not be retried, got %d requests", hits.Load())
	}
}

func TestAsk_ErrorAsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"Forbidden: Invalid API key"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, ClientConfig{}).Ask(context.Background(), doc, "anything?")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Messages[0] != "Forbidden: Invalid API key" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAsk_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ClientConfig{Timeout: 50 * time.Millisecond, NetworkRetries: 2})
	start := time.Now()
	_, err := c.Ask(context.Background(), doc, "anything?")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout should not be retried")
	}
}

func TestParseResult_Fallbacks(t *testing.T) {
	cases := map[string]string{
		`{"status":"success","data":{"result":"nested"}}`: "nested",
		`{"result":"flat"}`:                      "flat",
		`{"data":{"result":""},"result":"flat"}`: "flat",
		`{"status":"success","data":{}}`:         noResult,
		`not json`:                               noResult,
	}
	for body, want := range cases {
		if got := parseResult([]byte(body)).Text; got != want {
			t.Errorf("parseResult(%s) = %q, want %q", body, got, want)
		}
	}
}

func TestIsNetworkError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{&net.DNSError{Err: "no such host", Name: "relay.invalid"}, true},
		{syscall.ECONNRESET, true},
		{io.ErrUnexpectedEOF, true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("boom"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsNetworkError(tc.err); got != tc.want {
			t.Errorf("IsNetworkError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
