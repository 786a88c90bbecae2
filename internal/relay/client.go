// Package relay is the caller side of the query relay: it sends an extracted
// document and a question to the relay endpoint and returns the answer text.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"postql/internal/domain"
)

const (
	maxResponseBytes = 10 << 20
	noResult         = "No result found"
)

var ErrTimeout = errors.New("relay request timed out")

// APIError is a non-2xx answer from the relay.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("relay returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("relay returned HTTP %d: %s", e.Status, strings.Join(e.Messages, "; "))
}

// ClientConfig holds configuration for the relay client.
type ClientConfig struct {
	BackendURL     string
	APIKey         string // sent as x-api-key when set
	Timeout        time.Duration
	NetworkRetries int
	RetryWait      time.Duration // first backoff step
	HTTPClient     *http.Client  // optional; defaults to a pooled cleanhttp client
	Logger         *slog.Logger
}

type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *retryablehttp.Client
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.NetworkRetries < 0 {
		cfg.NetworkRetries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.RetryMax = cfg.NetworkRetries
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = 4 * cfg.RetryWait
	rc.CheckRetry = networkOnly
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = cfg.Logger

	return &Client{
		url:     cfg.BackendURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    rc,
		logger:  cfg.Logger,
	}
}

// Ask sends doc and question to the relay and returns the answer text.
func (c *Client) Ask(ctx context.Context, doc json.RawMessage, question string) (string, error) {
	req, err := domain.NewQueryRequest(doc, question)
	if err != nil {
		return "", err
	}
	res, err := c.Query(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Query posts a prepared request. The whole exchange, retries included, is
// bounded by the client timeout.
func (c *Client) Query(ctx context.Context, q domain.QueryRequest) (domain.RelayResult, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return domain.RelayResult{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return domain.RelayResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.RelayResult{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return domain.RelayResult{}, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.RelayResult{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return domain.RelayResult{}, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.RelayResult{}, &APIError{Status: resp.StatusCode, Messages: errorMessages(data)}
	}

	return parseResult(data), nil
}

type resultBody struct {
	Status string `json:"status"`
	Data   struct {
		Result string `json:"result"`
	} `json:"data"`
	Result string `json:"result"`
}

// parseResult reads data.result, then result, and falls back to a fixed text.
func parseResult(data []byte) domain.RelayResult {
	var body resultBody
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&body); err != nil {
		return domain.RelayResult{Status: domain.StatusSuccess, Text: noResult}
	}

	text := body.Data.Result
	if text == "" {
		text = body.Result
	}
	if text == "" {
		text = noResult
	}
	status := domain.StatusSuccess
	if body.Status == string(domain.StatusFail) {
		status = domain.StatusFail
	}
	return domain.RelayResult{Status: status, Text: text}
}

// errorMessages reads the "error" member, which may be a string or a list.
func errorMessages(data []byte) []string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Error) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(body.Error, &single); err == nil {
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(body.Error, &list); err == nil {
		return list
	}
	return []string{string(body.Error)}
}
