package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"postql/internal/domain"
)

var (
	ErrIneligiblePage       = errors.New("page is not eligible for extraction")
	ErrExtractionInProgress = errors.New("extraction already in progress")
	ErrNotFound             = errors.New("not found on page")
	ErrEmpty                = errors.New("empty content")
	ErrUnparseable          = errors.New("content is not valid JSON")
	ErrNotContainer         = errors.New("JSON value is not an object or array")
	ErrOversize             = errors.New("document exceeds size limit")
	ErrUnsupported          = errors.New("page does not support this strategy")
)

// Strategy is one way of recovering the response document from a page.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error)
}

// Poll bounds how long a strategy keeps looking for its source.
type Poll struct {
	Attempts int
	Delay    time.Duration
}

// run calls try up to Attempts times, sleeping Delay between calls.
// try reports done=true to stop (with its error, if any, as the result);
// otherwise its error is kept and returned once the attempts run out.
func (p Poll) run(ctx context.Context, try func(ctx context.Context) (bool, error)) error {
	attempts := max(p.Attempts, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		done, err := try(ctx)
		if done {
			return err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OversizeError reports a payload larger than the configured ceiling.
type OversizeError struct {
	Size  int
	Limit int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("document is %d bytes, limit is %d", e.Size, e.Limit)
}

func (e *OversizeError) Unwrap() error { return ErrOversize }

// decodeDocument parses raw text into a compact JSON object or array no
// larger than limit bytes.
func decodeDocument(raw []byte, limit int) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}
	if !json.Valid(trimmed) {
		return nil, ErrUnparseable
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, ErrNotContainer
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if limit > 0 && buf.Len() > limit {
		return nil, &OversizeError{Size: buf.Len(), Limit: limit}
	}
	return json.RawMessage(buf.Bytes()), nil
}

// normalizeText replaces the non-breaking spaces editors use for indentation.
func normalizeText(s string) string {
	return strings.ReplaceAll(s, "\u00a0", " ")
}
