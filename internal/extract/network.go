package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"postql/internal/domain"
)

// MatchAPIPath selects the page's API traffic.
func MatchAPIPath(url string) bool {
	return strings.Contains(url, "/api/") || strings.Contains(url, "/v1/")
}

// NetworkStrategy reads the most recent API response recorded by the page.
// Only the latest matching response is considered.
type NetworkStrategy struct {
	Match    func(url string) bool
	Poll     Poll
	MaxBytes int
}

func (s *NetworkStrategy) Name() string { return "network" }

func (s *NetworkStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	rec, ok := page.(domain.Interceptor)
	if !ok {
		return nil, ErrUnsupported
	}

	match := s.Match
	if match == nil {
		match = MatchAPIPath
	}
	if err := rec.Intercept(ctx, match); err != nil {
		return nil, fmt.Errorf("install response recorder: %w", err)
	}

	var doc json.RawMessage
	err := s.Poll.run(ctx, func(ctx context.Context) (bool, error) {
		resp, ok := rec.LastResponse()
		if !ok {
			return false, fmt.Errorf("api response: %w", ErrNotFound)
		}
		d, err := decodeDocument(resp.Body, s.MaxBytes)
		if err != nil {
			return false, fmt.Errorf("response from %s: %w", resp.URL, err)
		}
		doc = d
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
