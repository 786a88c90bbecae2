package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"postql/internal/domain"
)

// ScrapeStrategy reads the rendered text of the response view.
// All elements matched by the first selector with any text are joined by newlines.
type ScrapeStrategy struct {
	Views    []string
	Poll     Poll
	MaxBytes int
}

func (s *ScrapeStrategy) Name() string { return "scrape" }

func (s *ScrapeStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	var text string
	err := s.Poll.run(ctx, func(ctx context.Context) (bool, error) {
		t, err := s.visibleText(ctx, page)
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if err != nil {
			return false, err
		}
		text = t
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument([]byte(text), s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("rendered text: %w", err)
	}
	return doc, nil
}

func (s *ScrapeStrategy) visibleText(ctx context.Context, page domain.Page) (string, error) {
	for _, sel := range s.Views {
		texts, err := page.Texts(ctx, sel)
		if err != nil || len(texts) == 0 {
			continue
		}
		joined := normalizeText(strings.Join(texts, "\n"))
		if strings.TrimSpace(joined) == "" {
			continue
		}
		return joined, nil
	}
	return "", fmt.Errorf("response text: %w", ErrNotFound)
}
