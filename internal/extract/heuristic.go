package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"postql/internal/domain"
)

// HeuristicStrategy scans a snapshot of the page for any element whose text
// parses as a JSON object or array. Candidates are visited in document order.
type HeuristicStrategy struct {
	Candidates []string
	MaxBytes   int
}

func (s *HeuristicStrategy) Name() string { return "heuristic" }

func (s *HeuristicStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("page snapshot: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	var (
		found   json.RawMessage
		lastErr error
	)
	doc.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !s.isCandidate(el) {
			return true
		}
		text := strings.TrimSpace(normalizeText(el.Text()))
		if !looksLikeJSON(text) {
			return true
		}
		d, err := decodeDocument([]byte(text), s.MaxBytes)
		if err != nil {
			lastErr = err
			return true
		}
		found = d
		return false
	})

	if found != nil {
		return found, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no candidate held a usable document: %w", lastErr)
	}
	return nil, fmt.Errorf("json-like element: %w", ErrNotFound)
}

func (s *HeuristicStrategy) isCandidate(el *goquery.Selection) bool {
	for _, sel := range s.Candidates {
		if el.Is(sel) {
			return true
		}
	}
	return false
}

// looksLikeJSON is a cheap screen applied before parsing.
func looksLikeJSON(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
