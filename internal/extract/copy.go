package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"postql/internal/domain"
)

// CopyStrategy clicks the viewer's "copy" control and parses the clipboard.
type CopyStrategy struct {
	Buttons  []string
	Poll     Poll
	MaxBytes int
}

func (s *CopyStrategy) Name() string { return "copy" }

func (s *CopyStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	var button string
	err := s.Poll.run(ctx, func(ctx context.Context) (bool, error) {
		sel, ok, err := firstPresent(ctx, page, s.Buttons)
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if !ok {
			if err != nil {
				return false, fmt.Errorf("copy control: %w", err)
			}
			return false, fmt.Errorf("copy control: %w", ErrNotFound)
		}
		button = sel
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if err := page.Click(ctx, button); err != nil {
		return nil, fmt.Errorf("click %s: %w", button, err)
	}
	text, err := page.ReadClipboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("read clipboard: %w", err)
	}

	doc, err := decodeDocument([]byte(text), s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("clipboard: %w", err)
	}
	return doc, nil
}
