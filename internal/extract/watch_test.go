package extract

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"postql/internal/domain"
)

type changingPage struct {
	domain.Page
	changes chan struct{}
}

func (p *changingPage) Changes() <-chan struct{} { return p.changes }

type sequenceStrategy struct {
	calls atomic.Int32
}

func (s *sequenceStrategy) Name() string { return "sequence" }

// Attempt returns the same document for the first two calls, then a new one.
func (s *sequenceStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	n := s.calls.Add(1)
	if n <= 2 {
		return json.RawMessage(`{"v":1}`), nil
	}
	return json.RawMessage(`{"v":2}`), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcher_DebouncesAndSkipsUnchanged(t *testing.T) {
	strategy := &sequenceStrategy{}
	e := NewExtractor(ExtractorConfig{Strategies: []Strategy{strategy}, Logger: testLogger()})
	page := &changingPage{changes: make(chan struct{}, 8)}

	var delivered atomic.Int32
	w := NewWatcher(WatcherConfig{
		Extractor:  e,
		Page:       page,
		Debounce:   30 * time.Millisecond,
		OnDocument: func(*domain.ExtractedDocument) { delivered.Add(1) },
		Logger:     testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return strategy.calls.Load() == 1 })

	// A burst of changes yields one extraction of an unchanged document.
	for i := 0; i < 3; i++ {
		page.changes <- struct{}{}
	}
	waitFor(t, func() bool { return strategy.calls.Load() == 2 })
	if delivered.Load() != 1 {
		t.Fatalf("unchanged document must not be delivered again, got %d", delivered.Load())
	}

	page.changes <- struct{}{}
	waitFor(t, func() bool { return strategy.calls.Load() == 3 })
	waitFor(t, func() bool { return delivered.Load() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestWatcher_PageWithoutChangesRunsOnce(t *testing.T) {
	strategy := &sequenceStrategy{}
	e := NewExtractor(ExtractorConfig{Strategies: []Strategy{strategy}, Logger: testLogger()})
	w := NewWatcher(WatcherConfig{Extractor: e, Page: mustPage(t, "web.postman.co", ""), Logger: testLogger()})

	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if strategy.calls.Load() != 1 {
		t.Fatalf("expected a single extraction, got %d", strategy.calls.Load())
	}
}

type fixedStrategy struct {
	payload json.RawMessage
	calls   atomic.Int32
}

func (s *fixedStrategy) Name() string { return "fixed" }

func (s *fixedStrategy) Attempt(ctx context.Context, page domain.Page) (json.RawMessage, error) {
	s.calls.Add(1)
	return s.payload, nil
}

func TestWatcher_SkipsUnchangedDocumentWithoutCanonicalForm(t *testing.T) {
	strategy := &fixedStrategy{payload: json.RawMessage(`{"big":1e400}`)}
	e := NewExtractor(ExtractorConfig{Strategies: []Strategy{strategy}, Logger: testLogger()})
	page := &changingPage{changes: make(chan struct{}, 8)}

	var delivered atomic.Int32
	w := NewWatcher(WatcherConfig{
		Extractor:  e,
		Page:       page,
		Debounce:   10 * time.Millisecond,
		OnDocument: func(*domain.ExtractedDocument) { delivered.Add(1) },
		Logger:     testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := int32(1); i <= 3; i++ {
		waitFor(t, func() bool { return strategy.calls.Load() == i })
		page.changes <- struct{}{}
	}
	waitFor(t, func() bool { return strategy.calls.Load() == 4 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if delivered.Load() != 1 {
		t.Fatalf("unchanged document delivered %d times", delivered.Load())
	}
}
