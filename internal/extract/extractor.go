package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"postql/internal/domain"
	"postql/internal/metrics"
)

// Recorder receives per-strategy telemetry. domain.DocumentStore satisfies it.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error
	SaveDocument(ctx context.Context, doc domain.ExtractedDocument) error
}

// ExtractionFailure is returned when every strategy failed.
type ExtractionFailure struct {
	Attempts []domain.AttemptRecord
}

func (e *ExtractionFailure) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return "all extraction strategies failed (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes the per-strategy errors to errors.Is and errors.As.
func (e *ExtractionFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// ExtractorConfig holds the dependencies of an Extractor.
type ExtractorConfig struct {
	Gate       *Gate
	Strategies []Strategy // tried in order; nil means DefaultStrategies
	Recorder   Recorder   // optional
	Logger     *slog.Logger
	Now        func() time.Time
}

// Extractor recovers the response document from an eligible page.
// It runs at most one extraction at a time.
type Extractor struct {
	gate       *Gate
	strategies []Strategy
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time

	busy      atomic.Bool
	last      atomic.Pointer[domain.ExtractedDocument]
	telemetry sync.WaitGroup
}

func NewExtractor(cfg ExtractorConfig) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	strategies := cfg.Strategies
	if strategies == nil {
		strategies = DefaultStrategies(DefaultSelectors(), Poll{Attempts: 5, Delay: time.Second}, domain.DefaultMaxDocumentBytes)
	}
	return &Extractor{
		gate:       cfg.Gate,
		strategies: strategies,
		recorder:   cfg.Recorder,
		logger:     logger,
		now:        now,
	}
}

// DefaultStrategies returns copy, scrape, network and heuristic, in that order.
func DefaultStrategies(sel Selectors, poll Poll, maxBytes int) []Strategy {
	return []Strategy{
		&CopyStrategy{Buttons: sel.CopyButtons, Poll: poll, MaxBytes: maxBytes},
		&ScrapeStrategy{Views: sel.TextViews, Poll: poll, MaxBytes: maxBytes},
		&NetworkStrategy{Match: MatchAPIPath, Poll: poll, MaxBytes: maxBytes},
		&HeuristicStrategy{Candidates: sel.Candidates, MaxBytes: maxBytes},
	}
}

// Extract runs the gate and then each strategy until one yields a document.
// A call made while another is running returns ErrExtractionInProgress.
func (e *Extractor) Extract(ctx context.Context, page domain.Page) (*domain.ExtractedDocument, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrExtractionInProgress
	}
	defer e.busy.Store(false)

	if e.gate != nil && !e.gate.Eligible(ctx, page) {
		return nil, ErrIneligiblePage
	}

	start := e.now()
	defer func() { metrics.ExtractionLatency.Observe(time.Since(start).Seconds()) }()

	var attempts []domain.AttemptRecord
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			e.report(attempts)
			return nil, err
		}

		payload, err := s.Attempt(ctx, page)
		rec := domain.AttemptRecord{Strategy: s.Name(), At: e.now()}
		if err != nil {
			rec.Outcome, rec.Err = domain.OutcomeFailure, err
			attempts = append(attempts, rec)
			e.logger.Debug("strategy failed", "strategy", s.Name(), "err", err)
			continue
		}

		rec.Outcome = domain.OutcomeSuccess
		attempts = append(attempts, rec)
		doc := newDocument(payload, s.Name(), rec.At, e.logger)
		e.last.Store(doc)
		e.logger.Info("document extracted", "strategy", s.Name(), "bytes", doc.SizeBytes)
		e.report(attempts, *doc)
		return doc, nil
	}

	e.report(attempts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &ExtractionFailure{Attempts: attempts}
}

// ExtractWithRetry repeats Extract up to attempts times, waiting delay between
// tries. Ineligible pages and cancellation end the loop early.
func (e *Extractor) ExtractWithRetry(ctx context.Context, page domain.Page, attempts int, delay time.Duration) (*domain.ExtractedDocument, error) {
	var lastErr error
	for i := 0; i < max(attempts, 1); i++ {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			e.logger.Debug("retrying extraction", "attempt", i+1, "err", lastErr)
		}
		doc, err := e.Extract(ctx, page)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, ErrIneligiblePage) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Last returns the most recently extracted document, or nil.
func (e *Extractor) Last() *domain.ExtractedDocument {
	return e.last.Load()
}

// Wait blocks until pending telemetry writes have finished.
func (e *Extractor) Wait() {
	e.telemetry.Wait()
}

// report records strategy outcomes after the extraction decision. Failures
// here are logged and never reach the caller.
func (e *Extractor) report(attempts []domain.AttemptRecord, docs ...domain.ExtractedDocument) {
	for _, a := range attempts {
		metrics.StrategyOutcome(a.Strategy, string(a.Outcome)).Inc()
	}
	if e.recorder == nil || len(attempts) == 0 {
		return
	}

	e.telemetry.Add(1)
	go func() {
		defer e.telemetry.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, a := range attempts {
			if err := e.recorder.RecordAttempt(ctx, a); err != nil {
				e.logger.Warn("failed to record strategy outcome", "strategy", a.Strategy, "err", err)
			}
		}
		for _, d := range docs {
			if err := e.recorder.SaveDocument(ctx, d); err != nil {
				e.logger.Warn("failed to persist document", "err", err)
			}
		}
	}()
}
