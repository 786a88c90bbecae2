package domain

import "context"

// StrategyStats is the running success/failure tally of one extraction strategy.
type StrategyStats struct {
	Strategy  string
	Successes int64
	Failures  int64
}

// DocumentStore keeps the last extracted document and per-strategy tallies.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc ExtractedDocument) error
	LastDocument(ctx context.Context) (*ExtractedDocument, error)
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	Stats(ctx context.Context) ([]StrategyStats, error)
	Close() error
}
