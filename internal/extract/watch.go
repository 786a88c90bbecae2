package extract

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"postql/internal/domain"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Extractor *Extractor
	Page      domain.Page
	Debounce  time.Duration
	// OnDocument is called for each newly extracted document whose digest
	// differs from the previous one.
	OnDocument func(doc *domain.ExtractedDocument)
	Logger     *slog.Logger
}

// Watcher re-extracts after the page has been quiet for the debounce period.
type Watcher struct {
	cfg        WatcherConfig
	logger     *slog.Logger
	lastDigest string
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 1500 * time.Millisecond
	}
	return &Watcher{cfg: cfg, logger: logger}
}

// Run extracts once, then again after every burst of page changes, until ctx
// is done. Pages that cannot report changes are extracted once.
func (w *Watcher) Run(ctx context.Context) error {
	w.extract(ctx)

	notifier, ok := w.cfg.Page.(domain.ChangeNotifier)
	if !ok {
		w.logger.Debug("page does not report changes, watching stopped")
		return nil
	}
	changes := notifier.Changes()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.extract(ctx)
		}
	}
}

func (w *Watcher) extract(ctx context.Context) {
	doc, err := w.cfg.Extractor.Extract(ctx, w.cfg.Page)
	switch {
	case err == nil:
	case errors.Is(err, ErrExtractionInProgress), errors.Is(err, ErrIneligiblePage):
		w.logger.Debug("extraction skipped", "err", err)
		return
	case ctx.Err() != nil:
		return
	default:
		w.logger.Warn("extraction failed", "err", err)
		return
	}

	if doc.Digest != "" && doc.Digest == w.lastDigest {
		return
	}
	w.lastDigest = doc.Digest
	if w.cfg.OnDocument != nil {
		w.cfg.OnDocument(doc)
	}
}
