// Package store persists the last extracted document and per-strategy
// outcome tallies in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"postql/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.DocumentStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveDocument replaces the stored document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc domain.ExtractedDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_document (slot, payload, size_bytes, strategy, extracted_at, digest)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
			payload = excluded.payload,
			size_bytes = excluded.size_bytes,
			strategy = excluded.strategy,
			extracted_at = excluded.extracted_at,
			digest = excluded.digest`,
		string(doc.Payload), doc.SizeBytes, doc.Strategy, doc.ExtractedAt.UTC(), doc.Digest,
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// LastDocument returns the stored document, or nil when none was saved.
func (s *SQLiteStore) LastDocument(ctx context.Context) (*domain.ExtractedDocument, error) {
	var (
		doc     domain.ExtractedDocument
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, size_bytes, strategy, extracted_at, digest FROM last_document WHERE slot = 1`,
	).Scan(&payload, &doc.SizeBytes, &doc.Strategy, &doc.ExtractedAt, &doc.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	doc.Payload = []byte(payload)
	return &doc, nil
}

// RecordAttempt adds one outcome to the strategy's tally.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	var success, failure int
	lastErr := ""
	if rec.Outcome == domain.OutcomeSuccess {
		success = 1
	} else {
		failure = 1
		if rec.Err != nil {
			lastErr = rec.Err.Error()
		}
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_stats (strategy, successes, failures, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(strategy) DO UPDATE SET
			successes = successes + excluded.successes,
			failures = failures + excluded.failures,
			last_error = CASE WHEN excluded.failures > 0 THEN excluded.last_error ELSE last_error END,
			updated_at = excluded.updated_at`,
		rec.Strategy, success, failure, lastErr, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record attempt for %s: %w", rec.Strategy, err)
	}
	return nil
}

// Stats returns the tallies ordered by strategy name.
func (s *SQLiteStore) Stats(ctx context.Context) ([]domain.StrategyStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strategy, successes, failures FROM strategy_stats ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.StrategyStats
	for rows.Next() {
		var st domain.StrategyStats
		if err := rows.Scan(&st.Strategy, &st.Successes, &st.Failures); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
