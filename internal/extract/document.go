package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"postql/internal/domain"
)

// Digest returns the hex sha256 of the RFC 8785 canonical form of payload.
// Two payloads with the same members in a different order share a digest.
func Digest(payload json.RawMessage) (string, error) {
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// contentDigest is Digest, or the sha256 of the payload bytes when the
// payload has no canonical form (numbers outside the float64 range).
func contentDigest(payload json.RawMessage, logger *slog.Logger) string {
	digest, err := Digest(payload)
	if err == nil {
		return digest
	}
	logger.Debug("hashing document without canonicalization", "err", err)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func newDocument(payload json.RawMessage, strategy string, at time.Time, logger *slog.Logger) *domain.ExtractedDocument {
	digest := contentDigest(payload, logger)
	return &domain.ExtractedDocument{
		Payload:     payload,
		SizeBytes:   len(payload),
		Strategy:    strategy,
		ExtractedAt: at.UTC(),
		Digest:      digest,
	}
}
