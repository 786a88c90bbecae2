package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxDocumentBytes is the ceiling on the serialized size of an extracted document.
const DefaultMaxDocumentBytes = 5 << 20

// MaxQuestionRunes bounds the question a caller may send to the relay.
const MaxQuestionRunes = 256

// ExtractedDocument is a JSON value recovered from the hosted page.
// A new value is produced by every successful extraction; it is never mutated.
type ExtractedDocument struct {
	Payload     json.RawMessage `json:"payload"`
	SizeBytes   int             `json:"sizeBytes"`
	Strategy    string          `json:"sourceStrategy"`
	ExtractedAt time.Time       `json:"extractedAt"`
	Digest      string          `json:"digest,omitempty"` // sha256 of the canonical form
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AttemptRecord describes one strategy run inside a single extraction call.
type AttemptRecord struct {
	Strategy string
	Outcome  Outcome
	Err      error
	At       time.Time
}

// QueryRequest is the body sent from a caller to the relay.
type QueryRequest struct {
	Document json.RawMessage `json:"json"`
	Question string          `json:"query"`
}

var (
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrInvalidDocument = errors.New("document must be a JSON object or array")
)

// NewQueryRequest sanitizes the question (trimmed, angle brackets removed,
// at most MaxQuestionRunes) and checks that the document is an object or array.
func NewQueryRequest(doc json.RawMessage, question string) (QueryRequest, error) {
	if !IsContainer(doc) {
		return QueryRequest{}, ErrInvalidDocument
	}
	q := SanitizeQuestion(question)
	if q == "" {
		return QueryRequest{}, ErrEmptyQuestion
	}
	return QueryRequest{Document: doc, Question: q}, nil
}

// SanitizeQuestion drops '<' and '>', trims the result and truncates it.
func SanitizeQuestion(question string) string {
	q := strings.NewReplacer("<", "", ">", "").Replace(question)
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > MaxQuestionRunes {
		q = string([]rune(q)[:MaxQuestionRunes])
	}
	return q
}

// IsContainer reports whether raw holds a JSON object or array.
func IsContainer(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '{', '[':
		return json.Valid(trimmed)
	}
	return false
}

type RelayStatus string

const (
	StatusSuccess RelayStatus = "success"
	StatusFail    RelayStatus = "fail"
)

// RelayResult is the answer returned by the relay for one question.
type RelayResult struct {
	Status RelayStatus
	Text   string
}
