package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeQuestion_TruncatesMultibyteToRuneLimit(t *testing.T) {
	q := SanitizeQuestion(strings.Repeat("é", MaxQuestionRunes+10))
	if n := utf8.RuneCountInString(q); n != MaxQuestionRunes {
		t.Fatalf("expected %d runes, got %d", MaxQuestionRunes, n)
	}
	if !utf8.ValidString(q) {
		t.Fatal("truncation split a multibyte character")
	}
}

func TestSanitizeQuestion_AtLimitUnchanged(t *testing.T) {
	in := strings.Repeat("日", MaxQuestionRunes)
	if got := SanitizeQuestion(in); got != in {
		t.Fatal("question at the limit must be kept whole")
	}
}

func TestSanitizeQuestion_StripsAngleBrackets(t *testing.T) {
	cases := map[string]string{
		"what is <b>total</b>?": "what is btotal/b?",
		"<> a":                  "a",
		"  a >":                 "a",
		"<>":                    "",
	}
	for in, want := range cases {
		if got := SanitizeQuestion(in); got != want {
			t.Errorf("SanitizeQuestion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsContainer(t *testing.T) {
	cases := map[string]bool{
		`{"a":1}`:    true,
		` [1,2] `:    true,
		`{}`:         true,
		`"text"`:     false,
		`42`:         false,
		`true`:       false,
		`null`:       false,
		`{"a":`:      false,
		`[1,2`:       false,
		``:           false,
		`{"a":1} []`: false,
	}
	for raw, want := range cases {
		if got := IsContainer(json.RawMessage(raw)); got != want {
			t.Errorf("IsContainer(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNewQueryRequest(t *testing.T) {
	if _, err := NewQueryRequest(json.RawMessage(`42`), "what?"); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if _, err := NewQueryRequest(json.RawMessage(`{"a":1}`), " <> "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
	req, err := NewQueryRequest(json.RawMessage(`{"a":1}`), "  what is a? ")
	if err != nil {
		t.Fatal(err)
	}
	if req.Question != "what is a?" {
		t.Fatalf("question = %q", req.Question)
	}
}
