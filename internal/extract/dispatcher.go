package extract

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"postql/internal/domain"
)

// Message is a request from the presentation side.
type Message struct {
	Action string `json:"action"`
}

// Response answers a Message.
type Response struct {
	Success   bool            `json:"success"`
	Version   string          `json:"version,omitempty"`
	JSON      json.RawMessage `json:"json,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the structured failure carried by a Response.
type ErrorInfo struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Dispatcher answers "ping" and "getJson" messages for one page.
type Dispatcher struct {
	extractor *Extractor
	page      domain.Page
	version   string
	now       func() time.Time
}

func NewDispatcher(extractor *Extractor, page domain.Page, version string) *Dispatcher {
	return &Dispatcher{extractor: extractor, page: page, version: version, now: time.Now}
}

// HandleRaw decodes raw as a Message and handles it.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) Response {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return d.failure("MalformedMessage", "message is not a JSON object with an action", nil)
	}
	return d.Handle(ctx, msg)
}

func (d *Dispatcher) Handle(ctx context.Context, msg Message) Response {
	switch msg.Action {
	case "ping":
		return Response{Success: true, Version: d.version}
	case "getJson":
		doc, err := d.extractor.Extract(ctx, d.page)
		if err != nil {
			return d.fromError(err)
		}
		return Response{Success: true, JSON: doc.Payload, Timestamp: doc.ExtractedAt.Format(time.RFC3339)}
	case "":
		return d.failure("MalformedMessage", "message has no action", nil)
	default:
		return d.failure("UnknownAction", "unknown action: "+msg.Action, map[string]any{"action": msg.Action})
	}
}

func (d *Dispatcher) fromError(err error) Response {
	var failure *ExtractionFailure
	switch {
	case errors.Is(err, ErrIneligiblePage):
		return d.failure("IneligiblePage", err.Error(), nil)
	case errors.Is(err, ErrExtractionInProgress):
		return d.failure("ExtractionInProgress", err.Error(), nil)
	case errors.As(err, &failure):
		details := make(map[string]any, len(failure.Attempts))
		for _, a := range failure.Attempts {
			details[a.Strategy] = a.Err.Error()
		}
		return d.failure("ExtractionFailed", "could not extract a JSON response from the page", details)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return d.failure("Cancelled", err.Error(), nil)
	default:
		return d.failure("UnknownError", err.Error(), nil)
	}
}

func (d *Dispatcher) failure(name, message string, details map[string]any) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Error:     name,
			Message:   message,
			Details:   details,
			Timestamp: d.now().UTC().Format(time.RFC3339),
		},
	}
}
