package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kaptinlin/jsonschema"

	"postql/internal/domain"
	"postql/internal/metrics"
)

const upstreamFailure = "Failed to communicate with the upstream model API."

// queryRule is one JSON Schema constraint on the request body and the message
// reported when it is violated. Rules are grouped per field; only the first
// violated rule of a field is reported.
type queryRule struct {
	field      string
	message    string
	constraint string
}

var queryRules = []queryRule{
	{"", "body must be a JSON object", `{"type":"object"}`},
	{"json", "json is required", `{"required":["json"],"properties":{"json":{"not":{"type":"null"}}}}`},
	{"query", "query is required", `{"required":["query"],"properties":{"query":{"not":{"type":"null"}}}}`},
	{"query", "query must be a string", `{"properties":{"query":{"type":"string"}}}`},
	{"query", "query must contain at least 3 characters", `{"properties":{"query":{"minLength":3}}}`},
}

type compiledRule struct {
	queryRule
	schema *jsonschema.Schema
}

var compiledQueryRules = mustCompileRules(queryRules)

func mustCompileRules(rules []queryRule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		schema, err := jsonschema.NewCompiler().Compile([]byte(r.constraint))
		if err != nil {
			panic(fmt.Sprintf("compile %s rule: %v", r.field, err))
		}
		out = append(out, compiledRule{queryRule: r, schema: schema})
	}
	return out
}

// validateQuery checks a request body and returns one message per violated
// constraint. The returned request is only usable when the list is empty.
func validateQuery(body []byte) (domain.QueryRequest, []string) {
	if !json.Valid(body) {
		return domain.QueryRequest{}, []string{compiledQueryRules[0].message}
	}

	var errs []string
	failed := make(map[string]bool)
	for _, r := range compiledQueryRules {
		if failed[r.field] {
			continue
		}
		if r.schema.ValidateJSON(body).IsValid() {
			continue
		}
		if r.field == "" {
			return domain.QueryRequest{}, []string{r.message}
		}
		failed[r.field] = true
		errs = append(errs, r.message)
	}
	if len(errs) > 0 {
		return domain.QueryRequest{}, errs
	}

	var req domain.QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.QueryRequest{}, []string{compiledQueryRules[0].message}
	}
	return req, nil
}

// BuildPrompt renders the single user message sent upstream.
func BuildPrompt(question string, doc json.RawMessage) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, doc); err != nil {
		return "", fmt.Errorf("compact document: %w", err)
	}
	return "You are a JSON assistant. Answer this query using only the given JSON data.\n\n" +
		"Query: " + question + "\n\nJSON: " + compact.String(), nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RelayInvalid.Inc()
			writeJSON(w, http.StatusRequestEntityTooLarge, failBody("request body too large"))
			return
		}
		metrics.RelayInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, failBody("cannot read request body"))
		return
	}

	req, problems := validateQuery(body)
	if len(problems) > 0 {
		metrics.RelayInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, failBody(problems...))
		return
	}

	prompt, err := BuildPrompt(req.Question, req.Document)
	if err != nil {
		metrics.RelayInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, failBody("json is not valid JSON"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UpstreamTimeout)
	defer cancel()

	metrics.InFlightRelays.Inc()
	start := time.Now()
	resp, err := s.cfg.Provider.Chat(ctx, domain.ChatRequest{
		Model:    s.cfg.Model,
		Messages: []domain.Message{{Role: "user", Content: prompt}},
	})
	metrics.InFlightRelays.Dec()
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RelayFailed.Inc()
		s.logger.Error("upstream call failed", "err", err, "request_id", reqID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": upstreamFailure})
		return
	}

	metrics.RelaySucceeded.Inc()
	s.logger.Debug("query answered", "request_id", reqID, "latency_ms", resp.LatencyMs)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]string{"result": CleanReply(resp.Content)},
	})
}

func failBody(msgs ...string) map[string]any {
	return map[string]any{"status": "fail", "error": msgs}
}
