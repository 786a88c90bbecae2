package extract

import (
	"context"
	"encoding/json"
	"testing"

	"postql/internal/domain"
)

func newTestDispatcher(t *testing.T, html string) *Dispatcher {
	t.Helper()
	page := mustPage(t, "web.postman.co", html)
	return NewDispatcher(newTestExtractor(t, domain.DefaultMaxDocumentBytes), page, "1.2.0")
}

func TestDispatcher_Ping(t *testing.T) {
	d := newTestDispatcher(t, viewer(""))
	resp := d.HandleRaw(context.Background(), []byte(`{"action":"ping"}`))
	if !resp.Success || resp.Version != "1.2.0" {
		t.Fatalf("unexpected ping response: %+v", resp)
	}
}

func TestDispatcher_GetJSON(t *testing.T) {
	d := newTestDispatcher(t, viewer(`<pre>{"user":{"id":1}}</pre>`))
	resp := d.HandleRaw(context.Background(), []byte(`{"action":"getJson"}`))
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	if string(resp.JSON) != `{"user":{"id":1}}` {
		t.Fatalf("json = %s", resp.JSON)
	}
	if resp.Timestamp == "" {
		t.Fatal("timestamp missing")
	}
}

func TestDispatcher_ExtractionFailureDetails(t *testing.T) {
	d := newTestDispatcher(t, viewer(`<p>no data</p>`))
	resp := d.Handle(context.Background(), Message{Action: "getJson"})
	if resp.Success || resp.Error == nil {
		t.Fatal("expected failure")
	}
	if resp.Error.Error != "ExtractionFailed" {
		t.Fatalf("error name = %q", resp.Error.Error)
	}
	for _, name := range []string{"copy", "scrape", "network", "heuristic"} {
		if _, ok := resp.Error.Details[name]; !ok {
			t.Errorf("details missing %s", name)
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]any
	json.Unmarshal(out, &wire)
	if wire["success"] != false {
		t.Fatalf("wire form = %s", out)
	}
}

func TestDispatcher_Ineligible(t *testing.T) {
	d := newTestDispatcher(t, `<html><body></body></html>`)
	resp := d.Handle(context.Background(), Message{Action: "getJson"})
	if resp.Success || resp.Error.Error != "IneligiblePage" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatcher_UnknownAndMalformed(t *testing.T) {
	d := newTestDispatcher(t, viewer(""))

	resp := d.HandleRaw(context.Background(), []byte(`{"action":"explode"}`))
	if resp.Success || resp.Error.Error != "UnknownAction" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp = d.HandleRaw(context.Background(), []byte(`not json`))
	if resp.Success || resp.Error.Error != "MalformedMessage" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
