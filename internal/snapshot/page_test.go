package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const viewer = `<html><body>
<div class="response-viewer-tab-content">
  <button class="copy-response-button" data-copy-target="#body">Copy</button>
  <button id="literal" data-clipboard-text='{"a":1}'>Copy literal</button>
  <pre id="body">{"id": 7}</pre>
  <div class="view-line">first</div>
  <div class="view-line">second</div>
</div>
</body></html>`

func TestPage_ClickCopiesTarget(t *testing.T) {
	p, err := New("web.postman.co", viewer)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := p.Click(ctx, ".copy-response-button"); err != nil {
		t.Fatalf("click: %v", err)
	}
	got, _ := p.ReadClipboard(ctx)
	if got != `{"id": 7}` {
		t.Fatalf("clipboard = %q", got)
	}

	if err := p.Click(ctx, "#literal"); err != nil {
		t.Fatalf("click: %v", err)
	}
	got, _ = p.ReadClipboard(ctx)
	if got != `{"a":1}` {
		t.Fatalf("clipboard = %q", got)
	}
}

func TestPage_ClickMissing(t *testing.T) {
	p, _ := New("web.postman.co", viewer)
	err := p.Click(context.Background(), ".nope")
	if !errors.Is(err, ErrNoElement) {
		t.Fatalf("expected ErrNoElement, got %v", err)
	}
}

func TestPage_TextsInDocumentOrder(t *testing.T) {
	p, _ := New("web.postman.co", viewer)
	texts, err := p.Texts(context.Background(), ".view-line")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(texts, ",") != "first,second" {
		t.Fatalf("texts = %v", texts)
	}
}

func TestPage_RecordRequiresIntercept(t *testing.T) {
	p, _ := New("web.postman.co", viewer)
	p.Record("https://x/api/run", []byte(`{}`))
	if _, ok := p.LastResponse(); ok {
		t.Fatal("response recorded before Intercept")
	}

	apiOnly := func(u string) bool { return strings.Contains(u, "/api/") }
	p.Intercept(context.Background(), apiOnly)
	p.Intercept(context.Background(), func(string) bool { return true })

	p.Record("https://x/api/one", []byte(`{"n":1}`))
	p.Record("https://x/static/app.js", []byte(`var x`))
	p.Record("https://x/api/two", []byte(`{"n":2}`))

	resp, ok := p.LastResponse()
	if !ok || resp.URL != "https://x/api/two" {
		t.Fatalf("last = %+v, %v", resp, ok)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(viewer), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path, "web.postman.co")
	if err != nil {
		t.Fatal(err)
	}
	ok, _ := p.Exists(context.Background(), ".response-viewer-tab-content")
	if !ok {
		t.Fatal("container should exist")
	}
	host, _ := p.Hostname(context.Background())
	if host != "web.postman.co" {
		t.Fatalf("host = %q", host)
	}
}
