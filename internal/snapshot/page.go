// Package snapshot serves a saved copy of the hosted page as a domain.Page.
//
// Clicking an element copies its data-clipboard-text attribute, or the text
// of the element named by its data-copy-target selector, to an in-memory
// clipboard. Captured responses can be fed in with Record.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"postql/internal/domain"
)

var ErrNoElement = errors.New("no element matches selector")

// Page is an immutable HTML document with a small amount of mutable
// browser state (clipboard and recorded responses).
type Page struct {
	host string
	html string
	doc  *goquery.Document

	mu        sync.Mutex
	clipboard string
	match     func(url string) bool
	last      *domain.CapturedResponse
}

// New parses html as the page served from host.
func New(host, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &Page{host: host, html: html, doc: doc}, nil
}

// Load reads a saved page from path.
func Load(path, host string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return New(host, string(data))
}

func (p *Page) Hostname(ctx context.Context) (string, error) {
	return p.host, nil
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	return p.doc.Find(selector).Length() > 0, nil
}

func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, s.Text())
	})
	return texts, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	el := p.doc.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("%s: %w", selector, ErrNoElement)
	}

	if text, ok := el.Attr("data-clipboard-text"); ok {
		p.setClipboard(text)
		return nil
	}
	if target, ok := el.Attr("data-copy-target"); ok {
		src := p.doc.Find(target).First()
		if src.Length() == 0 {
			return fmt.Errorf("copy target %s: %w", target, ErrNoElement)
		}
		p.setClipboard(src.Text())
	}
	return nil
}

func (p *Page) ReadClipboard(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clipboard, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.html, nil
}

// Intercept starts recording. Only the first call sets the filter.
func (p *Page) Intercept(ctx context.Context, match func(url string) bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.match == nil {
		p.match = match
	}
	return nil
}

// Record feeds a response into the page as if the page had fetched it.
// It is kept only while recording and when its URL passes the filter.
func (p *Page) Record(url string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.match == nil || !p.match(url) {
		return
	}
	p.last = &domain.CapturedResponse{URL: url, Body: append([]byte(nil), body...)}
}

func (p *Page) LastResponse() (domain.CapturedResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.CapturedResponse{}, false
	}
	return *p.last, true
}

func (p *Page) setClipboard(s string) {
	p.mu.Lock()
	p.clipboard = s
	p.mu.Unlock()
}
