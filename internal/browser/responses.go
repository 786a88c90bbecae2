package browser

import (
	"sync"

	"github.com/chromedp/cdproto/network"

	"postql/internal/domain"
)

// responseLog tracks in-flight matching requests and keeps the body of the
// most recently finished one. Bodies are fetched concurrently, so a body is
// kept only if no later request has already been stored.
type responseLog struct {
	mu      sync.Mutex
	match   func(url string) bool
	pending map[network.RequestID]string
	seq     uint64
	latest  uint64
	resp    *domain.CapturedResponse
}

func newResponseLog() *responseLog {
	return &responseLog{pending: make(map[network.RequestID]string)}
}

func (l *responseLog) setFilter(match func(url string) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.match = match
}

func (l *responseLog) begin(id network.RequestID, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.match == nil || !l.match(url) {
		return
	}
	l.pending[id] = url
}

func (l *responseLog) drop(id network.RequestID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
}

// finish assigns the completion order of a pending request.
func (l *responseLog) finish(id network.RequestID) (string, uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	url, ok := l.pending[id]
	if !ok {
		return "", 0, false
	}
	delete(l.pending, id)
	l.seq++
	return url, l.seq, true
}

func (l *responseLog) store(seq uint64, url string, body []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.latest {
		return false
	}
	l.latest = seq
	l.resp = &domain.CapturedResponse{URL: url, Body: body}
	return true
}

func (l *responseLog) last() (domain.CapturedResponse, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resp == nil {
		return domain.CapturedResponse{}, false
	}
	return *l.resp, true
}
