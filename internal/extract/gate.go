package extract

import (
	"context"
	"log/slog"
	"strings"

	"postql/internal/domain"
)

// Gate decides whether a page is eligible for extraction.
type Gate struct {
	domains    []string
	containers []string
	logger     *slog.Logger
}

func NewGate(domains, containers []string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{domains: domains, containers: containers, logger: logger}
}

// Eligible reports whether the page's host is allow-listed and a response
// container is present. It only reads page state.
func (g *Gate) Eligible(ctx context.Context, page domain.Page) bool {
	host, err := page.Hostname(ctx)
	if err != nil {
		g.logger.Debug("cannot read hostname", "err", err)
		return false
	}
	if !MatchesDomain(host, g.domains) {
		g.logger.Debug("host not allow-listed", "host", host)
		return false
	}

	sel, ok, _ := firstPresent(ctx, page, g.containers)
	if !ok {
		g.logger.Debug("response container not found", "selectors", g.containers)
		return false
	}
	g.logger.Debug("page eligible", "host", host, "container", sel)
	return true
}

// MatchesDomain reports whether host equals one of domains or is a
// subdomain of one ("example.com" matches "foo.example.com" but not "notexample.com").
func MatchesDomain(host string, domains []string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// firstPresent returns the first selector that matches an element on the page.
// Selectors whose lookup fails are skipped.
func firstPresent(ctx context.Context, page domain.Page, selectors []string) (string, bool, error) {
	var lastErr error
	for _, sel := range selectors {
		ok, err := page.Exists(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			lastErr = err
			continue
		}
		if ok {
			return sel, true, nil
		}
	}
	return "", false, lastErr
}
