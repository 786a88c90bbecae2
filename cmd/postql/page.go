package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"postql/internal/browser"
	"postql/internal/config"
	"postql/internal/domain"
	"postql/internal/extract"
	"postql/internal/snapshot"
	"postql/internal/store"
)

// pageFlags selects where the hosted page comes from: a live browser tab or
// a saved HTML snapshot.
type pageFlags struct {
	url      string
	htmlPath string
	host     string
	capture  string // saved API response body replayed into a snapshot
	headful  bool
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "open this URL in the browser (uses the login profile)")
	cmd.Flags().StringVar(&f.htmlPath, "html", "", "read the page from a saved HTML file instead of a browser")
	cmd.Flags().StringVar(&f.host, "host", "web.postman.co", "hostname the saved page was served from")
	cmd.Flags().StringVar(&f.capture, "capture", "", "saved API response body to replay into the snapshot")
	cmd.Flags().BoolVar(&f.headful, "headful", false, "show the browser window")
}

func (f *pageFlags) given() bool {
	return f.url != "" || f.htmlPath != ""
}

// open returns the page and a func releasing it.
func (f *pageFlags) open(ctx context.Context, cfg *config.Config) (domain.Page, func(), error) {
	switch {
	case f.htmlPath != "":
		p, err := snapshot.Load(f.htmlPath, f.host)
		if err != nil {
			return nil, nil, err
		}
		if f.capture != "" {
			body, err := os.ReadFile(f.capture)
			if err != nil {
				return nil, nil, fmt.Errorf("read capture: %w", err)
			}
			p.Intercept(ctx, extract.MatchAPIPath)
			p.Record("https://"+f.host+"/api/captured", body)
		}
		return p, func() {}, nil

	case f.url != "":
		sel, err := extract.LoadProfile(cfg.Extraction.ProfilePath)
		if err != nil {
			return nil, nil, err
		}
		bridge := browser.NewBridge(browser.BridgeConfig{
			ProfileDir:     cfg.Browser.ProfileDir,
			Headless:       cfg.Browser.Headless && !f.headful,
			ReadySelectors: sel.Containers,
			Logger:         logger,
		})
		p, cancel, err := bridge.Open(ctx)
		if err != nil {
			return nil, nil, err
		}
		// Record API traffic from the first request on.
		if err := p.Intercept(ctx, extract.MatchAPIPath); err != nil {
			cancel()
			return nil, nil, err
		}
		if err := p.Navigate(ctx, f.url); err != nil {
			cancel()
			return nil, nil, err
		}
		return p, cancel, nil
	}
	return nil, nil, fmt.Errorf("either --url or --html is required")
}

// openStore returns the document store, or nil when it is disabled.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

func newExtractor(cfg *config.Config, st *store.SQLiteStore) (*extract.Extractor, error) {
	sel, err := extract.LoadProfile(cfg.Extraction.ProfilePath)
	if err != nil {
		return nil, err
	}
	poll := extract.Poll{Attempts: cfg.Extraction.PollAttempts, Delay: cfg.Extraction.PollDelay()}

	var rec extract.Recorder
	if st != nil {
		rec = st
	}
	return extract.NewExtractor(extract.ExtractorConfig{
		Gate:       extract.NewGate(cfg.Extraction.AllowedDomains, sel.Containers, logger),
		Strategies: extract.DefaultStrategies(sel, poll, cfg.Extraction.MaxDocumentBytes),
		Recorder:   rec,
		Logger:     logger,
	}), nil
}
