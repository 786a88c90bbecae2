package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"postql/internal/browser"
	"postql/internal/domain"
	"postql/internal/extract"
	"postql/internal/relay"
)

func extractCmd() *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the JSON response shown on the page",
		Long: `Runs the copy, scrape, network and heuristic strategies in order against the
page and prints the first JSON object or array found. The last document is kept
in the local store for 'postql ask'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Browser.Timeout())
			defer cancel()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			ex, err := newExtractor(cfg, st)
			if err != nil {
				return err
			}
			defer ex.Wait()

			page, release, err := pf.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			doc, err := ex.ExtractWithRetry(ctx, page, cfg.Extraction.InitAttempts, cfg.Extraction.PollDelay())
			if err != nil {
				return err
			}
			logger.Info("extracted", "strategy", doc.Strategy, "bytes", doc.SizeBytes, "digest", doc.Digest)
			return printIndented(doc.Payload)
		},
	}
	pf.register(cmd)
	return cmd
}

func watchCmd() *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-extract whenever the page changes",
		Long:  "Extracts once, then again after each burst of page activity settles. Prints one compact JSON line per new document. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			ex, err := newExtractor(cfg, st)
			if err != nil {
				return err
			}
			defer ex.Wait()

			page, release, err := pf.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			w := extract.NewWatcher(extract.WatcherConfig{
				Extractor: ex,
				Page:      page,
				Debounce:  cfg.Extraction.Debounce(),
				OnDocument: func(doc *domain.ExtractedDocument) {
					logger.Info("new document", "strategy", doc.Strategy, "bytes", doc.SizeBytes)
					fmt.Println(string(doc.Payload))
				},
				Logger: logger,
			})
			return w.Run(ctx)
		},
	}
	pf.register(cmd)
	return cmd
}

func messageCmd() *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "message [json]",
		Short: `Answer a page message such as {"action":"getJson"}`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Browser.Timeout())
			defer cancel()

			ex, err := newExtractor(cfg, nil)
			if err != nil {
				return err
			}
			page, release, err := pf.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()

			resp := extract.NewDispatcher(ex, page, version).HandleRaw(ctx, []byte(args[0]))
			out, err := json.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func askCmd() *cobra.Command {
	var pf pageFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the relay a question about the extracted JSON",
		Long: `Sends the question and a document to the relay. The document comes from the
page when --url or --html is given, otherwise from the last extraction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			var doc *domain.ExtractedDocument
			if pf.given() {
				ex, err := newExtractor(cfg, st)
				if err != nil {
					return err
				}
				defer ex.Wait()

				pageCtx, cancel := context.WithTimeout(ctx, cfg.Browser.Timeout())
				defer cancel()
				page, release, err := pf.open(pageCtx, cfg)
				if err != nil {
					return err
				}
				defer release()
				if doc, err = ex.ExtractWithRetry(pageCtx, page, cfg.Extraction.InitAttempts, cfg.Extraction.PollDelay()); err != nil {
					return err
				}
			} else {
				if st == nil {
					return fmt.Errorf("no page given and the store is disabled")
				}
				if doc, err = st.LastDocument(ctx); err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("no document extracted yet; run 'postql extract' first")
				}
			}

			client := relay.NewClient(relay.ClientConfig{
				BackendURL:     cfg.Client.BackendURL,
				APIKey:         cfg.Client.APIKey,
				Timeout:        cfg.Client.Timeout(),
				NetworkRetries: cfg.Client.NetworkRetries,
				Logger:         logger,
			})
			answer, err := client.Ask(ctx, doc.Payload, args[0])
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show extraction strategy success and failure counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("the store is disabled (store.enabled=false)")
			}
			defer st.Close()

			ctx := context.Background()
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STRATEGY\tSUCCESS\tFAILURE")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Strategy, s.Successes, s.Failures)
			}
			tw.Flush()

			if doc, err := st.LastDocument(ctx); err == nil && doc != nil {
				fmt.Printf("\nlast document: %d bytes via %s at %s\n", doc.SizeBytes, doc.Strategy, doc.ExtractedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the hosted application in a visible browser",
		Long:  "Opens a browser on the PostQL profile so session cookies are available to headless extraction. Press Ctrl+C when done.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			bridge := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Logger:     logger,
			})
			return bridge.Login(ctx, url)
		},
	}
	cmd.Flags().StringVar(&url, "url", "https://web.postman.co", "login page")
	return cmd
}

func printIndented(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
