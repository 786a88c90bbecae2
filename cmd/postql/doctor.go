package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"postql/internal/config"
	"postql/internal/extract"
	"postql/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	var checkUpstream bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your PostQL installation",
		Long: `Verifies that PostQL's configuration, secrets, store, browser and relay
port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("PostQL Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'postql init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config is invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Secrets
			if cfg.Server.APIKey == "" {
				printWarn("Relay secret", "server.apiKey is empty; the relay rejects every query")
				warned++
			} else {
				printPass("Relay secret", "configured")
				passed++
			}
			if cfg.Upstream.APIKey == "" {
				printWarn("Upstream key", "upstream.apiKey is empty")
				warned++
			} else {
				printPass("Upstream key", "configured")
				passed++
			}

			// 4. Selector profile
			if _, err := extract.LoadProfile(cfg.Extraction.ProfilePath); err != nil {
				printFail("Selector profile", err.Error())
				failed++
			} else if cfg.Extraction.ProfilePath != "" {
				printPass("Selector profile", cfg.Extraction.ProfilePath)
				passed++
			}

			// 5. Store writable
			if cfg.Store.Enabled {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Store", err.Error())
					failed++
				} else {
					printPass("Store", cfg.Store.DBPath)
					passed++
				}
			}

			// 6. Browser
			if path, err := findChrome(); err != nil {
				printWarn("Browser", "Chrome/Chromium not found in PATH; only --html pages work")
				warned++
			} else {
				printPass("Browser", path)
				passed++
			}

			// 7. Relay port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Relay port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Relay port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 8. Upstream reachable (opt-in: it makes a network call)
			if checkUpstream {
				prov := provider.NewOpenAI(provider.OpenAIConfig{
					APIKey:  cfg.Upstream.APIKey,
					APIBase: cfg.Upstream.APIBase,
					Model:   cfg.Upstream.Model,
					Timeout: 10 * time.Second,
					Logger:  logger,
				})
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := prov.Healthy(ctx)
				cancel()
				if err != nil {
					printFail("Upstream", err.Error())
					failed++
				} else {
					printPass("Upstream", cfg.Upstream.APIBase)
					passed++
				}
			}

			// 9. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running PostQL.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nPostQL should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! PostQL is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkUpstream, "upstream", false, "also call the upstream /models endpoint")
	return cmd
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func findChrome() (string, error) {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", exec.ErrNotFound
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
