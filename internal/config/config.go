package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for PostQL.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Server     ServerConfig     `json:"server"`
	Upstream   UpstreamConfig   `json:"upstream"`
	Client     ClientConfig     `json:"client"`
	Extraction ExtractionConfig `json:"extraction"`
	Browser    BrowserConfig    `json:"browser"`
	Store      StoreConfig      `json:"store"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ServerConfig configures the relay endpoint (POST /api/query).
type ServerConfig struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	APIKey             string   `json:"apiKey"` // shared secret expected in x-api-key
	CORSOrigins        []string `json:"corsOrigins"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"` // 0 = disabled
	MaxBodyBytes       int64    `json:"maxBodyBytes"`
}

// UpstreamConfig configures the chat-completion API the relay forwards to.
type UpstreamConfig struct {
	APIBase        string `json:"apiBase"`
	APIKey         string `json:"apiKey"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// ClientConfig configures the caller side of the relay.
type ClientConfig struct {
	BackendURL     string `json:"backendUrl"`
	APIKey         string `json:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	NetworkRetries int    `json:"networkRetries"`
}

type ExtractionConfig struct {
	AllowedDomains   []string `json:"allowedDomains"`
	ProfilePath      string   `json:"profilePath,omitempty"` // optional YAML selector profile
	PollAttempts     int      `json:"pollAttempts"`
	PollDelayMs      int      `json:"pollDelayMs"`
	MaxDocumentBytes int      `json:"maxDocumentBytes"`
	InitAttempts     int      `json:"initAttempts"`
	DebounceMs       int      `json:"debounceMs"`
}

type BrowserConfig struct {
	ProfileDir     string `json:"profileDir"`
	Headless       bool   `json:"headless"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint on the relay server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ExtractionConfig) PollDelay() time.Duration {
	return time.Duration(c.PollDelayMs) * time.Millisecond
}

func (c ExtractionConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c BrowserConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.postql).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".postql"
	}
	return filepath.Join(home, ".postql")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	Prepare(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Prepare resolves secrets and expands ~/ in every path field. Load calls it;
// callers falling back to Defaults must call it themselves.
func Prepare(cfg *Config) {
	ResolveSecrets(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Extraction.ProfilePath = ExpandPath(cfg.Extraction.ProfilePath)
}

// ResolveSecrets expands ${VAR} references left in credential fields (for
// example by Defaults) and clears the ones whose variable is unset.
func ResolveSecrets(cfg *Config) {
	for _, s := range []*string{&cfg.Server.APIKey, &cfg.Upstream.APIKey, &cfg.Client.APIKey} {
		v := ExpandEnvVars(*s)
		if envVarPattern.MatchString(v) {
			v = ""
		}
		*s = v
	}
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server.rateLimitPerMinute must be >= 0")
	}
	if cfg.Server.MaxBodyBytes < int64(cfg.Extraction.MaxDocumentBytes) {
		errs = append(errs, "server.maxBodyBytes must be >= extraction.maxDocumentBytes")
	}

	if _, err := url.ParseRequestURI(cfg.Upstream.APIBase); err != nil {
		errs = append(errs, "upstream.apiBase must be an absolute URL")
	}
	if cfg.Upstream.TimeoutSeconds < 1 {
		errs = append(errs, "upstream.timeoutSeconds must be >= 1")
	}

	if _, err := url.ParseRequestURI(cfg.Client.BackendURL); err != nil {
		errs = append(errs, "client.backendUrl must be an absolute URL")
	}
	if cfg.Client.TimeoutSeconds < 1 {
		errs = append(errs, "client.timeoutSeconds must be >= 1")
	}
	if cfg.Client.NetworkRetries < 0 || cfg.Client.NetworkRetries > 10 {
		errs = append(errs, "client.networkRetries must be between 0 and 10")
	}

	if len(cfg.Extraction.AllowedDomains) == 0 {
		errs = append(errs, "extraction.allowedDomains must not be empty")
	}
	if cfg.Extraction.PollAttempts < 1 {
		errs = append(errs, "extraction.pollAttempts must be >= 1")
	}
	if cfg.Extraction.PollDelayMs < 0 {
		errs = append(errs, "extraction.pollDelayMs must be >= 0")
	}
	if cfg.Extraction.MaxDocumentBytes < 1 {
		errs = append(errs, "extraction.maxDocumentBytes must be >= 1")
	}
	if cfg.Extraction.InitAttempts < 1 {
		errs = append(errs, "extraction.initAttempts must be >= 1")
	}

	if cfg.Browser.TimeoutSeconds < 1 {
		errs = append(errs, "browser.timeoutSeconds must be >= 1")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
