package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3001,
			APIKey:             "${APP_API_KEY}",
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 60,
			MaxBodyBytes:       6 << 20,
		},
		Upstream: UpstreamConfig{
			APIBase:        "https://api.mistral.ai/v1",
			APIKey:         "${MISTRAL_API_KEY}",
			Model:          "mistral-small-2503",
			TimeoutSeconds: 60,
		},
		Client: ClientConfig{
			BackendURL:     "http://localhost:3001/api/query",
			TimeoutSeconds: 30,
			NetworkRetries: 2,
		},
		Extraction: ExtractionConfig{
			AllowedDomains:   []string{"postman.com", "postman.co"},
			PollAttempts:     5,
			PollDelayMs:      1000,
			MaxDocumentBytes: 5 << 20,
			InitAttempts:     5,
			DebounceMs:       1500,
		},
		Browser: BrowserConfig{
			ProfileDir:     "~/.postql/chrome-profile",
			Headless:       true,
			TimeoutSeconds: 120,
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.postql/postql.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
