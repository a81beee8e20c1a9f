package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when the corresponding field is zero.
const (
	DefaultPollInterval   = 60 * time.Second
	DefaultWindow         = time.Hour
	DefaultTickerInterval = 5 * time.Second
	DefaultDemoUserID     = 1
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero-valued durations. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Calls provider
	if cfg.Providers.Calls.CallSocketURL != "" && strings.Count(cfg.Providers.Calls.CallSocketURL, "%s") != 1 {
		errs = append(errs, fmt.Errorf("providers.calls.call_socket_url %q must contain exactly one %%s placeholder", cfg.Providers.Calls.CallSocketURL))
	}
	// Auth provider
	if (cfg.Providers.Auth.BaseURL == "") != (cfg.Providers.Auth.APIKey == "") {
		errs = append(errs, errors.New("providers.auth requires both base_url and api_key, or neither"))
	}

	// Analytics ↔ LLM / store cross-validation
	if cfg.Analytics.Enabled {
		if cfg.Providers.LLM.APIKey == "" {
			errs = append(errs, errors.New("analytics.enabled requires providers.llm.api_key"))
		}
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("analytics.enabled requires store.postgres_dsn"))
		}
	}

	// Transcripts
	if cfg.Transcripts.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("transcripts.poll_interval must not be negative, got %s", cfg.Transcripts.PollInterval))
	}
	if cfg.Transcripts.Window < 0 {
		errs = append(errs, fmt.Errorf("transcripts.window must not be negative, got %s", cfg.Transcripts.Window))
	}
	if cfg.Transcripts.PollInterval == 0 {
		cfg.Transcripts.PollInterval = DefaultPollInterval
	}
	if cfg.Transcripts.Window == 0 {
		cfg.Transcripts.Window = DefaultWindow
	}
	if cfg.Transcripts.DemoUserID < 0 {
		errs = append(errs, fmt.Errorf("transcripts.demo_user_id must not be negative, got %d", cfg.Transcripts.DemoUserID))
	}
	if cfg.Transcripts.DemoUserID == 0 {
		cfg.Transcripts.DemoUserID = DefaultDemoUserID
	}

	// Wallet
	if cfg.Wallet.TickerInterval < 0 {
		errs = append(errs, fmt.Errorf("wallet.ticker_interval must not be negative, got %s", cfg.Wallet.TickerInterval))
	}
	if cfg.Wallet.TickerInterval == 0 {
		cfg.Wallet.TickerInterval = DefaultTickerInterval
	}

	return errors.Join(errs...)
}
