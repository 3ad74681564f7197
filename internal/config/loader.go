package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidJudgeProviders lists the judge backends the server can construct.
var ValidJudgeProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Speech.Token == "" {
		errs = append(errs, errors.New("speech.token is required"))
	}

	if cfg.Judge.Provider == "" {
		errs = append(errs, errors.New("judge.provider is required"))
	} else if !slices.Contains(ValidJudgeProviders, cfg.Judge.Provider) {
		errs = append(errs, fmt.Errorf("judge.provider %q is invalid; valid values: %v", cfg.Judge.Provider, ValidJudgeProviders))
	}
	if cfg.Judge.Model == "" {
		errs = append(errs, errors.New("judge.model is required"))
	}

	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if cfg.Database.MinConns < 0 || cfg.Database.MaxConns < 0 {
		errs = append(errs, errors.New("database pool sizes must not be negative"))
	}
	if cfg.Database.MaxConns > 0 && cfg.Database.MinConns > cfg.Database.MaxConns {
		errs = append(errs, fmt.Errorf("database.min_conns %d exceeds max_conns %d", cfg.Database.MinConns, cfg.Database.MaxConns))
	}

	if cfg.Embeddings.APIKey == "" && cfg.Session.AutoComplete {
		slog.Warn("session.auto_complete is enabled but embeddings.api_key is empty; diagnosis verdicts will run without reference retrieval")
	}
	if cfg.Database.ChatDSN == "" {
		slog.Warn("database.chat_dsn is empty; chat history will not survive restarts")
	}

	if cfg.Session.HistoryDepth < 0 {
		errs = append(errs, errors.New("session.history_depth must not be negative"))
	}

	return errors.Join(errs...)
}
