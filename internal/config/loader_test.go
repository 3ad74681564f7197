package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
speech:
  model: amazon.nova-sonic-v1:0
  token: test-token
  region: us-east-1
  fallback_region: us-west-2
judge:
  provider: openai
  model: gpt-4o
  api_key: sk-test
embeddings:
  model: text-embedding-3-small
  api_key: sk-test
database:
  dsn: postgres://localhost/bedside
  min_conns: 2
  max_conns: 10
  embedding_dimensions: 1536
session:
  patient_id: p1
  patient_name: Rosa
  auto_complete: true
  history_depth: 10
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Speech.FallbackRegion != "us-west-2" {
		t.Errorf("FallbackRegion = %q", cfg.Speech.FallbackRegion)
	}
	if cfg.Judge.Provider != "openai" || cfg.Judge.Model != "gpt-4o" {
		t.Errorf("judge = %+v", cfg.Judge)
	}
	if cfg.Database.MinConns != 2 || cfg.Database.MaxConns != 10 {
		t.Errorf("pool = %d/%d", cfg.Database.MinConns, cfg.Database.MaxConns)
	}
	if !cfg.Session.AutoComplete || cfg.Session.PatientName != "Rosa" {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	t.Parallel()

	yaml := validYAML + "\nunknown_section:\n  key: value\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Speech.Token = "" },
			wantErr: "speech.token",
		},
		{
			name:    "missing judge provider",
			mutate:  func(c *Config) { c.Judge.Provider = "" },
			wantErr: "judge.provider",
		},
		{
			name:    "unknown judge provider",
			mutate:  func(c *Config) { c.Judge.Provider = "watson" },
			wantErr: "judge.provider",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "inverted pool bounds",
			mutate:  func(c *Config) { c.Database.MinConns = 20 },
			wantErr: "min_conns",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "negative history depth",
			mutate:  func(c *Config) { c.Session.HistoryDepth = -1 },
			wantErr: "history_depth",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("base config: %v", err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
