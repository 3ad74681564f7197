// Package config provides the configuration schema and loader for the
// Bedside session server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, loaded from a YAML file with
// [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Speech     SpeechConfig     `yaml:"speech"`
	Judge      JudgeConfig      `yaml:"judge"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Database   DatabaseConfig   `yaml:"database"`
	Session    SessionConfig    `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /health and /metrics
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// SpeechConfig configures the bidirectional speech model.
type SpeechConfig struct {
	// Model selects the remote model. Empty means the provider default.
	Model string `yaml:"model"`

	// Token is the bearer token used to authenticate the stream.
	Token string `yaml:"token"`

	// Region is the primary region. Empty means the provider default.
	Region string `yaml:"region"`

	// FallbackRegion, when set, is tried once after the primary fails.
	FallbackRegion string `yaml:"fallback_region"`
}

// JudgeConfig configures the evaluation judge model.
type JudgeConfig struct {
	// Provider selects the backend: openai, anthropic, gemini or ollama.
	Provider string `yaml:"provider"`

	// Model is the judge model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint, and doubles as the
	// primary-region endpoint when FallbackBaseURL is set.
	BaseURL string `yaml:"base_url"`

	// FallbackBaseURL, when set, is a second endpoint tried once after the
	// primary fails.
	FallbackBaseURL string `yaml:"fallback_base_url"`
}

// EmbeddingsConfig configures the embedding model used for patient
// reference retrieval.
type EmbeddingsConfig struct {
	// Model is the embedding model identifier. Empty means the default.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig configures the PostgreSQL persistence mirror.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// ChatDSN is the chat-history database. Empty means the chat log is
	// kept in process memory.
	ChatDSN string `yaml:"chat_dsn"`

	// MinConns and MaxConns bound the connection pool.
	MinConns int32 `yaml:"min_conns"`
	MaxConns int32 `yaml:"max_conns"`

	// EmbeddingDimensions sizes the patient_chunks vector column. Zero
	// means 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// SessionConfig carries per-deployment session defaults.
type SessionConfig struct {
	// PatientID scopes reference retrieval when start_session omits one.
	PatientID string `yaml:"patient_id"`

	// PatientName templates the default persona prompt.
	PatientName string `yaml:"patient_name"`

	// AutoComplete enables the diagnosis side path by default.
	AutoComplete bool `yaml:"auto_complete"`

	// HistoryDepth caps the replayed chat history. Zero means 10.
	HistoryDepth int `yaml:"history_depth"`
}
