// Command bedside is the main entry point for the Bedside session server.
//
// The server speaks line-delimited JSON on stdin/stdout, so all logging and
// diagnostics go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vireomed/bedside/internal/app"
	"github.com/vireomed/bedside/internal/config"
	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	"github.com/vireomed/bedside/pkg/provider/duplex"
	"github.com/vireomed/bedside/pkg/provider/duplex/novasonic"
	"github.com/vireomed/bedside/pkg/provider/embeddings"
	oaembed "github.com/vireomed/bedside/pkg/provider/embeddings/openai"
	"github.com/vireomed/bedside/pkg/provider/llm"
	"github.com/vireomed/bedside/pkg/provider/llm/anyllm"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "bedside: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "bedside: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("bedside starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "bedside",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, reading commands from stdin")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the regional provider groups named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	// Speech model: primary region plus an optional one-shot fallback.
	var speechOpts []novasonic.Option
	if cfg.Speech.Region != "" {
		speechOpts = append(speechOpts, novasonic.WithRegion(cfg.Speech.Region))
	}
	ps.Duplex = resilience.NewGroup[duplex.Provider](
		novasonic.New(cfg.Speech.Token, speechOpts...), cfg.Speech.Region)
	if fb := cfg.Speech.FallbackRegion; fb != "" {
		ps.Duplex.AddRegion(fb, novasonic.New(cfg.Speech.Token, novasonic.WithRegion(fb)))
	}
	slog.Info("provider created", "kind", "duplex", "regions", regionCount(cfg.Speech.FallbackRegion))

	// Judge model: same provider and model per region, different endpoints.
	judge, err := newJudge(cfg.Judge, cfg.Judge.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create judge provider %q: %w", cfg.Judge.Provider, err)
	}
	ps.Judges = resilience.NewGroup[llm.Provider](judge, cfg.Judge.BaseURL)
	if fb := cfg.Judge.FallbackBaseURL; fb != "" {
		fallback, err := newJudge(cfg.Judge, fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback judge provider %q: %w", cfg.Judge.Provider, err)
		}
		ps.Judges.AddRegion(fb, fallback)
	}
	slog.Info("provider created", "kind", "judge",
		"name", cfg.Judge.Provider, "model", cfg.Judge.Model)

	// Embeddings are optional; without them diagnosis verdicts skip retrieval.
	if cfg.Embeddings.APIKey != "" {
		var opts []oaembed.Option
		if cfg.Embeddings.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.Embeddings.BaseURL))
		}
		emb, err := oaembed.New(cfg.Embeddings.APIKey, cfg.Embeddings.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider: %w", err)
		}
		ps.Embedders = resilience.NewGroup[embeddings.Provider](emb, cfg.Embeddings.BaseURL)
		slog.Info("provider created", "kind", "embeddings", "model", emb.ModelID())
	}

	return ps, nil
}

// newJudge constructs one judge provider instance against the given endpoint.
func newJudge(cfg config.JudgeConfig, baseURL string) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	return anyllm.New(cfg.Provider, cfg.Model, opts...)
}

func regionCount(fallback string) int {
	if fallback != "" {
		return 2
	}
	return 1
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes the boot banner to stderr; stdout carries the
// event protocol.
func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         Bedside — startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Speech", valueOr(cfg.Speech.Model, "(provider default)"))
	printRow(w, "Judge", cfg.Judge.Provider+" / "+cfg.Judge.Model)
	printRow(w, "Embeddings", enabledOr(cfg.Embeddings.APIKey != "", valueOr(cfg.Embeddings.Model, "default model")))
	chatLog := "in-memory"
	if cfg.Database.ChatDSN != "" {
		chatLog = "postgres"
	}
	printRow(w, "Chat log", chatLog)
	printRow(w, "Autocomplete", enabledOr(cfg.Session.AutoComplete, "on"))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w *os.File, kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func enabledOr(enabled bool, v string) string {
	if !enabled {
		return "(disabled)"
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
