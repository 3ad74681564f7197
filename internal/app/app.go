// Package app wires all Bedside subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the bridge command loop alongside the HTTP
// sidecar, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStores, WithChatLog, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vireomed/bedside/internal/bridge"
	"github.com/vireomed/bedside/internal/config"
	"github.com/vireomed/bedside/internal/eval"
	"github.com/vireomed/bedside/internal/health"
	"github.com/vireomed/bedside/internal/observe"
	"github.com/vireomed/bedside/internal/resilience"
	"github.com/vireomed/bedside/internal/session"
	"github.com/vireomed/bedside/internal/store"
	"github.com/vireomed/bedside/internal/store/chatlog"
	"github.com/vireomed/bedside/internal/store/postgres"
	"github.com/vireomed/bedside/pkg/provider/duplex"
	"github.com/vireomed/bedside/pkg/provider/embeddings"
	"github.com/vireomed/bedside/pkg/provider/llm"
)

// shutdownGrace bounds the HTTP server drain when the run context ends.
const shutdownGrace = 5 * time.Second

// Providers holds the regional provider groups built by main.go from the
// config. Embedders may be nil when no embeddings key is configured; the
// diagnosis pipeline then runs without reference retrieval.
type Providers struct {
	Duplex    *resilience.Group[duplex.Provider]
	Judges    *resilience.Group[llm.Provider]
	Embedders *resilience.Group[embeddings.Provider]
}

// App owns all subsystem lifetimes and orchestrates the Bedside session
// server.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	turns   store.TurnStore
	prompts store.PromptStore
	search  store.ReferenceSearcher
	chat    chatlog.Log
	bridge  *bridge.Bridge
	httpSrv *http.Server

	// in and out are the bridge transport, defaulting to stdin/stdout.
	in  io.Reader
	out io.Writer

	// dbPing backs the readiness probe when a real store is in use.
	dbPing func(ctx context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects the relational mirror stores instead of connecting to
// PostgreSQL from config.
func WithStores(turns store.TurnStore, prompts store.PromptStore, search store.ReferenceSearcher) Option {
	return func(a *App) {
		a.turns = turns
		a.prompts = prompts
		a.search = search
	}
}

// WithChatLog injects a chat log instead of creating one from config.
func WithChatLog(c chatlog.Log) Option {
	return func(a *App) { a.chat = c }
}

// WithBridgeIO replaces the stdin/stdout bridge transport.
func WithBridgeIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// WithMetrics injects a metrics bundle instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Use Option functions to inject test doubles for any
// subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		in:        os.Stdin,
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Relational mirror ─────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Chat log ──────────────────────────────────────────────────────
	if err := a.initChatLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init chat log: %w", err)
	}

	// ── 3. Evaluation pipelines + bridge ─────────────────────────────────
	a.initBridge()

	// ── 4. HTTP sidecar ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects the PostgreSQL mirror unless stores were injected.
func (a *App) initStores(ctx context.Context) error {
	if a.turns != nil && a.prompts != nil && a.search != nil {
		return nil // all injected
	}

	st, err := postgres.NewStore(ctx, a.cfg.Database.DSN, postgres.Config{
		MinConns:            a.cfg.Database.MinConns,
		MaxConns:            a.cfg.Database.MaxConns,
		EmbeddingDimensions: a.cfg.Database.EmbeddingDimensions,
	})
	if err != nil {
		return err
	}

	if a.turns == nil {
		a.turns = st
	}
	if a.prompts == nil {
		a.prompts = st
	}
	if a.search == nil {
		a.search = st
	}
	a.dbPing = st.Ping

	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initChatLog connects the chat-history database, or falls back to the
// in-process log when no DSN is configured.
func (a *App) initChatLog(ctx context.Context) error {
	if a.chat != nil {
		return nil
	}

	if dsn := a.cfg.Database.ChatDSN; dsn != "" {
		pg, err := chatlog.NewPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		a.chat = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		return nil
	}

	a.chat = chatlog.NewMemory()
	return nil
}

// initBridge builds the evaluation pipelines and the command bridge. The
// session factory closes over them so every start_session command gets a
// fully wired orchestrator.
func (a *App) initBridge() {
	empathy := eval.NewEmpathy(a.providers.Judges, a.prompts, a.turns, a.metrics)
	diagnosis := eval.NewDiagnosis(a.providers.Judges, a.providers.Embedders, a.search, a.metrics)

	factory := func(cfg session.Config, sink session.EventSink) bridge.Conversation {
		cfg.ModelID = a.cfg.Speech.Model
		if cfg.HistoryDepth == 0 {
			cfg.HistoryDepth = a.cfg.Session.HistoryDepth
		}
		return session.New(cfg, session.Deps{
			Duplex:    a.providers.Duplex,
			Empathy:   empathy,
			Diagnosis: diagnosis,
			Turns:     a.turns,
			Prompts:   a.prompts,
			Chat:      a.chat,
			Sink:      sink,
			Metrics:   a.metrics,
		})
	}

	a.bridge = bridge.New(a.in, a.out, factory, bridge.Defaults{
		PatientID:    a.cfg.Session.PatientID,
		PatientName:  a.cfg.Session.PatientName,
		AutoComplete: a.cfg.Session.AutoComplete,
	})
}

// initHTTP assembles the health and metrics sidecar. No listener is created
// when server.listen_addr is empty.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	var checkers []health.Checker
	if a.dbPing != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.dbPing})
	}

	h := health.New(checkers...)
	mux := http.NewServeMux()
	h.Register(mux)
	// Legacy path served by the previous bridge server.
	mux.HandleFunc("GET /health", h.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the bridge command loop and the HTTP sidecar until ctx is
// cancelled or the bridge input reaches EOF. EOF ends the whole app; the
// bridge transport closing means the parent process is gone.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("http sidecar listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http sidecar: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return a.httpSrv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		defer slog.Info("bridge loop ended")
		err := a.bridge.Run(gctx)
		if err == nil {
			// Input EOF: stop the sidecar too.
			return context.Canceled
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
