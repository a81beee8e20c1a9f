// Package app wires all Radiodash subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithDB,
// WithCallsProvider, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeri-fi/radiodash/internal/analytics"
	"github.com/zeri-fi/radiodash/internal/config"
	"github.com/zeri-fi/radiodash/internal/gateway"
	"github.com/zeri-fi/radiodash/internal/health"
	"github.com/zeri-fi/radiodash/internal/server"
	"github.com/zeri-fi/radiodash/internal/store"
	"github.com/zeri-fi/radiodash/internal/transactions"
	"github.com/zeri-fi/radiodash/internal/transcript"
	"github.com/zeri-fi/radiodash/internal/wallet"
	"github.com/zeri-fi/radiodash/pkg/provider/auth"
	"github.com/zeri-fi/radiodash/pkg/provider/auth/gotrue"
	"github.com/zeri-fi/radiodash/pkg/provider/calls"
	"github.com/zeri-fi/radiodash/pkg/provider/calls/retell"
	"github.com/zeri-fi/radiodash/pkg/provider/plan"
	planrest "github.com/zeri-fi/radiodash/pkg/provider/plan/rest"
)

// shutdownTimeout bounds the drain of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or created in New.
	db      store.DB
	calls   calls.Provider
	auth    auth.Provider
	planner plan.Planner

	store     *store.Store
	analytics *analytics.Service
	gateway   *gateway.Gateway
	syncer    *transcript.Syncer
	followUps *transcript.FollowUps
	httpSrv   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDB injects a database handle instead of connecting from config.
func WithDB(db store.DB) Option {
	return func(a *App) { a.db = db }
}

// WithCallsProvider injects a call-transcription provider.
func WithCallsProvider(p calls.Provider) Option {
	return func(a *App) { a.calls = p }
}

// WithAuthProvider injects an authentication backend.
func WithAuthProvider(p auth.Provider) Option {
	return func(a *App) { a.auth = p }
}

// WithPlanner injects a spending-plan source.
func WithPlanner(p plan.Planner) Option {
	return func(a *App) { a.planner = p }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any dependency.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	if err := a.initAnalytics(); err != nil {
		return nil, fmt.Errorf("app: init analytics: %w", err)
	}
	if err := a.initPlanner(); err != nil {
		return nil, fmt.Errorf("app: init planner: %w", err)
	}
	if err := a.initTranscripts(); err != nil {
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// initStore connects to PostgreSQL or uses an injected handle.
func (a *App) initStore(ctx context.Context) error {
	if a.db != nil {
		a.store = store.New(a.db)
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return errors.New("store.postgres_dsn is required when no database is injected")
	}

	st, pool, err := store.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.store = st
	a.db = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initProviders creates the calls and auth backends from config unless they
// were injected.
func (a *App) initProviders() error {
	if a.calls == nil {
		key := a.cfg.Providers.Calls.APIKey
		if key == "" {
			return errors.New("providers.calls.api_key is required when no calls provider is injected")
		}
		var opts []retell.Option
		if u := a.cfg.Providers.Calls.BaseURL; u != "" {
			opts = append(opts, retell.WithBaseURL(u))
		}
		if u := a.cfg.Providers.Calls.CallSocketURL; u != "" {
			opts = append(opts, retell.WithCallSocketURL(u))
		}
		if u := a.cfg.Providers.Calls.RealtimeURL; u != "" {
			opts = append(opts, retell.WithRealtimeURL(u))
		}
		p, err := retell.New(key, opts...)
		if err != nil {
			return err
		}
		a.calls = p
	}

	if a.auth == nil {
		authCfg := a.cfg.Providers.Auth
		if authCfg.BaseURL == "" || authCfg.APIKey == "" {
			return errors.New("providers.auth.base_url and api_key are required when no auth provider is injected")
		}
		c, err := gotrue.New(authCfg.BaseURL, authCfg.APIKey)
		if err != nil {
			return err
		}
		a.auth = c
	}

	return nil
}

// initAnalytics builds the built-in analytics endpoints when enabled.
func (a *App) initAnalytics() error {
	if !a.cfg.Analytics.Enabled {
		return nil
	}

	llmCfg := a.cfg.Providers.LLM
	model := llmCfg.Model
	if model == "" {
		model = "gpt-4"
	}

	var compOpts []analytics.OpenAIOption
	if llmCfg.BaseURL != "" {
		compOpts = append(compOpts, analytics.WithBaseURL(llmCfg.BaseURL))
	}
	completer, err := analytics.NewOpenAI(llmCfg.APIKey, model, compOpts...)
	if err != nil {
		return err
	}

	svc, err := analytics.New(a.store, completer)
	if err != nil {
		return err
	}
	a.analytics = svc
	return nil
}

// initPlanner selects the spending-plan source for follow-up chats: an
// injected planner, the remote endpoint, or the built-in analytics service.
func (a *App) initPlanner() error {
	if a.planner != nil {
		return nil
	}
	if u := a.cfg.Providers.Planner.BaseURL; u != "" {
		c, err := planrest.New(u)
		if err != nil {
			return err
		}
		a.planner = c
		return nil
	}
	if a.analytics != nil {
		a.planner = a.analytics
		return nil
	}
	return errors.New("follow-up chats need providers.planner.base_url or analytics.enabled")
}

// initTranscripts builds the sync engine, follow-up chats, and the optional
// inbound gateway.
func (a *App) initTranscripts() error {
	syncer, err := transcript.NewSyncer(a.calls,
		transcript.WithPollInterval(a.cfg.Transcripts.PollInterval),
		transcript.WithWindow(a.cfg.Transcripts.Window),
	)
	if err != nil {
		return err
	}
	a.syncer = syncer
	a.closers = append(a.closers, syncer.Close)

	a.followUps = transcript.NewFollowUps(a.planner, a.cfg.Transcripts.DemoUserID)

	if a.cfg.Gateway.Enabled {
		a.gateway = gateway.New(a.cfg.Providers.Calls.APIKey,
			gateway.WithAgentName(a.cfg.Gateway.AgentName))
	}
	return nil
}

// initServer assembles the HTTP API.
func (a *App) initServer() error {
	w, err := wallet.New(a.store)
	if err != nil {
		return err
	}
	history, err := transactions.New(a.store)
	if err != nil {
		return err
	}

	srvOpts := []server.Option{
		server.WithHealth(health.New(health.Database(a.store))),
	}
	if a.analytics != nil {
		srvOpts = append(srvOpts, server.WithAnalytics(a.analytics))
	}
	if a.gateway != nil {
		srvOpts = append(srvOpts, server.WithGateway(a.gateway))
	}

	srv, err := server.New(a.auth, w, history, a.syncer, a.followUps, a.store, srvOpts...)
	if err != nil {
		return err
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run starts the sync engine and the HTTP server and blocks until ctx is
// cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.syncer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown tears subsystems down in order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if err := a.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// ApplyConfigChange reacts to a hot reload: log-level changes take effect
// immediately, everything else needs a restart.
func (a *App) ApplyConfigChange(level *slog.LevelVar, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		level.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	if diff.RequiresRestart {
		slog.Warn("config change requires a restart to take effect")
	}
}

// SlogLevel maps a config log level onto its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
