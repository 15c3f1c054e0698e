package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-target-alerts/internal/auth"
	"price-target-alerts/internal/config"
	"price-target-alerts/internal/evaluate"
	"price-target-alerts/internal/httpapi"
	"price-target-alerts/internal/notify"
	"price-target-alerts/internal/scheduler"
	"price-target-alerts/internal/source"
	"price-target-alerts/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() source.Source {
	return source.NewMercadoLivre(source.MercadoLivreOptions{
		BaseURL:     a.Config.Source.BaseURL,
		SiteID:      a.Config.Source.SiteID,
		ResultLimit: a.Config.Source.ResultLimit,
		Timeout:     a.Config.Source.RequestTimeout,
		UserAgent:   a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newDispatcher() *notify.Dispatcher {
	if !a.Config.Notify.Email.Enabled {
		return nil
	}
	cfg := a.Config.Notify.Email
	notifier := notify.NewEmailNotifier(notify.EmailOptions{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
		Timeout:     cfg.RequestTimeout,
	}, a.Logger)
	return notify.NewDispatcher(notifier, a.Logger)
}

// openStore selects the PostgreSQL store when a DSN is configured, the
// in-memory store otherwise.
func (a *App) openStore(ctx context.Context) (store.AlertStore, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return store.NewMemory(), nil, nil
	}

	pool, err := store.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	pg := store.NewPostgres(pool)
	return pg, pg.Close, nil
}

func (a *App) newRunner(alerts store.AlertStore, users *auth.Service, src source.Source) *evaluate.Runner {
	eval := evaluate.NewEvaluator(src, alerts, a.newDispatcher(), users, evaluate.Options{
		FailureThreshold: a.Config.Evaluator.FailureThreshold,
	}, a.Logger)

	return evaluate.NewRunner(alerts, eval, evaluate.RunnerOptions{
		Workers:         a.Config.Evaluator.Workers,
		SourcePerSecond: a.Config.Source.RatePerSecond,
		SourceBurst:     a.Config.Source.RateBurst,
	}, a.Logger)
}

// Serve runs the HTTP API and, when enabled, the periodic sweep scheduler.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alerts, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	users := auth.NewService(auth.NewMemoryUsers(), auth.Options{
		JWTSecret: a.Config.Auth.JWTSecret,
		TokenTTL:  a.Config.Auth.TokenTTL,
	})

	src := a.newSource()
	runner := a.newRunner(alerts, users, src)

	handlers := httpapi.NewHandlers(alerts, runner, users, src, a.Logger)
	server := httpapi.NewServer(httpapi.ServerOptions{
		Addr:            a.Config.Server.Addr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, handlers, a.Logger)

	if a.Config.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToStart,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		go func() {
			runErr := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
				_, sweepErr := runner.Sweep(ctx)
				return sweepErr
			})
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				a.Logger.Error().Err(runErr).Msg("scheduler stopped with error")
			}
		}()
	}

	a.Logger.Info().Msg("starting pricewatch service")
	err = server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pricewatch service stopped")
	return nil
}

// Sweep executes a single evaluation sweep and prints the result as JSON.
func (a *App) Sweep(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	alerts, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	users := auth.NewService(auth.NewMemoryUsers(), auth.Options{
		JWTSecret: a.Config.Auth.JWTSecret,
		TokenTTL:  a.Config.Auth.TokenTTL,
	})

	runner := a.newRunner(alerts, users, a.newSource())
	result, err := runner.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("run sweep: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
