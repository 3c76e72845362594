package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"ssh-sentry/internal/audit"
	"ssh-sentry/internal/config"
	"ssh-sentry/internal/detect"
	"ssh-sentry/internal/explain"
	"ssh-sentry/internal/geo"
	"ssh-sentry/internal/ingest"
	"ssh-sentry/internal/logging"
	"ssh-sentry/internal/metrics"
	"ssh-sentry/internal/notify"
	"ssh-sentry/internal/parser"
	"ssh-sentry/internal/pidfile"
	"ssh-sentry/internal/ratelimit"
	"ssh-sentry/internal/state"
	"ssh-sentry/internal/types"
)

// drainTimeout bounds how long shutdown waits for in-flight notifications
const drainTimeout = 15 * time.Second

// loadFunc re-reads the configuration on SIGHUP
type loadFunc func() (*types.Config, error)

func run(ctx context.Context, cfg *types.Config, reload loadFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var activity io.Writer
	if cfg.Logging.File != "" {
		lj := audit.NewLogger(cfg.Logging.File, cfg.Logging.MaxSizeMB)
		defer lj.Close()
		activity = lj
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   activity,
	})

	if os.Geteuid() != 0 {
		return errors.New("ssh-sentry must run as root to read authentication logs")
	}

	store, err := openStore(cfg.RateLimit)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter, err := ratelimit.NewLimiter(ratelimit.PolicyFromConfig(cfg.RateLimit), store,
		ratelimit.WithMaxEntries(cfg.RateLimit.MaxEntries))
	if err != nil {
		return fmt.Errorf("failed to restore rate-limit table: %w", err)
	}
	logging.Info().Int("entries", limiter.Len()).Str("backend", cfg.RateLimit.Backend).Msg("[STATE] Rate-limit table restored")

	resolver, closeGeo, err := newResolver(cfg.Geo)
	if err != nil {
		return err
	}
	defer closeGeo()

	tg := notify.NewTelegram(cfg.Telegram)
	if !tg.Configured() {
		logging.Warn().Msg("[NOTIFY] TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set; events will be logged only")
	}

	// Registered before the pid marker exists so an early SIGTERM still cleans up.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var sources []ingest.Source
	if cfg.Input.EnableJournal {
		sources = append(sources, ingest.NewJournalReader(config.Units(cfg.Input)))
	}
	sources = append(sources, ingest.NewFileTailer(cfg.Input.AuthLogPath))

	source, lines, err := ingest.Select(sources...)
	if err != nil {
		return err
	}
	defer source.Stop()

	pid := pidfile.New(afero.NewOsFs(), cfg.Runtime.PIDFile)
	if err := pid.Write(os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logging.Warn().Err(err).Msg("[RUNTIME] Failed to remove pid file")
		}
	}()

	if cfg.RateLimit.SweepSchedule != "" {
		sweeper, err := ratelimit.StartSweeper(cfg.RateLimit.SweepSchedule, limiter)
		if err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		go func() {
			logging.Info().Str("addr", cfg.Metrics.Listen).Msg("[METRICS] Starting exporter")
			if err := metrics.StartServer(ctx, cfg.Metrics.Listen); err != nil {
				logging.Error().Err(err).Msg("[METRICS] Exporter failed")
			}
		}()
	}

	engine := detect.NewEngine(cfg.Notify, parser.NewSSHParser(), limiter, resolver, explain.NewTemplateFormatter(), tg)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		engine.Run(ctx, lines)
	}()

	logging.Info().
		Str("source", source.Name()).
		Bool("notify_login", cfg.Notify.Login).
		Bool("notify_failed", cfg.Notify.Failed).
		Bool("notify_logout", cfg.Notify.Logout).
		Msg("[RUNTIME] ssh-sentry started")

	var runErr error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				reloadConfig(reload, engine, limiter)
				if err := limiter.Flush(); err != nil {
					logging.Error().Err(err).Msg("[STATE] Failed to persist rate-limit table")
				} else {
					logging.Info().Msg("[STATE] Rate-limit table persisted")
				}
				continue
			}
			logging.Info().Str("signal", sig.String()).Msg("[RUNTIME] Shutting down")
			break loop
		case <-runDone:
			runErr = fmt.Errorf("log source %s stopped", source.Name())
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	source.Stop()
	<-runDone

	drained := make(chan struct{})
	go func() {
		engine.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logging.Warn().Dur("timeout", drainTimeout).Msg("[NOTIFY] Gave up waiting for in-flight notifications")
	}

	if err := limiter.Flush(); err != nil {
		logging.Error().Err(err).Msg("[STATE] Failed to persist rate-limit table")
	}
	logging.Info().Msg("[RUNTIME] ssh-sentry stopped")
	return runErr
}

// reloadConfig applies notification toggles and rate-limit thresholds from a
// fresh config. Sources, paths and credentials need a restart.
func reloadConfig(reload loadFunc, engine *detect.Engine, limiter *ratelimit.Limiter) {
	if reload == nil {
		return
	}
	logging.Info().Msg("[CONFIG] SIGHUP received, reloading configuration...")
	cfg, err := reload()
	if err != nil {
		logging.Error().Err(err).Msg("[CONFIG] Reload failed, keeping current settings")
		return
	}
	engine.SetToggles(cfg.Notify)
	limiter.SetPolicy(ratelimit.PolicyFromConfig(cfg.RateLimit))
	logging.Info().
		Bool("notify_login", cfg.Notify.Login).
		Bool("notify_failed", cfg.Notify.Failed).
		Bool("notify_logout", cfg.Notify.Logout).
		Int("login_seconds", cfg.RateLimit.Login).
		Int("failed_seconds", cfg.RateLimit.Failed).
		Int("logout_seconds", cfg.RateLimit.Logout).
		Msg("[CONFIG] Reload successful")
}

func openStore(cfg types.RateLimitConfig) (state.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return state.NewSQLiteStore(cfg.Path)
	default:
		return state.NewFileStore(afero.NewOsFs(), cfg.Path)
	}
}

func newResolver(cfg types.GeoConfig) (geo.Resolver, func(), error) {
	switch cfg.Provider {
	case "maxmind":
		mm, err := geo.NewMaxMind(cfg.CityDBPath, cfg.ASNDBPath)
		if err != nil {
			return nil, nil, err
		}
		logging.Info().Str("db", cfg.CityDBPath).Msg("[GEO] Using MaxMind databases")
		return geo.NewResolver(mm), func() { mm.Close() }, nil
	default:
		logging.Info().Str("url", cfg.URL).Msg("[GEO] Using ip-api lookups")
		return geo.NewResolver(geo.NewIPAPI(cfg.URL, cfg.Timeout, cfg.RequestsPerMinute)), func() {}, nil
	}
}
