package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"VNPriceCache/internal/config"
	"VNPriceCache/internal/coverage"
	"VNPriceCache/internal/logging"
	"VNPriceCache/internal/metrics"
	"VNPriceCache/internal/model"
	"VNPriceCache/internal/notifier"
	"VNPriceCache/internal/recorder"
	"VNPriceCache/internal/refresh"
	"VNPriceCache/internal/source"
	"VNPriceCache/internal/store"
	"VNPriceCache/internal/universe"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *store.Store
	history  *recorder.SQLiteRecorder
	metrics  *metrics.Metrics
	orch     *refresh.Orchestrator
	driver   *refresh.Driver
	notifier *notifier.TelegramNotifier
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	st, err := store.Open(cfg.Database.SQLitePath, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if h, err := recorder.NewSQLiteRecorder(st.DB(), logger); err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
	} else {
		a.history = h
		rec = h
	}

	primary, err := newSource(cfg.Sources.Primary, cfg.Proxy, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	secondary, err := newSource(cfg.Sources.Secondary, cfg.Proxy, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	loc := cfg.Location()
	a.orch = refresh.NewOrchestrator(coverage.NewInspector(st, cfg.HistoryStart), st, primary, secondary, refresh.Options{
		Pacing:        cfg.Refresh.Pacing,
		Jitter:        cfg.Refresh.Jitter,
		FallbackPause: cfg.Refresh.FallbackPause,
		Location:      loc,
		Metrics:       a.metrics,
		Logger:        logger,
	})
	a.driver = refresh.NewDriver(a.orch, refresh.DriverOptions{
		BatchSize:  cfg.Refresh.BatchSize,
		BatchPause: cfg.Refresh.BatchPause,
		Recorder:   rec,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	a.notifier = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)

	logger.Debug().
		Str("db", st.Path()).
		Str("primary", primary.Name()).
		Str("secondary", secondary.Name()).
		Str("timezone", loc.String()).
		Msg("components ready")
	return a, nil
}

func newSource(sc config.SourceConfig, proxy string, logger zerolog.Logger) (source.Source, error) {
	return source.New(sc, proxy, source.WithLogger(logger.With().Str("source", sc.Name).Logger()))
}

func (a *app) close() {
	if a.history != nil {
		_ = a.history.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close store")
	}
}

// universe returns the configured ticker list.
func (a *app) universe() ([]string, error) {
	if a.cfg.Universe.File == "" {
		return nil, errors.New("no universe file configured (universe.file or UNIVERSE_FILE)")
	}
	return universe.Load(a.cfg.Universe.File, a.cfg.Universe.Column)
}

// symbols picks the refresh targets from flags: explicit tickers, the cached
// set, or the universe file. With no universe file the cached set is used.
func (a *app) symbols(ctx context.Context, explicit []string, cached bool) ([]string, error) {
	switch {
	case len(explicit) > 0:
		return universe.Normalize(explicit), nil
	case cached || a.cfg.Universe.File == "":
		syms, err := a.store.Symbols(ctx)
		if err != nil {
			return nil, err
		}
		if len(syms) == 0 {
			return nil, errors.New("cache is empty and no universe file is configured")
		}
		return syms, nil
	default:
		return a.universe()
	}
}

// status gathers cache coverage for the universe.
func (a *app) status(ctx context.Context) (notifier.CacheStatus, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return notifier.CacheStatus{}, err
	}
	st := notifier.CacheStatus{
		Cached:    stats.Symbols,
		Rows:      stats.Rows,
		Latest:    stats.LatestDate.String,
		FileBytes: stats.FileBytes,
	}
	if syms, err := a.universe(); err == nil {
		st.Universe = len(syms)
		session := lastSession(a.orch.Today())
		for _, sym := range syms {
			latest, ok, err := a.store.LatestDate(ctx, sym)
			if err != nil {
				return notifier.CacheStatus{}, err
			}
			if ok && !latest.Before(session) {
				st.Current++
			}
		}
	}
	if a.history != nil {
		if run, ok, err := a.history.LastRun(ctx); err == nil && ok {
			st.LastRun = run.FinishedAt
			st.LastFail = run.Failed
		}
	}
	return st, nil
}

// lastSession is the most recent weekday on or before today.
func lastSession(today time.Time) time.Time {
	d := model.Day(today)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func (a *app) notify(ctx context.Context, s *model.RunSummary) {
	if !a.notifier.Enabled() {
		return
	}
	if err := a.notifier.SendWithRetry(ctx, notifier.FormatRunSummary(s), 3); err != nil {
		a.logger.Error().Err(err).Msg("send summary")
	}
}

func attemptsOr(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

