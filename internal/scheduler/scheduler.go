package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"VNPriceCache/internal/model"
	"VNPriceCache/internal/notifier"
)

// ErrBusy is returned when a refresh is requested while one is running.
var ErrBusy = errors.New("refresh already running")

// Runner refreshes a universe with bounded retries.
type Runner interface {
	RunUntilCovered(ctx context.Context, universe []string, maxAttempts int, bo backoff.BackOff) (*model.RunSummary, error)
}

// Sender delivers a formatted message.
type Sender interface {
	Enabled() bool
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Config bundles what the scheduled task needs.
type Config struct {
	Runner      Runner
	Universe    func() ([]string, error)
	Status      func(ctx context.Context) (notifier.CacheStatus, error)
	Notifier    Sender
	MaxAttempts int
	BackOff     func() backoff.BackOff
	Location    *time.Location
	Logger      zerolog.Logger
}

// Scheduler manages the refresh cron task.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	cfg    Config
	mu     sync.Mutex
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, cfg Config) *Scheduler {
	logger := cfg.Logger.With().Str("component", "scheduler").Logger()
	opts := []cron.Option{cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger}))}
	if cfg.Location != nil {
		opts = append(opts, cron.WithLocation(cfg.Location))
	}
	return &Scheduler{
		Cron:   cron.New(opts...),
		Ctx:    ctx,
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterAll registers the refresh task on spec.
func (s *Scheduler) RegisterAll(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	for _, e := range s.Cron.Entries() {
		s.logger.Info().Time("next", e.Next).Msg("scheduler started")
	}
}

// Stop stops the cron scheduler and waits for running tasks, including
// passes started from a bot command, to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// RunNow executes a refresh immediately unless one is already running.
func (s *Scheduler) RunNow() (*model.RunSummary, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()
	return s.run()
}

// run performs one refresh; the caller holds mu.
func (s *Scheduler) run() (*model.RunSummary, error) {
	universe, err := s.cfg.Universe()
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	bo := backoff.BackOff(&backoff.ZeroBackOff{})
	if s.cfg.BackOff != nil {
		bo = s.cfg.BackOff()
	}
	return s.cfg.Runner.RunUntilCovered(s.Ctx, universe, s.cfg.MaxAttempts, bo)
}

func (s *Scheduler) refreshTask() {
	s.logger.Info().Msg("running scheduled refresh")
	start := time.Now()
	summary, err := s.RunNow()
	s.report(start, summary, err)
}

func (s *Scheduler) report(start time.Time, summary *model.RunSummary, err error) {
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Warn().Msg("previous refresh still running, skipping")
	case err != nil:
		s.logger.Error().Err(err).Msg("refresh aborted")
		s.trySend(fmt.Sprintf("❌ <b>OHLCV refresh aborted</b> after %s\n\n%v", time.Since(start).Round(time.Second), err))
	default:
		s.trySend(notifier.FormatRunSummary(summary))
	}
}

// HandleCommand processes a bot command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/status":
		if s.cfg.Status == nil {
			return "status unavailable"
		}
		st, err := s.cfg.Status(ctx)
		if err != nil {
			return fmt.Sprintf("❌ status: %v", err)
		}
		return notifier.FormatCacheStatus(st)
	case "/refresh":
		if !s.mu.TryLock() {
			return "⏳ " + ErrBusy.Error() + ", try again later"
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info().Msg("running requested refresh")
			start := time.Now()
			summary, err := s.run()
			s.mu.Unlock()
			s.report(start, summary, err)
		}()
		return "🔄 refresh started"
	default:
		return "Commands:\n• /status\n• /refresh"
	}
}

func (s *Scheduler) trySend(text string) {
	if s.cfg.Notifier == nil || !s.cfg.Notifier.Enabled() {
		return
	}
	if err := s.cfg.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.logger.Error().Err(err).Msg("send notification")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
