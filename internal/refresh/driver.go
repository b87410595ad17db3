package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VNPriceCache/internal/metrics"
	"VNPriceCache/internal/model"
	"VNPriceCache/internal/recorder"
)

// Refresher refreshes a single symbol.
type Refresher interface {
	Refresh(ctx context.Context, symbol string) (model.RefreshResult, error)
}

// DriverOptions tunes batch pacing and run bookkeeping.
type DriverOptions struct {
	BatchSize  int
	BatchPause time.Duration
	Recorder   recorder.Recorder
	Metrics    *metrics.Metrics
	Sleep      SleepFunc
	Now        func() time.Time
	NewRunID   func() string
	Logger     zerolog.Logger
}

// Driver runs the refresher over a universe, one symbol at a time.
type Driver struct {
	refresher  Refresher
	batchSize  int
	batchPause time.Duration
	recorder   recorder.Recorder
	metrics    *metrics.Metrics
	sleep      SleepFunc
	now        func() time.Time
	newRunID   func() string
	logger     zerolog.Logger
}

// NewDriver creates a Driver.
func NewDriver(r Refresher, opts DriverOptions) *Driver {
	d := &Driver{
		refresher:  r,
		batchSize:  opts.BatchSize,
		batchPause: opts.BatchPause,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		sleep:      opts.Sleep,
		now:        opts.Now,
		newRunID:   opts.NewRunID,
		logger:     opts.Logger,
	}
	if d.recorder == nil {
		d.recorder = recorder.NewNoopRecorder()
	}
	if d.sleep == nil {
		d.sleep = Sleep
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newRunID == nil {
		d.newRunID = func() string { return uuid.NewString() }
	}
	return d
}

// RunAll refreshes every symbol in order and summarizes the outcomes.
// A failing symbol does not stop the run. A store failure or cancellation
// aborts it and no summary is returned.
func (d *Driver) RunAll(ctx context.Context, universe []string) (*model.RunSummary, error) {
	s, err := d.runPass(ctx, d.newRunID(), 1, universe)
	if err != nil {
		d.metrics.ObserveRun(nil, err)
		return nil, err
	}
	d.metrics.ObserveRun(s, nil)
	return s, nil
}

func (d *Driver) runPass(ctx context.Context, runID string, attempt int, universe []string) (*model.RunSummary, error) {
	log := d.logger.With().Str("run_id", runID).Int("attempt", attempt).Logger()
	summary := model.NewRunSummary(runID, d.now())
	summary.Attempt = attempt
	total := len(universe)

	log.Info().Int("symbols", total).Msg("refresh pass started")
	for i, symbol := range universe {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("done", i).Msg("refresh pass cancelled")
			return nil, err
		}

		res, err := d.refresher.Refresh(ctx, symbol)
		if err != nil {
			log.Error().Err(err).Str("symbol", res.Symbol).Msg("refresh pass aborted")
			return nil, err
		}
		summary.Add(res)
		if err := d.recorder.RecordOutcome(runID, attempt, res); err != nil {
			log.Error().Err(err).Str("symbol", res.Symbol).Msg("record outcome")
		}
		logResult(log, i+1, total, res)

		if d.batchSize > 0 && (i+1)%d.batchSize == 0 && i+1 < total {
			log.Info().Int("done", i+1).Dur("pause", d.batchPause).Msg("batch pause")
			d.sleep(ctx, d.batchPause)
		}
	}
	summary.FinishedAt = d.now()

	if err := d.recorder.RecordRun(summary); err != nil {
		log.Error().Err(err).Msg("record run")
	}
	log.Info().
		Int("succeeded", len(summary.Succeeded)).
		Int("skipped", len(summary.Skipped)).
		Int("failed", len(summary.Failed)).
		Int("rows", summary.UpdatedRows).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("refresh pass finished")
	return summary, nil
}

func logResult(log zerolog.Logger, n, total int, r model.RefreshResult) {
	var ev *zerolog.Event
	switch r.Status {
	case model.StatusFailed:
		ev = log.Warn().Str("reason", r.Reason)
	case model.StatusSkippedUpToDate:
		ev = log.Debug()
	default:
		ev = log.Info().Str("source", r.Source).Int("rows", r.UpdatedRows)
	}
	ev.Int("n", n).Int("of", total).Str("symbol", r.Symbol).Str("status", string(r.Status)).Msg("symbol refreshed")
}
