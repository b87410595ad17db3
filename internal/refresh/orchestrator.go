package refresh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"VNPriceCache/internal/metrics"
	"VNPriceCache/internal/model"
	"VNPriceCache/internal/source"
	"VNPriceCache/internal/store"
)

// WindowPlanner decides which dates a symbol still needs.
type WindowPlanner interface {
	Window(ctx context.Context, symbol string, today time.Time) (model.FetchWindow, error)
}

// Upserter writes normalized bars for one symbol.
type Upserter interface {
	Upsert(ctx context.Context, symbol string, bars []model.PriceBar) (int, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration)

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Options tunes orchestrator timing. Zero values disable the matching pause.
type Options struct {
	Pacing        time.Duration
	Jitter        time.Duration
	FallbackPause time.Duration
	Location      *time.Location
	Now           func() time.Time
	Sleep         SleepFunc
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

// Orchestrator refreshes one symbol at a time.
type Orchestrator struct {
	planner    WindowPlanner
	store      Upserter
	primary    source.Source
	secondary  source.Source
	normalizer *Normalizer

	pacing        time.Duration
	jitter        time.Duration
	fallbackPause time.Duration
	loc           *time.Location
	now           func() time.Time
	sleep         SleepFunc
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewOrchestrator wires the planner, store and both providers.
func NewOrchestrator(planner WindowPlanner, store Upserter, primary, secondary source.Source, opts Options) *Orchestrator {
	o := &Orchestrator{
		planner:       planner,
		store:         store,
		primary:       primary,
		secondary:     secondary,
		pacing:        opts.Pacing,
		jitter:        opts.Jitter,
		fallbackPause: opts.FallbackPause,
		loc:           opts.Location,
		now:           opts.Now,
		sleep:         opts.Sleep,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	if o.loc == nil {
		o.loc = time.UTC
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = Sleep
	}
	o.normalizer = NewNormalizer(o.loc)
	return o
}

// Today returns the current calendar date in the market timezone.
func (o *Orchestrator) Today() time.Time {
	return model.Day(o.now().In(o.loc))
}

// Refresh brings one symbol up to date.
//
// Provider faults and unreadable cached dates never surface as errors: they
// yield a FAILED result with a reason. The returned error is non-nil only when the store fails (wrapping
// store.ErrUnavailable) or ctx is cancelled. Every refresh that reached a
// provider is followed by the pacing delay, whatever its outcome.
func (o *Orchestrator) Refresh(ctx context.Context, symbol string) (model.RefreshResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res := model.RefreshResult{Symbol: symbol}
	log := o.logger.With().Str("symbol", symbol).Logger()

	w, err := o.planner.Window(ctx, symbol, o.Today())
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) || ctx.Err() != nil {
			return res, err
		}
		// unreadable cached data for this symbol only
		res.Status = model.StatusFailed
		res.Reason = "coverage: " + err.Error()
		log.Warn().Err(err).Msg("cannot plan fetch window")
		o.metrics.ObserveResult(res)
		return res, nil
	}
	res.Window = w
	if w.Empty() {
		res.Status = model.StatusSkippedUpToDate
		log.Debug().Msg("up to date")
		o.metrics.ObserveResult(res)
		return res, nil
	}
	defer o.pace(ctx)

	log.Debug().
		Str("start", w.Start.Format(model.DateLayout)).
		Str("end", w.End.Format(model.DateLayout)).
		Msg("fetching window")

	fetched, from := o.fetch(ctx, w, log)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if fetched.Failed() {
		res.Status = model.StatusFailed
		res.Reason = fetched.Reason()
		if fetched.Err != nil {
			res.Reason = fetched.Err.Error()
		}
		log.Warn().Str("reason", res.Reason).Msg("refresh failed")
		o.metrics.ObserveResult(res)
		return res, nil
	}

	res.Status = model.StatusSuccess
	res.Source = from
	if fetched.Outcome == source.Empty {
		log.Info().Str("source", from).Msg("no new bars")
		o.metrics.ObserveResult(res)
		return res, nil
	}

	norm := o.normalizer.Normalize(w, fetched.Rows)
	if norm.Malformed > 0 {
		log.Warn().Int("malformed", norm.Malformed).Msg("dropped malformed rows")
	}
	if norm.Incomplete > 0 {
		log.Warn().Int("incomplete", norm.Incomplete).Msg("bars stored with NULL columns")
	}
	n, err := o.store.Upsert(ctx, symbol, norm.Bars)
	if err != nil {
		return res, err
	}
	res.UpdatedRows = n
	res.Dropped = norm.Dropped()
	o.metrics.ObserveResult(res)
	return res, nil
}

// fetch asks the primary, then the secondary after a short pause. A valid
// empty answer from either source is remembered so that a failing fallback
// does not turn "nothing new" into a failure.
func (o *Orchestrator) fetch(ctx context.Context, w model.FetchWindow, log zerolog.Logger) (source.Result, string) {
	first := o.call(ctx, o.primary, w, log)
	if first.Outcome == source.OK {
		return first, o.primary.Name()
	}
	if ctx.Err() != nil {
		return first, o.primary.Name()
	}

	log.Info().
		Str("primary", o.primary.Name()).
		Str("outcome", first.Outcome.String()).
		Str("secondary", o.secondary.Name()).
		Msg("falling back")
	o.sleep(ctx, o.fallbackPause)

	second := o.call(ctx, o.secondary, w, log)
	switch {
	case second.Outcome == source.OK:
		return second, o.secondary.Name()
	case second.Outcome == source.Empty:
		return second, o.secondary.Name()
	case first.Outcome == source.Empty:
		return first, o.primary.Name()
	}
	return source.Result{
		Outcome: second.Outcome,
		Err:     fmt.Errorf("%s %s; %s %s", o.primary.Name(), first.Reason(), o.secondary.Name(), second.Reason()),
	}, ""
}

func (o *Orchestrator) call(ctx context.Context, src source.Source, w model.FetchWindow, log zerolog.Logger) source.Result {
	r := src.Fetch(ctx, w)
	o.metrics.ObserveFetch(src.Name(), r.Outcome.String())
	ev := log.Debug()
	if r.Failed() {
		ev = log.Warn().Err(r.Err)
	}
	ev.Str("source", src.Name()).Str("outcome", r.Outcome.String()).Int("rows", len(r.Rows)).Msg("fetch")
	return r
}

func (o *Orchestrator) pace(ctx context.Context) {
	d := o.pacing
	if o.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(o.jitter)))
	}
	o.sleep(ctx, d)
}
