package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"VNPriceCache/internal/model"
)

// NewBackOff returns the wait policy between retry passes.
func NewBackOff(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

var errPending = errors.New("symbols still failing")

// RunUntilCovered runs a full pass, then re-runs only the failed symbols
// until none remain or maxAttempts passes have been made, waiting per bo
// between passes. The merged summary is returned even when symbols still
// fail; a store failure or cancellation, including one between passes,
// returns an error instead.
func (d *Driver) RunUntilCovered(ctx context.Context, universe []string, maxAttempts int, bo backoff.BackOff) (*model.RunSummary, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	runID := d.newRunID()
	pending := universe
	attempt := 0
	var merged *model.RunSummary

	op := func() error {
		attempt++
		s, err := d.runPass(ctx, runID, attempt, pending)
		if err != nil {
			return backoff.Permanent(err)
		}
		if merged == nil {
			merged = s
		} else {
			merged.Merge(s)
			if err := d.recorder.RecordRun(merged); err != nil {
				d.logger.Error().Err(err).Msg("record merged run")
			}
		}
		if len(s.Failed) == 0 {
			return nil
		}
		pending = append([]string(nil), s.Failed...)
		return fmt.Errorf("%w: %d", errPending, len(pending))
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying failed symbols")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	if err != nil && !errors.Is(err, errPending) {
		d.metrics.ObserveRun(nil, err)
		return nil, err
	}
	d.metrics.ObserveRun(merged, nil)
	return merged, nil
}
