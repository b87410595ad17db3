package model

import (
	"sort"
	"time"
)

// Status is the per-symbol outcome of a refresh.
type Status string

const (
	StatusSuccess         Status = "SUCCESS"
	StatusSkippedUpToDate Status = "SKIPPED_UP_TO_DATE"
	StatusFailed          Status = "FAILED"
)

// RefreshResult is what the orchestrator reports for one symbol.
type RefreshResult struct {
	Symbol      string
	Window      FetchWindow
	UpdatedRows int
	Dropped     int
	Status      Status
	Reason      string
	Source      string
}

// RunSummary accumulates the outcome of one pass over a universe.
type RunSummary struct {
	RunID       string
	Attempt     int
	Succeeded   []string
	Skipped     []string
	Failed      []string
	Reasons     map[string]string
	UpdatedRows int
	BySource    map[string]int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// NewRunSummary returns an empty summary with its maps allocated.
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		Attempt:   1,
		Reasons:   map[string]string{},
		BySource:  map[string]int{},
		StartedAt: startedAt,
	}
}

// Add folds a single result into the summary.
func (s *RunSummary) Add(r RefreshResult) {
	switch r.Status {
	case StatusSuccess:
		s.Succeeded = append(s.Succeeded, r.Symbol)
		s.UpdatedRows += r.UpdatedRows
		if r.Source != "" {
			s.BySource[r.Source]++
		}
	case StatusSkippedUpToDate:
		s.Skipped = append(s.Skipped, r.Symbol)
	case StatusFailed:
		s.Failed = append(s.Failed, r.Symbol)
		s.Reasons[r.Symbol] = r.Reason
	}
}

// Merge folds a later retry pass into s. Symbols that succeed or skip in the
// later pass are removed from s.Failed.
func (s *RunSummary) Merge(next *RunSummary) {
	recovered := make(map[string]bool, len(next.Succeeded)+len(next.Skipped))
	for _, sym := range next.Succeeded {
		recovered[sym] = true
	}
	for _, sym := range next.Skipped {
		recovered[sym] = true
	}

	failed := s.Failed[:0]
	for _, sym := range s.Failed {
		if recovered[sym] {
			delete(s.Reasons, sym)
			continue
		}
		failed = append(failed, sym)
	}
	s.Failed = failed
	for sym, reason := range next.Reasons {
		s.Reasons[sym] = reason
	}

	s.Succeeded = append(s.Succeeded, next.Succeeded...)
	s.Skipped = append(s.Skipped, next.Skipped...)
	s.UpdatedRows += next.UpdatedRows
	for src, n := range next.BySource {
		s.BySource[src] += n
	}
	s.Attempt = next.Attempt
	s.FinishedAt = next.FinishedAt
}

// Total returns how many symbols the summary accounts for.
func (s *RunSummary) Total() int {
	return len(s.Succeeded) + len(s.Skipped) + len(s.Failed)
}

// SourceNames returns the BySource keys in sorted order.
func (s *RunSummary) SourceNames() []string {
	names := make([]string, 0, len(s.BySource))
	for name := range s.BySource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
