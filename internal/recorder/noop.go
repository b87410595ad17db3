package recorder

import "VNPriceCache/internal/model"

// NoopRecorder is a no-op implementation used when run history is disabled.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordOutcome(_ string, _ int, _ model.RefreshResult) error { return nil }
func (n *NoopRecorder) RecordRun(_ *model.RunSummary) error                        { return nil }
func (n *NoopRecorder) Close() error                                               { return nil }
