package store

import (
	"context"

	"openrange/internal/backtest"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) SaveRun(_ context.Context, _ string, _ *backtest.Result) (string, error) {
	return "", nil
}
func (n *NoopRecorder) ListRuns(_ context.Context, _ int) ([]RunSummary, error) {
	return []RunSummary{}, nil
}
func (n *NoopRecorder) GetRun(_ context.Context, _ string) (*Run, error) { return nil, ErrRunNotFound }
func (n *NoopRecorder) DeleteRun(_ context.Context, _ string) error      { return ErrRunNotFound }
func (n *NoopRecorder) Close() error                                     { return nil }
