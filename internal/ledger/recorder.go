package ledger

import (
	"context"
	"log/slog"
)

// Recorder is what the orchestrator writes to. Implementations must not
// block a run on ledger trouble; errors are returned for the caller to
// downgrade to warnings.
type Recorder interface {
	BeginRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run, videos []Video) error
}

// Nop discards everything. It is used when the ledger is disabled.
type Nop struct{}

func (Nop) BeginRun(context.Context, *Run) error { return nil }

func (Nop) FinishRun(context.Context, *Run, []Video) error { return nil }

// RepositoryRecorder writes runs through a Repository.
type RepositoryRecorder struct {
	repo   Repository
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *RepositoryRecorder {
	return &RepositoryRecorder{repo: repo, logger: logger}
}

func (r *RepositoryRecorder) BeginRun(ctx context.Context, run *Run) error {
	if err := r.repo.CreateRun(ctx, run); err != nil {
		return err
	}
	r.logger.Debug("run recorded", "run_id", run.ID, "mode", run.Mode)
	return nil
}

func (r *RepositoryRecorder) FinishRun(ctx context.Context, run *Run, videos []Video) error {
	if err := r.repo.FinishRun(ctx, run, videos); err != nil {
		return err
	}
	r.logger.Debug("run finished", "run_id", run.ID, "status", run.Status, "videos", len(videos))
	return nil
}
