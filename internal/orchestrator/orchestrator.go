// Package orchestrator sequences frame extraction, detection, aggregation,
// rendering and workspace cleanup for one video or a folder of videos.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/detector"
	"github.com/heimdex/camtrap-video/internal/ledger"
	"github.com/heimdex/camtrap-video/internal/logging"
	"github.com/heimdex/camtrap-video/internal/media"
	"github.com/heimdex/camtrap-video/internal/metrics"
	"github.com/heimdex/camtrap-video/internal/render"
	"github.com/heimdex/camtrap-video/internal/results"
	"github.com/heimdex/camtrap-video/internal/tracing"
	"github.com/heimdex/camtrap-video/internal/workspace"
)

// Deps are the collaborators a run drives.
type Deps struct {
	Extractor media.FrameExtractor
	Assembler media.VideoAssembler
	Engine    detector.Engine
	Renderer  render.Renderer
	Recorder  ledger.Recorder
	Logger    *slog.Logger
}

// Orchestrator runs the pipeline. It holds no per-run state and may be
// shared by concurrent runs.
type Orchestrator struct {
	extractor media.FrameExtractor
	assembler media.VideoAssembler
	engine    detector.Engine
	renderer  render.Renderer
	recorder  ledger.Recorder
	logger    *slog.Logger
}

func New(d Deps) *Orchestrator {
	rec := d.Recorder
	if rec == nil {
		rec = ledger.Nop{}
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		extractor: d.Extractor,
		assembler: d.Assembler,
		engine:    d.Engine,
		renderer:  d.Renderer,
		recorder:  rec,
		logger:    logging.WithComponent(logger, "orchestrator"),
	}
}

// Run dispatches on whether opts.Input is a file or a directory.
func (o *Orchestrator) Run(ctx context.Context, opts config.Options) (*Report, error) {
	info, err := os.Stat(opts.Input)
	if err != nil {
		return nil, stageErr(ErrValidation, opts.Input, fmt.Errorf("input: %w", err))
	}
	if info.IsDir() {
		return o.ProcessFolder(ctx, opts)
	}
	return o.ProcessVideo(ctx, opts)
}

// run is the per-invocation state shared by both paths.
type run struct {
	opts    config.Options
	report  *Report
	logger  *slog.Logger
	manager *workspace.Manager
	scratch []*scratch
}

// scratch is a workspace awaiting cleanup together with the files this run
// put there.
type scratch struct {
	label  string
	ws     workspace.Workspace
	files  []string
	policy workspace.Policy
}

func (o *Orchestrator) start(ctx context.Context, mode string, opts config.Options) *run {
	rep := &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Input:     opts.Input,
		StartedAt: time.Now().UTC(),
	}
	root := opts.WorkspaceRoot
	if root == "" {
		root = config.DefaultWorkspaceRoot()
	}
	r := &run{
		opts:    opts,
		report:  rep,
		logger:  logging.WithRunID(o.logger, rep.RunID),
		manager: workspace.NewManager(root),
	}

	metrics.ActiveRuns.Inc()
	if err := o.recorder.BeginRun(ctx, &ledger.Run{
		ID:        rep.RunID,
		Mode:      mode,
		Input:     opts.Input,
		Model:     opts.Model,
		Command:   config.Command(opts),
		Status:    ledger.StatusRunning,
		StartedAt: rep.StartedAt,
	}); err != nil {
		r.warn(fmt.Errorf("ledger: %w", err))
	}

	r.logger.Info("run started",
		"mode", mode,
		"input", logging.SanitizePath(opts.Input),
		"model", opts.Model,
		"stride", opts.Stride(),
		"render", opts.Render,
	)
	return r
}

// finish cleans every registered workspace, settles jobs and records the
// run. err is the run-fatal error, if any.
func (o *Orchestrator) finish(ctx context.Context, r *run, err error) {
	o.cleanup(ctx, r)

	rep := r.report
	for _, j := range rep.Jobs {
		j.settle()
		metrics.IncVideo(string(j.State))
	}
	rep.tally()
	rep.FinishedAt = time.Now().UTC()
	metrics.ActiveRuns.Dec()

	status := ledger.StatusCompleted
	var errMsg string
	if err != nil {
		status = ledger.StatusFailed
		errMsg = err.Error()
	}
	finished := rep.FinishedAt
	videos := make([]ledger.Video, 0, len(rep.Jobs))
	for _, j := range rep.Jobs {
		v := ledger.Video{
			Path:        j.Path,
			RelPath:     j.RelPath,
			FrameCount:  len(j.Frames),
			FPS:         j.FPS,
			State:       string(j.State),
			OutputVideo: j.OutputVideo,
		}
		if j.Err != nil {
			v.Error = j.Err.Error()
		}
		videos = append(videos, v)
	}
	if lerr := o.recorder.FinishRun(ctx, &ledger.Run{
		ID:         rep.RunID,
		Status:     status,
		Succeeded:  rep.Succeeded,
		Failed:     rep.Failed,
		Condition:  string(rep.Condition),
		Error:      errMsg,
		FramesJSON: rep.FrameResults,
		VideosJSON: rep.VideoResults,
		FinishedAt: &finished,
	}, videos); lerr != nil {
		r.warn(fmt.Errorf("ledger: %w", lerr))
	}

	attrs := []any{
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"warnings", len(rep.Warnings),
		"duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds(),
	}
	if rep.Condition != ConditionNone {
		attrs = append(attrs, "condition", rep.Condition)
	}
	if err != nil {
		r.logger.Error("run failed", append(attrs, "error", err)...)
	} else {
		r.logger.Info("run finished", attrs...)
	}
}

// cleanup applies each workspace's policy, most recently created first.
// Failures become warnings; job outcomes are not touched.
func (o *Orchestrator) cleanup(ctx context.Context, r *run) {
	_, span := tracing.StartStage(ctx, metrics.StageCleanup)
	defer span.End()
	start := time.Now()
	defer metrics.ObserveStage(metrics.StageCleanup, start)

	for i := len(r.scratch) - 1; i >= 0; i-- {
		s := r.scratch[i]
		for _, err := range s.ws.Cleanup(s.files, s.policy) {
			r.warn(stageErr(ErrCleanup, s.label, err))
		}
	}
	r.scratch = nil

	if err := r.manager.Close(); err != nil {
		r.warn(stageErr(ErrCleanup, "", err))
	}
}

func (r *run) track(s *scratch) *scratch {
	r.scratch = append(r.scratch, s)
	return s
}

func (r *run) warn(err error) {
	r.report.Warnings = append(r.report.Warnings, err)
	if errors.Is(err, ErrCleanup) {
		metrics.IncCleanupWarnings(1)
	}
	r.logger.Warn("non-fatal problem", "error", err)
}

func nonEmpty(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// detect produces the frame-level batch for frames, reusing the artifact at
// resultPath only when reuse was requested and it loads cleanly.
func (o *Orchestrator) detect(ctx context.Context, r *run, frames []string, resultPath, relBase string, meta results.Metadata) (*results.Batch, error) {
	opts := r.opts

	if opts.ReuseResults {
		if _, err := os.Stat(resultPath); err == nil {
			batch, err := results.Load(resultPath)
			if err == nil {
				r.logger.Info("reusing detection results", "path", logging.SanitizePath(resultPath))
				metrics.IncDetector("reused")
				r.report.ResultsReused = true
				return batch, nil
			}
			r.logger.Warn("existing results unusable, running detector", "path", logging.SanitizePath(resultPath), "error", err)
		}
	}

	images := frames
	if opts.DebugCapped() && len(images) > opts.DebugMaxFrames {
		r.logger.Warn("debug frame cap active, results are not representative",
			"cap", opts.DebugMaxFrames, "frames", len(frames))
		images = images[:opts.DebugMaxFrames]
	}

	ctx, span := tracing.StartStage(ctx, metrics.StageDetect, attribute.Int("images", len(images)))
	start := time.Now()
	batch, err := o.engine.RunBatch(ctx, detector.BatchRequest{
		Model:        opts.Model,
		Images:       images,
		Threshold:    opts.DetectionThreshold,
		Concurrency:  opts.Workers(),
		ClassMapping: opts.ClassMappingFile,
	})
	metrics.ObserveStage(metrics.StageDetect, start)
	tracing.End(span, err)
	if err != nil {
		metrics.IncDetector("failed")
		return nil, stageErr(ErrDetection, "", err)
	}
	metrics.IncDetector("ok")
	r.report.DetectorImages = len(images)

	if err := results.Persist(resultPath, batch, relBase, meta); err != nil {
		return nil, stageErr(ErrDetection, "", fmt.Errorf("persist results: %w", err))
	}
	return batch, nil
}
