package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/metrics"
	"github.com/heimdex/camtrap-video/internal/render"
	"github.com/heimdex/camtrap-video/internal/results"
	"github.com/heimdex/camtrap-video/internal/tracing"
	"github.com/heimdex/camtrap-video/internal/workspace"
)

// Default artifact suffixes for single-video runs.
const (
	singleResultsSuffix = ".json"
	singleVideoSuffix   = ".detections.mp4"
)

// ProcessVideo runs the pipeline over one video. Extraction, detection and
// rendering failures are fatal and returned as *StageError; the report is
// returned in every case once validation passed.
func (o *Orchestrator) ProcessVideo(ctx context.Context, opts config.Options) (*Report, error) {
	if err := opts.Validate(false); err != nil {
		return nil, stageErr(ErrValidation, "", err)
	}

	r := o.start(ctx, ModeSingle, opts)
	rep := r.report

	resultPath := opts.OutputJSON
	if resultPath == "" {
		resultPath = opts.Input + singleResultsSuffix
	}
	rep.FrameResults = resultPath

	job := newJob(opts.Input, "")
	rep.Jobs = []*VideoJob{job}

	err := o.processVideo(ctx, r, job, resultPath)
	if err != nil {
		job.fail(err)
	}
	o.finish(ctx, r, err)
	return rep, err
}

func (o *Orchestrator) processVideo(ctx context.Context, r *run, job *VideoJob, resultPath string) error {
	opts := r.opts
	rep := r.report
	logger := r.logger.With("video", job.Key())

	outVideo := ""
	if opts.Render {
		outVideo = opts.OutputVideo
		if outVideo == "" {
			outVideo = opts.Input + singleVideoSuffix
		}
	}

	ws, err := r.manager.Extraction(opts.FrameFolder, job.Path)
	if err != nil {
		return stageErr(ErrExtraction, job.Path, err)
	}
	extracted := r.track(&scratch{
		label: "extracted frames",
		ws:    ws,
		policy: workspace.Policy{
			Keep:      opts.KeepExtractedFrames,
			Force:     opts.ForceExtractedFolderDeletion,
			Protected: nonEmpty(resultPath, outVideo),
		},
	})

	spanCtx, span := tracing.StartStage(ctx, metrics.StageExtract, attribute.String("video", job.Key()))
	start := time.Now()
	frames, err := o.extractor.Extract(spanCtx, job.Path, ws.Dir, opts.Stride(), !opts.ReuseFrames)
	metrics.ObserveStage(metrics.StageExtract, start)
	tracing.End(span, err)
	if err != nil {
		return stageErr(ErrExtraction, job.Path, err)
	}

	job.FrameDir = ws.Dir
	job.Frames = frames.Paths
	job.FPS = frames.FPS
	extracted.files = frames.Paths
	job.advance(StateFramesExtracted)
	metrics.AddFrames(len(frames.Paths))
	if len(frames.Paths) == 0 {
		rep.Condition = ConditionNoFramesExtracted
		logger.Warn("video yielded no frames")
		return nil
	}
	logger.Info("frames extracted", "frames", len(frames.Paths), "fps", frames.FPS)

	batch, err := o.detect(ctx, r, frames.Paths, resultPath, ws.Dir, results.Metadata{FrameRate: frames.FPS})
	if err != nil {
		return err
	}
	rep.Results = batch
	job.advance(StateDetected)

	if !opts.Render {
		return nil
	}

	rws, err := r.manager.Render(opts.RenderFolder, job.Path)
	if err != nil {
		return stageErr(ErrRender, job.Path, err)
	}
	rendered := r.track(&scratch{
		label: "rendered frames",
		ws:    rws,
		policy: workspace.Policy{
			Keep:      opts.KeepRenderedFrames,
			Force:     opts.ForceRenderedFolderDeletion,
			Protected: nonEmpty(resultPath, outVideo),
		},
	})

	spanCtx, span = tracing.StartStage(ctx, metrics.StageRender, attribute.String("video", job.Key()))
	start = time.Now()
	paths, err := o.renderer.Render(spanCtx, render.Request{
		ResultPath: resultPath,
		FramesDir:  ws.Dir,
		OutDir:     rws.Dir,
		Threshold:  opts.RenderThreshold(batch.Detector()),
		Frames:     job.Frames,
		Workers:    opts.Workers(),
	})
	metrics.ObserveStage(metrics.StageRender, start)
	tracing.End(span, err)
	if err != nil {
		return stageErr(ErrRender, job.Path, err)
	}
	rendered.files = paths

	fps := opts.RenderFPS(job.FPS)
	spanCtx, span = tracing.StartStage(ctx, metrics.StageAssemble, attribute.String("video", job.Key()), attribute.Float64("fps", fps))
	start = time.Now()
	err = o.assembler.Assemble(spanCtx, paths, fps, outVideo, opts.Codec)
	metrics.ObserveStage(metrics.StageAssemble, start)
	tracing.End(span, err)
	if err != nil {
		return stageErr(ErrRender, job.Path, err)
	}

	job.OutputVideo = outVideo
	rep.OutputVideo = outVideo
	job.advance(StateRendered)
	logger.Info("annotated video written", "output", outVideo, "fps", fps)
	return nil
}
