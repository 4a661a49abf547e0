package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/media"
	"github.com/heimdex/camtrap-video/internal/metrics"
	"github.com/heimdex/camtrap-video/internal/render"
	"github.com/heimdex/camtrap-video/internal/results"
	"github.com/heimdex/camtrap-video/internal/tracing"
	"github.com/heimdex/camtrap-video/internal/workspace"
)

const annotatedSuffix = "_annotated"

// ProcessFolder runs the pipeline over every video below opts.Input. A video
// whose extraction or rendering fails is marked failed and the others go
// on; detection failures are fatal for the whole run.
func (o *Orchestrator) ProcessFolder(ctx context.Context, opts config.Options) (*Report, error) {
	if err := opts.Validate(true); err != nil {
		return nil, stageErr(ErrValidation, "", err)
	}

	r := o.start(ctx, ModeFolder, opts)
	rep := r.report
	rep.FrameResults = opts.FrameResultsPath()
	rep.VideoResults = opts.OutputJSON

	err := o.processFolder(ctx, r)
	if err != nil {
		for _, j := range rep.Jobs {
			j.fail(err)
		}
	}
	o.finish(ctx, r, err)
	return rep, err
}

func (o *Orchestrator) processFolder(ctx context.Context, r *run) error {
	opts := r.opts
	rep := r.report

	videos, err := media.FindVideos(opts.Input, opts.Recursive)
	if err != nil {
		return stageErr(ErrExtraction, opts.Input, err)
	}
	if len(videos) == 0 {
		rep.Condition = ConditionNoVideosFound
		r.logger.Warn("no videos found", "input", opts.Input, "recursive", opts.Recursive)
		return nil
	}

	rep.Jobs = make([]*VideoJob, len(videos))
	for i, v := range videos {
		rel, err := filepath.Rel(opts.Input, v)
		if err != nil {
			return stageErr(ErrExtraction, v, err)
		}
		rep.Jobs[i] = newJob(v, filepath.ToSlash(rel))
	}

	protected := nonEmpty(rep.FrameResults, rep.VideoResults)
	if !opts.AnnotateInPlace() && opts.Render {
		protected = append(protected, opts.OutputVideo)
	}

	ws, err := r.manager.Extraction(opts.FrameFolder, opts.Input)
	if err != nil {
		return stageErr(ErrExtraction, opts.Input, err)
	}
	extracted := r.track(&scratch{
		label: "extracted frames",
		ws:    ws,
		policy: workspace.Policy{
			Keep:      opts.KeepExtractedFrames,
			Force:     opts.ForceExtractedFolderDeletion,
			Protected: protected,
		},
	})

	spanCtx, span := tracing.StartStage(ctx, metrics.StageExtract, attribute.Int("videos", len(videos)))
	start := time.Now()
	folder, err := o.extractor.ExtractAll(spanCtx, media.FolderRequest{
		Root:        opts.Input,
		Videos:      videos,
		Dest:        ws.Dir,
		EveryN:      opts.Stride(),
		Overwrite:   !opts.ReuseFrames,
		Concurrency: opts.Workers(),
	})
	metrics.ObserveStage(metrics.StageExtract, start)
	tracing.End(span, err)
	if err != nil {
		return stageErr(ErrExtraction, opts.Input, err)
	}

	for i, slot := range folder.Videos {
		job := rep.Jobs[i]
		if slot.Err != nil {
			job.fail(stageErr(ErrExtraction, job.RelPath, slot.Err))
			r.logger.Warn("extraction failed", "video", job.RelPath, "error", slot.Err)
			continue
		}
		job.FrameDir = slot.Frames.Dir
		job.Frames = slot.Frames.Paths
		job.FPS = slot.Frames.FPS
		job.advance(StateFramesExtracted)
		metrics.AddFrames(len(job.Frames))
	}

	frames := folder.Paths()
	extracted.files = frames
	if len(frames) == 0 {
		rep.Condition = ConditionNoFramesExtracted
		r.logger.Warn("no frames extracted from any video", "videos", len(videos))
		return nil
	}
	r.logger.Info("frames extracted", "videos", len(videos), "frames", len(frames))

	batch, err := o.detect(ctx, r, frames, rep.FrameResults, ws.Dir, results.Metadata{FrameRates: folder.FrameRates()})
	if err != nil {
		return err
	}
	rep.Results = batch
	for _, j := range rep.Jobs {
		j.advance(StateDetected)
	}

	_, span = tracing.StartStage(ctx, metrics.StageAggregate)
	start = time.Now()
	err = results.Aggregate(rep.FrameResults, rep.VideoResults)
	metrics.ObserveStage(metrics.StageAggregate, start)
	tracing.End(span, err)
	if err != nil {
		return stageErr(ErrDetection, "", fmt.Errorf("aggregate: %w", err))
	}

	if opts.Render {
		o.renderFolder(ctx, r, ws, frames, batch.Detector(), protected)
	}
	return nil
}

// renderItem is the self-contained unit of work for one render worker: the
// video's own extracted frames and where its annotated copy goes.
type renderItem struct {
	index     int
	rel       string
	frames    []string
	framesDir string
	renderDir string
	fps       float64
	output    string
	codec     string
}

type renderOutcome struct {
	index    int
	output   string
	rendered []string
	err      error
}

// renderFolder annotates and stitches each live video on a fixed pool of
// workers. A video's render or stitch failure is recorded on its own job
// after the pool has joined.
func (o *Orchestrator) renderFolder(ctx context.Context, r *run, ws workspace.Workspace, frames []string, detectorName string, protected []string) {
	opts := r.opts
	rep := r.report

	var items []renderItem
	for i, j := range rep.Jobs {
		if j.State.Terminal() {
			continue
		}
		own, err := render.FramesFor(frames, ws.Dir, j.RelPath)
		if err != nil {
			r.logger.Info("nothing to render", "video", j.RelPath, "reason", err)
			continue
		}
		items = append(items, renderItem{
			index:     i,
			rel:       j.RelPath,
			frames:    own,
			framesDir: ws.Dir,
			fps:       opts.RenderFPS(j.FPS),
			output:    folderOutput(opts, j),
			codec:     opts.Codec,
		})
	}
	if len(items) == 0 {
		return
	}

	rws, err := r.manager.Render(opts.RenderFolder, opts.Input)
	if err != nil {
		for _, item := range items {
			rep.Jobs[item.index].fail(stageErr(ErrRender, item.rel, err))
		}
		return
	}
	renderScratch := r.track(&scratch{
		label: "rendered frames",
		ws:    rws,
		policy: workspace.Policy{
			Keep:      opts.KeepRenderedFrames,
			Force:     opts.ForceRenderedFolderDeletion,
			Protected: protected,
		},
	})
	for i := range items {
		items[i].renderDir = rws.Dir
	}

	threshold := opts.RenderThreshold(detectorName)
	for _, out := range o.renderAll(ctx, rep.FrameResults, threshold, items, opts.Workers()) {
		renderScratch.files = append(renderScratch.files, out.rendered...)
		job := rep.Jobs[out.index]
		if out.err != nil {
			job.fail(stageErr(ErrRender, job.RelPath, out.err))
			r.logger.Warn("rendering failed", "video", job.RelPath, "error", out.err)
			continue
		}
		job.OutputVideo = out.output
		job.advance(StateRendered)
	}
}

// renderAll feeds items to a pool of workers and returns one outcome per
// item, ordered by job index.
func (o *Orchestrator) renderAll(ctx context.Context, resultPath string, threshold float64, items []renderItem, workers int) []renderOutcome {
	pool := max(1, min(workers, len(items)))
	perItem := max(1, workers/pool)

	in := make(chan renderItem)
	out := make(chan renderOutcome, len(items))

	var wg sync.WaitGroup
	for range pool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range in {
				out <- o.renderOne(ctx, resultPath, threshold, perItem, item)
			}
		}()
	}

	for _, item := range items {
		in <- item
	}
	close(in)
	wg.Wait()
	close(out)

	outcomes := make([]renderOutcome, 0, len(items))
	for oc := range out {
		outcomes = append(outcomes, oc)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	return outcomes
}

// renderOne draws boxes on one video's frames, keeping their sub-path below
// the render workspace, and stitches them into the video's output.
func (o *Orchestrator) renderOne(ctx context.Context, resultPath string, threshold float64, workers int, item renderItem) renderOutcome {
	oc := renderOutcome{index: item.index, output: item.output}

	if item.fps <= 0 {
		oc.err = errors.New("unknown frame rate")
		return oc
	}

	spanCtx, span := tracing.StartStage(ctx, metrics.StageRender,
		attribute.String("video", item.rel), attribute.Int("frames", len(item.frames)))
	start := time.Now()
	rendered, err := o.renderer.Render(spanCtx, render.Request{
		ResultPath:        resultPath,
		FramesDir:         item.framesDir,
		OutDir:            item.renderDir,
		Threshold:         threshold,
		PreserveStructure: true,
		Frames:            item.frames,
		Workers:           workers,
	})
	metrics.ObserveStage(metrics.StageRender, start)
	tracing.End(span, err)
	if err != nil {
		oc.err = err
		return oc
	}
	oc.rendered = rendered

	if err := os.MkdirAll(filepath.Dir(item.output), 0o755); err != nil {
		oc.err = fmt.Errorf("create output dir: %w", err)
		return oc
	}

	spanCtx, span = tracing.StartStage(ctx, metrics.StageAssemble,
		attribute.String("video", item.rel), attribute.Float64("fps", item.fps))
	start = time.Now()
	err = o.assembler.Assemble(spanCtx, rendered, item.fps, item.output, item.codec)
	metrics.ObserveStage(metrics.StageAssemble, start)
	tracing.End(span, err)
	oc.err = err
	return oc
}

// folderOutput resolves where a video's annotated copy goes: next to the
// source as <name>_annotated<ext>, or mirrored below the output folder.
func folderOutput(opts config.Options, job *VideoJob) string {
	if opts.AnnotateInPlace() {
		ext := filepath.Ext(job.Path)
		return strings.TrimSuffix(job.Path, ext) + annotatedSuffix + ext
	}
	return filepath.Join(opts.OutputVideo, filepath.FromSlash(job.RelPath))
}
