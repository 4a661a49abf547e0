package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/logging"
	"github.com/heimdex/camtrap-video/internal/orchestrator"
)

// runFlags collects `run` and `command` flags. The config file, when given,
// supplies every value whose flag was not set explicitly.
type runFlags struct {
	opts               config.Options
	configFile         string
	renderingThreshold float64
}

func bindRunFlags(cmd *cobra.Command) *runFlags {
	rf := &runFlags{opts: config.Defaults()}
	o := &rf.opts
	f := cmd.Flags()

	f.StringVar(&rf.configFile, "config", "", "YAML run file; explicit flags take precedence")

	f.StringVar(&o.OutputJSON, "output-json", "", "result file (required for folders; default <video>.json)")
	f.StringVar(&o.OutputVideo, "output-video", "", "annotated video, or output folder when processing a folder")
	f.StringVar(&o.FrameFolder, "frame-folder", "", "extract frames here instead of a temporary workspace")
	f.StringVar(&o.RenderFolder, "render-folder", "", "render frames here instead of a temporary workspace")
	f.StringVar(&o.WorkspaceRoot, "workspace-root", "", "parent of temporary workspaces")

	f.BoolVar(&o.Render, "render", false, "write annotated videos")
	f.BoolVar(&o.KeepExtractedFrames, "keep-extracted-frames", false, "do not delete extracted frames")
	f.BoolVar(&o.KeepRenderedFrames, "keep-rendered-frames", false, "do not delete rendered frames")
	f.BoolVar(&o.ForceExtractedFolderDeletion, "force-extracted-frame-folder-deletion", false, "remove temporary extraction workspaces even if they hold other files")
	f.BoolVar(&o.ForceRenderedFolderDeletion, "force-rendered-frame-folder-deletion", false, "remove temporary render workspaces even if they hold other files")
	f.BoolVar(&o.ReuseResults, "reuse-results-if-available", false, "skip detection when a valid result file exists")
	f.BoolVar(&o.ReuseFrames, "reuse-frames-if-available", false, "keep frames already present in the frame folder")
	f.BoolVar(&o.Recursive, "recursive", false, "search sub-folders for videos")
	f.BoolVar(&o.Verbose, "verbose", false, "debug logging")

	f.StringVar(&o.Codec, "codec", o.Codec, "codec for annotated videos (h264, hevc, mp4v, mjpg, vp9)")
	f.Float64Var(&o.DetectionThreshold, "detection-threshold", o.DetectionThreshold, "minimum confidence kept in results")
	f.Float64Var(&rf.renderingThreshold, "rendering-threshold", config.DefaultRenderingThreshold, "minimum confidence drawn (default depends on the detector)")
	f.IntVar(&o.FrameSample, "frame-sample", 0, "use every Nth frame")
	f.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "parallel extractions, detector cores and stitching workers")
	f.IntVar(&o.DebugMaxFrames, "debug-max-frames", o.DebugMaxFrames, "run detection on at most this many frames (debugging only)")
	f.StringVar(&o.ClassMappingFile, "class-mapping-file", "", "category mapping passed to the detector")

	return rf
}

// overlay copies a config-file value into the options unless the flag was
// set on the command line.
var overlay = []struct {
	flag  string
	apply func(dst *config.Options, src config.Options)
}{
	{"output-json", func(d *config.Options, s config.Options) { d.OutputJSON = s.OutputJSON }},
	{"output-video", func(d *config.Options, s config.Options) { d.OutputVideo = s.OutputVideo }},
	{"frame-folder", func(d *config.Options, s config.Options) { d.FrameFolder = s.FrameFolder }},
	{"render-folder", func(d *config.Options, s config.Options) { d.RenderFolder = s.RenderFolder }},
	{"workspace-root", func(d *config.Options, s config.Options) { d.WorkspaceRoot = s.WorkspaceRoot }},
	{"render", func(d *config.Options, s config.Options) { d.Render = s.Render }},
	{"keep-extracted-frames", func(d *config.Options, s config.Options) { d.KeepExtractedFrames = s.KeepExtractedFrames }},
	{"keep-rendered-frames", func(d *config.Options, s config.Options) { d.KeepRenderedFrames = s.KeepRenderedFrames }},
	{"force-extracted-frame-folder-deletion", func(d *config.Options, s config.Options) {
		d.ForceExtractedFolderDeletion = s.ForceExtractedFolderDeletion
	}},
	{"force-rendered-frame-folder-deletion", func(d *config.Options, s config.Options) {
		d.ForceRenderedFolderDeletion = s.ForceRenderedFolderDeletion
	}},
	{"reuse-results-if-available", func(d *config.Options, s config.Options) { d.ReuseResults = s.ReuseResults }},
	{"reuse-frames-if-available", func(d *config.Options, s config.Options) { d.ReuseFrames = s.ReuseFrames }},
	{"recursive", func(d *config.Options, s config.Options) { d.Recursive = s.Recursive }},
	{"verbose", func(d *config.Options, s config.Options) { d.Verbose = s.Verbose }},
	{"codec", func(d *config.Options, s config.Options) { d.Codec = s.Codec }},
	{"detection-threshold", func(d *config.Options, s config.Options) { d.DetectionThreshold = s.DetectionThreshold }},
	{"rendering-threshold", func(d *config.Options, s config.Options) { d.RenderingThreshold = s.RenderingThreshold }},
	{"frame-sample", func(d *config.Options, s config.Options) { d.FrameSample = s.FrameSample }},
	{"concurrency", func(d *config.Options, s config.Options) { d.Concurrency = s.Concurrency }},
	{"debug-max-frames", func(d *config.Options, s config.Options) { d.DebugMaxFrames = s.DebugMaxFrames }},
	{"class-mapping-file", func(d *config.Options, s config.Options) { d.ClassMappingFile = s.ClassMappingFile }},
}

// resolve produces the final options for model and input.
func (rf *runFlags) resolve(cmd *cobra.Command, model, input string) (config.Options, error) {
	opts := rf.opts
	changed := cmd.Flags().Changed

	if changed("rendering-threshold") {
		t := rf.renderingThreshold
		opts.RenderingThreshold = &t
	}

	if rf.configFile != "" {
		file, err := config.LoadFile(rf.configFile)
		if err != nil {
			return opts, usageError{err}
		}
		for _, o := range overlay {
			if !changed(o.flag) {
				o.apply(&opts, file)
			}
		}
	}

	opts.Model = model
	opts.Input = input
	return opts, nil
}

func newRunCmd() *cobra.Command {
	var rf *runFlags
	cmd := &cobra.Command{
		Use:   "run <model> <input>",
		Short: "Detect objects in a video or a folder of videos",
		Long: `Extract frames from a video (or every video in a folder), run the detector
over them once, write frame-level and video-level results and optionally
render annotated videos. Temporary workspaces are cleaned up afterwards.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.resolve(cmd, args[0], args[1])
			if err != nil {
				return err
			}

			env, err := config.New()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := env.LogLevel()
			if opts.Verbose {
				level = "debug"
			}
			logger := logging.NewLogger(level, env.LogFormat())

			ctx := cmd.Context()
			app, err := wire(ctx, env, logger)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			rep, err := app.orchestrator().Run(ctx, opts)
			if rep != nil {
				printReport(cmd.OutOrStdout(), rep)
			}
			if err != nil {
				return err
			}
			return reportErr(rep)
		},
	}
	rf = bindRunFlags(cmd)
	return cmd
}

func newCommandCmd() *cobra.Command {
	var rf *runFlags
	cmd := &cobra.Command{
		Use:   "command <model> <input>",
		Short: "Print the run command equivalent to the given flags and config file",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := rf.resolve(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.Command(opts))
			return nil
		},
	}
	rf = bindRunFlags(cmd)
	return cmd
}

// reportErr turns failed videos into a non-zero exit. The no-videos and
// no-frames conditions alone are not failures.
func reportErr(rep *orchestrator.Report) error {
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d videos failed", rep.Failed, len(rep.Jobs))
	}
	return nil
}

func printReport(w io.Writer, rep *orchestrator.Report) {
	fmt.Fprintf(w, "run %s (%s): %d succeeded, %d failed in %s\n",
		rep.RunID, rep.Mode, rep.Succeeded, rep.Failed,
		rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if rep.Condition != orchestrator.ConditionNone {
		fmt.Fprintf(w, "  condition: %s\n", rep.Condition)
	}
	if rep.FrameResults != "" {
		fmt.Fprintf(w, "  frame results: %s\n", rep.FrameResults)
	}
	if rep.VideoResults != "" {
		fmt.Fprintf(w, "  video results: %s\n", rep.VideoResults)
	}
	for _, j := range rep.Jobs {
		switch {
		case j.Err != nil:
			fmt.Fprintf(w, "  %s: %v\n", j, j.Err)
		case j.OutputVideo != "":
			fmt.Fprintf(w, "  %s -> %s\n", j, j.OutputVideo)
		}
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  warning: %v\n", warn)
	}
}
