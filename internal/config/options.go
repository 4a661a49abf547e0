package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel              = "MDV5A"
	DefaultCodec              = "h264"
	DefaultDetectionThreshold = 0.005

	// Rendering thresholds when none is configured. Older (v4) detectors
	// produce systematically higher scores.
	DefaultRenderingThreshold   = 0.2
	DefaultRenderingThresholdV4 = 0.8

	frameResultsSuffix = ".frames"
	resultExt          = ".json"
)

// ErrInvalid marks a bad combination of run options.
var ErrInvalid = errors.New("invalid options")

// DefaultWorkspaceRoot is where ephemeral workspaces are created when
// Options.WorkspaceRoot is empty: $TMPDIR/camtrap-video.
func DefaultWorkspaceRoot() string {
	return filepath.Join(os.TempDir(), "camtrap-video")
}

// Options is the configuration of a single run.
type Options struct {
	Model       string `yaml:"model"`
	Input       string `yaml:"input"`
	OutputJSON  string `yaml:"output_json"`
	OutputVideo string `yaml:"output_video"`

	FrameFolder   string `yaml:"frame_folder"`
	RenderFolder  string `yaml:"render_folder"`
	WorkspaceRoot string `yaml:"workspace_root"`

	Render bool `yaml:"render"`

	KeepExtractedFrames          bool `yaml:"keep_extracted_frames"`
	KeepRenderedFrames           bool `yaml:"keep_rendered_frames"`
	ForceExtractedFolderDeletion bool `yaml:"force_extracted_frame_folder_deletion"`
	ForceRenderedFolderDeletion  bool `yaml:"force_rendered_frame_folder_deletion"`

	ReuseResults bool `yaml:"reuse_results_if_available"`
	ReuseFrames  bool `yaml:"reuse_frames_if_available"`

	Recursive bool `yaml:"recursive"`
	Verbose   bool `yaml:"verbose"`

	Codec              string   `yaml:"codec"`
	DetectionThreshold float64  `yaml:"detection_threshold"`
	RenderingThreshold *float64 `yaml:"rendering_threshold"`

	FrameSample      int    `yaml:"frame_sample"`
	Concurrency      int    `yaml:"concurrency"`
	DebugMaxFrames   int    `yaml:"debug_max_frames"`
	ClassMappingFile string `yaml:"class_mapping_file"`
}

// Defaults returns Options with every field at its documented default.
func Defaults() Options {
	return Options{
		Model:              DefaultModel,
		Codec:              DefaultCodec,
		DetectionThreshold: DefaultDetectionThreshold,
		Concurrency:        1,
		DebugMaxFrames:     -1,
	}
}

// LoadFile reads a YAML run file on top of Defaults. Unknown keys are rejected.
func LoadFile(path string) (Options, error) {
	opts := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read run file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return opts, fmt.Errorf("parse run file %s: %w", filepath.Base(path), err)
	}
	return opts, nil
}

// Stride returns the sampling stride, treating 0 as "every frame".
func (o Options) Stride() int {
	if o.FrameSample <= 1 {
		return 1
	}
	return o.FrameSample
}

// Workers returns the concurrency degree, never less than one.
func (o Options) Workers() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}

// RenderFPS is the output frame rate for a source rate under the stride.
func (o Options) RenderFPS(sourceFPS float64) float64 {
	return sourceFPS / float64(o.Stride())
}

// RenderThreshold resolves the rendering threshold for the named detector.
func (o Options) RenderThreshold(detector string) float64 {
	if o.RenderingThreshold != nil {
		return *o.RenderingThreshold
	}
	d := strings.ToLower(detector)
	if strings.Contains(d, "v4") || strings.Contains(d, "mdv4") {
		return DefaultRenderingThresholdV4
	}
	return DefaultRenderingThreshold
}

// DebugCapped reports whether detection runs on a truncated frame list.
func (o Options) DebugCapped() bool {
	return o.DebugMaxFrames > 0
}

// FrameResultsPath is the frame-level artifact for folder runs: the
// video-level path with ".frames" inserted before ".json".
func (o Options) FrameResultsPath() string {
	return strings.TrimSuffix(o.OutputJSON, resultExt) + frameResultsSuffix + resultExt
}

// VideoResultsPath is the inverse of FrameResultsPath.
func VideoResultsPath(frameResults string) string {
	return strings.TrimSuffix(frameResults, frameResultsSuffix+resultExt) + resultExt
}

// Validate checks option combinations before any work starts. isDir selects
// folder-mode rules.
func (o Options) Validate(isDir bool) error {
	var problems []string

	if strings.TrimSpace(o.Model) == "" {
		problems = append(problems, "model is required")
	}
	if strings.TrimSpace(o.Input) == "" {
		problems = append(problems, "input is required")
	}
	if o.FrameSample < 0 {
		problems = append(problems, "frame_sample must not be negative")
	}
	if o.Concurrency < 0 {
		problems = append(problems, "concurrency must not be negative")
	}
	if o.DetectionThreshold < 0 || o.DetectionThreshold > 1 {
		problems = append(problems, "detection_threshold must be within [0, 1]")
	}
	if o.RenderingThreshold != nil && (*o.RenderingThreshold < 0 || *o.RenderingThreshold > 1) {
		problems = append(problems, "rendering_threshold must be within [0, 1]")
	}

	if isDir {
		problems = append(problems, o.validateFolder()...)
	} else if o.Render && o.OutputVideo != "" {
		if info, err := os.Stat(o.OutputVideo); err == nil && info.IsDir() {
			problems = append(problems, "output_video is an existing directory; a video file is required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (o Options) validateFolder() []string {
	var problems []string

	if o.OutputJSON == "" {
		problems = append(problems, "output_json is required when processing a folder")
	} else if !strings.HasSuffix(o.OutputJSON, resultExt) {
		problems = append(problems, "output_json must end in .json")
	} else if strings.HasSuffix(o.OutputJSON, frameResultsSuffix+resultExt) {
		problems = append(problems, "output_json must not end in .frames.json")
	}

	if o.Render && o.OutputVideo != "" && !samePath(o.OutputVideo, o.Input) {
		if info, err := os.Stat(o.OutputVideo); err == nil && !info.IsDir() {
			problems = append(problems, "rendering a folder, but output_video is an existing file")
		}
	}

	return problems
}

// AnnotateInPlace reports whether folder-mode videos are written next to
// their sources rather than into an output folder.
func (o Options) AnnotateInPlace() bool {
	return o.OutputVideo == "" || samePath(o.OutputVideo, o.Input)
}

func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
