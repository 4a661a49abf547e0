package config

import (
	"strconv"
	"strings"
)

// BinaryName is the program name used in reproduced command lines.
const BinaryName = "camtrap-video"

// Command serializes o into the equivalent `camtrap-video run` invocation.
// Fields at their default value are omitted.
func Command(o Options) string {
	d := Defaults()
	args := []string{BinaryName, "run", quote(o.Model), quote(o.Input)}

	str := func(flag, v string) {
		if v != "" {
			args = append(args, "--"+flag, quote(v))
		}
	}
	flag := func(name string, on bool) {
		if on {
			args = append(args, "--"+name)
		}
	}

	flag("recursive", o.Recursive)
	str("frame-folder", o.FrameFolder)
	str("render-folder", o.RenderFolder)
	str("workspace-root", o.WorkspaceRoot)
	str("output-json", o.OutputJSON)
	str("output-video", o.OutputVideo)
	flag("keep-extracted-frames", o.KeepExtractedFrames)
	flag("keep-rendered-frames", o.KeepRenderedFrames)
	flag("force-extracted-frame-folder-deletion", o.ForceExtractedFolderDeletion)
	flag("force-rendered-frame-folder-deletion", o.ForceRenderedFolderDeletion)
	flag("reuse-results-if-available", o.ReuseResults)
	flag("reuse-frames-if-available", o.ReuseFrames)
	flag("render", o.Render)
	flag("verbose", o.Verbose)

	if o.RenderingThreshold != nil {
		args = append(args, "--rendering-threshold", formatFloat(*o.RenderingThreshold))
	}
	if o.DetectionThreshold != d.DetectionThreshold {
		args = append(args, "--detection-threshold", formatFloat(o.DetectionThreshold))
	}
	if o.Concurrency != d.Concurrency {
		args = append(args, "--concurrency", strconv.Itoa(o.Concurrency))
	}
	if o.FrameSample > 1 {
		args = append(args, "--frame-sample", strconv.Itoa(o.FrameSample))
	}
	if o.DebugMaxFrames > 0 {
		args = append(args, "--debug-max-frames", strconv.Itoa(o.DebugMaxFrames))
	}
	str("class-mapping-file", o.ClassMappingFile)
	if o.Codec != "" && o.Codec != d.Codec {
		args = append(args, "--codec", o.Codec)
	}

	return strings.Join(args, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$`") {
		return s
	}
	return strconv.Quote(s)
}
