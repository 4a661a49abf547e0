// Package detector runs the object detector over batches of frame images.
// The detector itself is an opaque Python CLI driven as a subprocess.
package detector

import (
	"context"
	"time"

	"github.com/heimdex/camtrap-video/internal/results"
)

// BatchRequest is one detector invocation.
type BatchRequest struct {
	Model        string
	Images       []string
	Threshold    float64
	Concurrency  int
	ClassMapping string
}

// Engine runs detection over a batch of images and returns frame-level
// results keyed by absolute image path.
type Engine interface {
	RunBatch(ctx context.Context, req BatchRequest) (*results.Batch, error)
}

// Capabilities describes the detection environment as found by the doctor.
type Capabilities struct {
	Python         PythonInfo         `json:"python"`
	DetectorModule DepInfo            `json:"detector_module"`
	Executables    map[string]DepInfo `json:"executables"`
	ProbedAt       time.Time          `json:"probed_at"`
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version,omitempty"`
	Executable string `json:"executable,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Ready reports whether a run can succeed: python, the detector module and
// both ffmpeg tools are present.
func (c *Capabilities) Ready() bool {
	if c == nil || c.Python.Executable == "" || !c.DetectorModule.Available {
		return false
	}
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		if !c.Executables[name].Available {
			return false
		}
	}
	return true
}
