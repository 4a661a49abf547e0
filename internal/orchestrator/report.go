package orchestrator

import (
	"errors"
	"time"

	"github.com/heimdex/camtrap-video/internal/results"
)

// Condition describes a run that finished without error but also without
// producing anything.
type Condition string

const (
	ConditionNone              Condition = ""
	ConditionNoVideosFound     Condition = "no_videos_found"
	ConditionNoFramesExtracted Condition = "no_frames_extracted"
)

const (
	ModeSingle = "single"
	ModeFolder = "folder"
)

// Report is the outcome of a run.
type Report struct {
	RunID string
	Mode  string
	Input string

	// FrameResults is the frame-level artifact. VideoResults is the
	// video-level artifact of folder runs.
	FrameResults string
	VideoResults string
	// OutputVideo is the annotated video of a rendered single-video run.
	OutputVideo string

	Jobs      []*VideoJob
	Succeeded int
	Failed    int
	Condition Condition
	Warnings  []error

	// Results is the frame-level batch.
	Results        *results.Batch
	ResultsReused  bool
	DetectorImages int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Err joins the errors of every failed job.
func (r *Report) Err() error {
	var errs []error
	for _, j := range r.Jobs {
		if j.State == StateFailed && j.Err != nil {
			errs = append(errs, j.Err)
		}
	}
	return errors.Join(errs...)
}

func (r *Report) tally() {
	r.Succeeded, r.Failed = 0, 0
	for _, j := range r.Jobs {
		switch j.State {
		case StateDone:
			r.Succeeded++
		case StateFailed:
			r.Failed++
		}
	}
}
