package orchestrator

import "fmt"

// State is the lifecycle position of one video.
type State string

const (
	StatePending         State = "pending"
	StateFramesExtracted State = "frames_extracted"
	StateDetected        State = "detected"
	StateRendered        State = "rendered"
	StateCleanedUp       State = "cleaned_up"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// VideoJob tracks one source video through the pipeline.
type VideoJob struct {
	Path string
	// RelPath is the slash-separated path below the input folder; empty in
	// single-video runs.
	RelPath     string
	FrameDir    string
	Frames      []string
	FPS         float64
	OutputVideo string
	State       State
	Err         error
}

func newJob(path, rel string) *VideoJob {
	return &VideoJob{Path: path, RelPath: rel, State: StatePending}
}

// advance moves the job forward. Terminal jobs are left alone.
func (j *VideoJob) advance(to State) {
	if j.State.Terminal() {
		return
	}
	j.State = to
}

// fail marks the job failed unless it already reached a terminal state.
func (j *VideoJob) fail(err error) {
	if j.State.Terminal() {
		return
	}
	j.State = StateFailed
	j.Err = err
}

// settle closes out a job once cleanup has run: live jobs pass through
// CleanedUp to Done.
func (j *VideoJob) settle() {
	j.advance(StateCleanedUp)
	j.advance(StateDone)
}

// Key is the identifier results use for the job's video.
func (j *VideoJob) Key() string {
	if j.RelPath != "" {
		return j.RelPath
	}
	return j.Path
}

func (j *VideoJob) String() string {
	return fmt.Sprintf("%s [%s]", j.Key(), j.State)
}
