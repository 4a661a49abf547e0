// Package ledger records runs and the terminal state of every video in
// them, so past runs can be inspected after the process exits.
package ledger

import "time"

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	ModeSingle = "single"
	ModeFolder = "folder"
)

type Run struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	Input      string     `json:"input"`
	Model      string     `json:"model"`
	Command    string     `json:"command,omitempty"`
	FramesJSON string     `json:"frames_json,omitempty"`
	VideosJSON string     `json:"videos_json,omitempty"`
	Status     string     `json:"status"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Condition  string     `json:"condition,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type Video struct {
	RunID       string  `json:"run_id"`
	Path        string  `json:"path"`
	RelPath     string  `json:"rel_path,omitempty"`
	FrameCount  int     `json:"frame_count"`
	FPS         float64 `json:"fps"`
	State       string  `json:"state"`
	OutputVideo string  `json:"output_video,omitempty"`
	Error       string  `json:"error,omitempty"`
}
