package api

import (
	"time"

	"github.com/heimdex/camtrap-video/internal/detector"
	"github.com/heimdex/camtrap-video/internal/ledger"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string                  `json:"state"`
	LastError     string                  `json:"last_error,omitempty"`
	RunsRunning   int                     `json:"runs_running"`
	RunsCompleted int                     `json:"runs_completed"`
	RunsFailed    int                     `json:"runs_failed"`
	ActiveRun     *RunResponse            `json:"active_run,omitempty"`
	Detector      *DetectorStatusResponse `json:"detector,omitempty"`
}

type DetectorStatusResponse struct {
	Ready          bool   `json:"ready"`
	PythonVersion  string `json:"python_version,omitempty"`
	DetectorModule bool   `json:"detector_module"`
	FFmpeg         bool   `json:"ffmpeg"`
	FFprobe        bool   `json:"ffprobe"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type RunResponse struct {
	ID         string          `json:"id"`
	Mode       string          `json:"mode"`
	Input      string          `json:"input"`
	Model      string          `json:"model"`
	Command    string          `json:"command,omitempty"`
	Status     string          `json:"status"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Condition  string          `json:"condition,omitempty"`
	Error      string          `json:"error,omitempty"`
	FramesJSON string          `json:"frames_json,omitempty"`
	VideosJSON string          `json:"videos_json,omitempty"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at,omitempty"`
	Videos     []VideoResponse `json:"videos,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type VideoResponse struct {
	Path        string  `json:"path"`
	RelPath     string  `json:"rel_path,omitempty"`
	FrameCount  int     `json:"frame_count"`
	FPS         float64 `json:"fps"`
	State       string  `json:"state"`
	OutputVideo string  `json:"output_video,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *ledger.Run) RunResponse {
	resp := RunResponse{
		ID:         r.ID,
		Mode:       r.Mode,
		Input:      r.Input,
		Model:      r.Model,
		Command:    r.Command,
		Status:     r.Status,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Condition:  r.Condition,
		Error:      r.Error,
		FramesJSON: r.FramesJSON,
		VideosJSON: r.VideosJSON,
		StartedAt:  r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func VideoToResponse(v ledger.Video) VideoResponse {
	return VideoResponse{
		Path:        v.Path,
		RelPath:     v.RelPath,
		FrameCount:  v.FrameCount,
		FPS:         v.FPS,
		State:       v.State,
		OutputVideo: v.OutputVideo,
		Error:       v.Error,
	}
}

func DetectorToResponse(c *detector.Capabilities) *DetectorStatusResponse {
	resp := &DetectorStatusResponse{
		Ready:          c.Ready(),
		PythonVersion:  c.Python.Version,
		DetectorModule: c.DetectorModule.Available,
		FFmpeg:         c.Executables["ffmpeg"].Available,
		FFprobe:        c.Executables["ffprobe"].Available,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
