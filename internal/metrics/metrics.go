// Package metrics exposes Prometheus instruments for pipeline stages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage names used as label values.
const (
	StageExtract   = "extract"
	StageDetect    = "detect"
	StageAggregate = "aggregate"
	StageRender    = "render"
	StageAssemble  = "assemble"
	StageCleanup   = "cleanup"
)

var (
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camtrap_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camtrap_frames_extracted_total",
		Help: "Total number of frames extracted across all videos",
	})

	VideosTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camtrap_videos_total",
		Help: "Videos processed, by terminal state",
	}, []string{"state"})

	DetectorInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camtrap_detector_invocations_total",
		Help: "Detector batches, by outcome (ok, failed, reused)",
	}, []string{"outcome"})

	CleanupWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camtrap_cleanup_warnings_total",
		Help: "Workspace cleanup failures reported as warnings",
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camtrap_active_runs",
		Help: "Runs currently in progress",
	})
)

// ObserveStage records how long stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// AddFrames counts extracted frames.
func AddFrames(n int) {
	if n > 0 {
		FramesExtractedTotal.Add(float64(n))
	}
}

// IncVideo counts a video reaching a terminal state.
func IncVideo(state string) {
	if state == "" {
		state = "unknown"
	}
	VideosTotal.WithLabelValues(state).Inc()
}

// IncDetector counts a detector batch outcome.
func IncDetector(outcome string) {
	DetectorInvocationsTotal.WithLabelValues(outcome).Inc()
}

// IncCleanupWarnings counts n cleanup warnings.
func IncCleanupWarnings(n int) {
	if n > 0 {
		CleanupWarningsTotal.Add(float64(n))
	}
}
