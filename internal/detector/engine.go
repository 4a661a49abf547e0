package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/heimdex/camtrap-video/internal/proc"
	"github.com/heimdex/camtrap-video/internal/results"
)

// Config holds the engine's configuration.
type Config struct {
	Python  string        // resolved python binary
	Module  string        // detector module run with -m
	Timeout time.Duration // zero = no bound
	TempDir string        // scratch for image lists and raw output; empty = os.TempDir()
	Logger  *slog.Logger
}

// SubprocessEngine is the production Engine.
type SubprocessEngine struct {
	cfg    Config
	runner proc.Runner
}

// NewSubprocessEngine creates an engine executing through runner.
func NewSubprocessEngine(cfg Config, runner proc.Runner) *SubprocessEngine {
	return &SubprocessEngine{cfg: cfg, runner: runner}
}

// RunBatch writes the image list, invokes the detector once and parses its
// output file.
func (e *SubprocessEngine) RunBatch(ctx context.Context, req BatchRequest) (*results.Batch, error) {
	if len(req.Images) == 0 {
		return nil, errors.New("detector: empty batch")
	}

	scratch, err := os.MkdirTemp(e.cfg.TempDir, "camtrap-detect-*")
	if err != nil {
		return nil, fmt.Errorf("create detector scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	listPath := filepath.Join(scratch, "images.json")
	outPath := filepath.Join(scratch, "detections.json")

	data, err := json.Marshal(req.Images)
	if err != nil {
		return nil, fmt.Errorf("encode image list: %w", err)
	}
	if err := os.WriteFile(listPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write image list: %w", err)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	e.cfg.Logger.Info("running detector",
		"model", req.Model,
		"images", len(req.Images),
		"threshold", req.Threshold,
		"ncores", req.Concurrency,
	)

	res := e.runner.Run(ctx, proc.Command{
		Name: e.cfg.Python,
		Args: e.args(req, listPath, outPath),
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	batch, err := results.Load(outPath)
	if err != nil {
		return nil, fmt.Errorf("detector output: %w", err)
	}
	if batch.Info.Detector == "" {
		batch.Info.Detector = req.Model
	}

	e.cfg.Logger.Info("detector finished",
		"images", len(batch.Images),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return batch, nil
}

func (e *SubprocessEngine) args(req BatchRequest, listPath, outPath string) []string {
	ncores := req.Concurrency
	if ncores < 1 {
		ncores = 1
	}
	args := []string{
		"-m", e.cfg.Module,
		req.Model, listPath, outPath,
		"--threshold", strconv.FormatFloat(req.Threshold, 'f', -1, 64),
		"--ncores", strconv.Itoa(ncores),
		"--quiet",
	}
	if req.ClassMapping != "" {
		args = append(args, "--class_mapping_filename", req.ClassMapping)
	}
	return args
}
