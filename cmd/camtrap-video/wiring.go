package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/db"
	"github.com/heimdex/camtrap-video/internal/detector"
	"github.com/heimdex/camtrap-video/internal/ledger"
	"github.com/heimdex/camtrap-video/internal/logging"
	"github.com/heimdex/camtrap-video/internal/media"
	"github.com/heimdex/camtrap-video/internal/orchestrator"
	"github.com/heimdex/camtrap-video/internal/proc"
	"github.com/heimdex/camtrap-video/internal/render"
	"github.com/heimdex/camtrap-video/internal/tracing"
)

// app holds the process-wide collaborators built from the environment.
type app struct {
	env      *config.EnvConfig
	logger   *slog.Logger
	tracer   *tracing.Provider
	database *db.DB
	repo     ledger.Repository
	runner   proc.Runner
	ffmpeg   *media.FFmpeg
	engine   *detector.SubprocessEngine
}

func wire(ctx context.Context, env *config.EnvConfig, logger *slog.Logger) (*app, error) {
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Endpoint:       env.OTLPEndpoint(),
		ServiceName:    config.BinaryName,
		ServiceVersion: config.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a := &app{
		env:    env,
		logger: logger,
		tracer: tp,
		runner: proc.NewExec(logging.WithComponent(logger, "proc")),
	}

	if env.LedgerEnabled() {
		a.openLedger()
	}

	a.ffmpeg = media.NewFFmpeg(env.FFmpegPath(), env.FFprobePath(), a.runner, logging.WithComponent(logger, "media"))

	python, err := proc.ResolvePython(env.Python())
	if err != nil {
		// Runs that reuse existing results never start the detector.
		logger.Warn("python not found, detection will fail", "error", err)
		python = env.Python()
		if python == "" {
			python = "python3"
		}
	}
	a.engine = detector.NewSubprocessEngine(detector.Config{
		Python:  python,
		Module:  env.DetectorModule(),
		Timeout: env.DetectTimeout(),
		Logger:  logging.WithComponent(logger, "detector"),
	}, a.runner)

	return a, nil
}

// openLedger opens the run ledger. A broken ledger never stops a run.
func (a *app) openLedger() {
	if err := os.MkdirAll(a.env.DataDir(), 0o755); err != nil {
		a.logger.Warn("run ledger disabled", "error", err)
		return
	}
	database, err := db.New(a.env.DBPath(), a.logger)
	if err != nil {
		a.logger.Warn("run ledger disabled", "error", err)
		return
	}
	a.database = database
	a.repo = ledger.NewRepository(database.Conn())
}

func (a *app) recorder() ledger.Recorder {
	if a.repo == nil {
		return ledger.Nop{}
	}
	return ledger.NewRecorder(a.repo, logging.WithComponent(a.logger, "ledger"))
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Extractor: a.ffmpeg,
		Assembler: a.ffmpeg,
		Engine:    a.engine,
		Renderer:  render.NewBoxes(logging.WithComponent(a.logger, "render")),
		Recorder:  a.recorder(),
		Logger:    a.logger,
	})
}

func (a *app) doctor() *detector.Doctor {
	return &detector.Doctor{
		Python:  a.env.Python(),
		Module:  a.env.DetectorModule(),
		FFmpeg:  a.env.FFmpegPath(),
		FFprobe: a.env.FFprobePath(),
		Runner:  a.runner,
		Logger:  logging.WithComponent(a.logger, "doctor"),
	}
}

func (a *app) close(ctx context.Context) {
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Warn("close ledger", "error", err)
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("flush traces", "error", err)
	}
}
