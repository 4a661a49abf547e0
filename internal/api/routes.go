package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heimdex/camtrap-video/internal/ledger"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	statusWindow     = 10
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Token, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := StatusResponse{State: "idle"}

		if cfg.Ledger != nil {
			resp.RunsRunning, _ = cfg.Ledger.CountRuns(ctx, ledger.StatusRunning)
			resp.RunsCompleted, _ = cfg.Ledger.CountRuns(ctx, ledger.StatusCompleted)
			resp.RunsFailed, _ = cfg.Ledger.CountRuns(ctx, ledger.StatusFailed)

			runs, _ := cfg.Ledger.ListRuns(ctx, statusWindow)
			for _, run := range runs {
				if run.Status == ledger.StatusRunning && resp.ActiveRun == nil {
					active := RunToResponse(run)
					resp.ActiveRun = &active
					resp.State = "running"
				}
				if run.Status == ledger.StatusFailed && resp.LastError == "" {
					resp.LastError = run.Error
				}
			}
			if resp.LastError != "" && resp.State == "idle" {
				resp.State = "error"
			}
		}

		// Peek only: a status request never blocks on a probe.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Detector = DetectorToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ledger == nil {
			WriteError(w, http.StatusServiceUnavailable, "run ledger is disabled", "LEDGER_DISABLED")
			return
		}

		limit := defaultRunsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxRunsLimit)
		}

		runs, err := cfg.Ledger.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ledger == nil {
			WriteError(w, http.StatusServiceUnavailable, "run ledger is disabled", "LEDGER_DISABLED")
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		run, err := cfg.Ledger.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		videos, err := cfg.Ledger.ListVideos(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := RunToResponse(run)
		resp.Videos = make([]VideoResponse, len(videos))
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
