package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/camtrap-video/internal/api"
	"github.com/heimdex/camtrap-video/internal/config"
	"github.com/heimdex/camtrap-video/internal/detector"
	"github.com/heimdex/camtrap-video/internal/logging"
)

const probeTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, detector status and metrics over HTTP",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()

			env, err := config.New()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.NewLogger(env.LogLevel(), env.LogFormat())
			logger.Info("starting camtrap-video status server", "version", config.Version, "data_dir", env.DataDir())

			ctx := cmd.Context()
			app, err := wire(ctx, env, logger)
			if err != nil {
				return err
			}
			defer app.close(context.Background())

			doctor := detector.NewCachedDoctor(app.doctor(), logging.WithComponent(logger, "doctor"))
			go func() {
				probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
				defer cancel()
				if _, err := doctor.Refresh(probeCtx); err != nil {
					logger.Warn("initial doctor probe failed", "error", err)
				}
			}()

			if port == 0 {
				port = env.Port()
			}
			server := api.NewServer(api.ServerConfig{
				Port:      port,
				Ledger:    app.repo,
				Doctor:    doctor,
				Token:     env.APIToken(),
				Version:   config.Version,
				Logger:    logging.WithComponent(logger, "api"),
				StartTime: startTime,
			})
			if env.APIToken() != "" {
				logger.Info("bearer authentication enabled", "token", logging.SanitizeToken(env.APIToken()))
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port on 127.0.0.1 (default $CAMTRAP_PORT)")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check python, the detector module and ffmpeg",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.New()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := logging.NewLogger(env.LogLevel(), env.LogFormat())

			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()

			app, err := wire(ctx, env, logger)
			if err != nil {
				return err
			}
			defer app.close(context.Background())

			caps, err := app.doctor().Probe(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(caps); err != nil {
				return err
			}
			if !caps.Ready() {
				return fmt.Errorf("detection environment is incomplete")
			}
			return nil
		},
	}
}
