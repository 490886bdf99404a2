package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"winmaint/internal/events"
	"winmaint/internal/runner"
	"winmaint/internal/web"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote console API and the MQTT bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			db, err := a.openStore()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus(a.logger)
			sup := runner.NewSupervisor(a.hosts, runner.Options{
				Config: runner.Config{
					Timeout:      a.cfg.timeout,
					Capabilities: a.cfg.capabilities,
					Language:     a.cfg.Execution.Language,
				},
				Estimator: db,
				Recorder:  db,
				Bus:       bus,
			}, runner.HangPolicy{Wait: a.cfg.hangWait, Default: a.cfg.hangDefault}, a.logger)

			webOpts := []web.ServerOption{
				web.WithUserScripts(a.user),
				web.WithHistory(db),
				web.WithEstimator(db),
				web.WithBaseContext(ctx),
				web.WithVersion(version),
			}
			if a.cfg.Web.APIKey != "" {
				webOpts = append(webOpts, web.WithAPIKey(a.cfg.Web.APIKey))
			}
			if len(a.cfg.Web.AllowedOrigins) > 0 {
				webOpts = append(webOpts, web.WithAllowedOrigins(a.cfg.Web.AllowedOrigins))
			}
			webServer := web.NewServer(a.scripts, sup, bus, a.logger, webOpts...)
			defer webServer.Stop()

			// Started after the supervisor so retained state reflects it.
			mqtt := initMQTT(bus, sup, a.cfg, a.logger)
			defer mqtt.Stop()

			httpServer := &http.Server{
				Addr:         a.cfg.Web.Listen,
				Handler:      webServer,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("web server starting", "addr", a.cfg.Web.Listen, "version", version)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("shutting down")
				if run := sup.Current(); run != nil {
					run.Abort()
					run.Wait()
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			err = g.Wait()
			a.logger.Info("goodbye")
			return err
		},
	}
}
