package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contractdesk/realtime/internal/config"
	"github.com/contractdesk/realtime/internal/simulator"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the local realtime simulator server",
		Long:  "Serves the websocket channel, login and stats endpoints, and emits synthetic contract events.\nConfigured via environment variables (PORT, LISTEN_HOST, CORS_ORIGINS, LOG_LEVEL, SIM_TICK_INTERVAL).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			log := logrus.New()
			log.SetFormatter(&logrus.JSONFormatter{})
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = logrus.InfoLevel
			}
			log.SetLevel(level)

			sim := simulator.New(log, simulator.Config{
				CORSOrigins:  cfg.CORSOrigins,
				TickInterval: cfg.TickInterval,
			})

			srv := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           sim.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return sim.Run(gctx)
			})

			g.Go(func() error {
				log.WithField("addr", cfg.Addr()).Info("simulator listening")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			log.Info("simulator stopped")
			return nil
		},
	}
	return cmd
}
