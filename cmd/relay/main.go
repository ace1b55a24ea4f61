// Command realtime-relay exposes a backend over TCP with the framed protocol,
// so bridges can run without cloud credentials.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/realtime-bridge/internal/backend/framed"
	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/logging"
	"github.com/omochice/realtime-bridge/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		withCaller bool
		listen     string
		backend    string
	)
	cmd := &cobra.Command{
		Use:           "realtime-relay",
		Short:         "Relay framed backend calls to the configured backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := logging.Init(cfg.Log.Level, cfg.Log.WithCaller || withCaller); err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if backend != "" {
				cfg.Relay.Backend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config (defaults to $"+config.EnvPath+")")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&withCaller, "with-caller", false, "Include caller (file:line) in logs")
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides relay.listen")
	cmd.Flags().StringVar(&backend, "backend", "", "Backend kind (bedrock, echo), overrides relay.backend")
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := server.NewDialer(ctx, cfg.Relay.Backend, cfg.Backend)
	if err != nil {
		return errors.Wrap(err, "build backend")
	}
	relay := framed.NewServer(cfg.Relay.Listen, dialer).WithMaxFrameSize(cfg.Backend.MaxFrameSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(relay.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		relay.Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("relay stopped")
	return nil
}
