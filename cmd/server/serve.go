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

	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/history"
	"github.com/omochice/realtime-bridge/internal/logging"
	"github.com/omochice/realtime-bridge/internal/metrics"
	"github.com/omochice/realtime-bridge/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		listen  string
		backend string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept client WebSockets and bridge them to the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if backend != "" {
				cfg.Backend.Kind = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen")
	cmd.Flags().StringVar(&backend, "backend", "", "Backend kind (bedrock, echo, framed), overrides backend.kind")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := server.NewDialer(ctx, cfg.Backend.Kind, cfg.Backend)
	if err != nil {
		return errors.Wrap(err, "build backend")
	}

	opts := []server.Option{server.WithMetrics(metrics.New(nil))}

	var ps *history.PubSub
	var recorder *history.Recorder
	if cfg.History.Enabled {
		ps, err = history.NewPubSub(cfg.History, logging.NewWatermill(log.Logger))
		if err != nil {
			return errors.Wrap(err, "build history transport")
		}
		defer func() {
			if err := ps.Close(); err != nil {
				log.Warn().Err(err).Msg("close history transport")
			}
		}()
		recorder = history.NewRecorder(ps.Publisher, cfg.History.Topic, 0)
		defer func() { _ = recorder.Close() }()
		opts = append(opts, server.WithRecorder(recorder))
	}

	srv := server.New(cfg, dialer, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return srv.Stop(sctx)
	})
	if ps != nil && cfg.History.Driver == config.HistoryGoChannel {
		// The in-process transport has no other reader.
		g.Go(func() error {
			return history.Tail(gctx, ps.Subscriber, cfg.History.Topic, func(rec history.Record) error {
				log.Debug().
					Str("component", "history").
					Str("session_id", rec.SessionID).
					Str("direction", rec.Direction).
					Str("payload", rec.Payload).
					Msg("record")
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
