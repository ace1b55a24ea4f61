package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/history"
	"github.com/omochice/realtime-bridge/internal/logging"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the conversation history stream",
	}

	var redisAddr, group, consumer string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print history records as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			hc := cfg.History
			hc.Driver = config.HistoryRedis
			if redisAddr != "" {
				hc.RedisAddr = redisAddr
			}
			if group != "" {
				hc.Group = group
			}
			if consumer != "" {
				hc.Consumer = consumer
			}
			if hc.RedisAddr == "" {
				return errors.New("history tail needs a redis address (--redis-addr or history.redis_addr)")
			}

			ps, err := history.NewPubSub(hc, logging.NewWatermill(log.Logger))
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			log.Info().Str("topic", hc.Topic).Str("addr", hc.RedisAddr).Msg("tailing history")
			return history.Tail(ctx, ps.Subscriber, hc.Topic, func(rec history.Record) error {
				return enc.Encode(rec)
			})
		},
	}
	tail.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address, overrides history.redis_addr")
	tail.Flags().StringVar(&group, "group", "", "Consumer group, overrides history.group")
	tail.Flags().StringVar(&consumer, "consumer", "", "Consumer name, overrides history.consumer")

	cmd.AddCommand(tail)
	return cmd
}
