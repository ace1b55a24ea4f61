// Command realtime-bridge serves the WebSocket session bridge.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	withCaller bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "realtime-bridge",
		Short:         "Bridge client WebSockets to a bidirectional model stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML config (defaults to $"+config.EnvPath+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.withCaller, "with-caller", false, "Include caller (file:line) in logs")

	cmd.AddCommand(newServeCmd(opts), newHistoryCmd(opts))
	return cmd
}

// load reads the config and initializes logging from it and the flags.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.withCaller {
		cfg.Log.WithCaller = true
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.WithCaller); err != nil {
		return nil, err
	}
	return cfg, nil
}
