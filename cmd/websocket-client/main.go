// Command realtime-client sends each stdin line to the bridge as a text frame
// and prints every frame the bridge returns.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omochice/realtime-bridge/internal/client"
	"github.com/omochice/realtime-bridge/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverAddr string
		logLevel   string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:           "realtime-client",
		Short:         "Interactive WebSocket client for the realtime bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.Init(logLevel, false); err != nil {
				return err
			}
			return run(cmd.Context(), serverAddr, timeout)
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "ws://localhost:8081/interact-s2s", "Bridge WebSocket URL")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().DurationVar(&timeout, "close-timeout", 5*time.Second, "How long to wait for the server to answer a close")
	return cmd
}

func run(parent context.Context, serverAddr string, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(serverAddr)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect(timeout)
	log.Info().Str("server", serverAddr).Msg("connected")

	go func() {
		for msg := range c.Messages() {
			fmt.Println(msg)
		}
		if st := c.Status(); st != nil {
			fmt.Fprintf(os.Stderr, "*** closed by server: %d %s ***\n", st.Code, st.Reason)
		}
		stop()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 16<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("reading input")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := c.Send(line); err != nil {
				return err
			}
		}
	}
}
