// Package logging configures the global zerolog logger and adapts it for watermill.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and output. Terminals get the console writer,
// everything else gets JSON lines.
func Init(level string, withCaller bool) error {
	var out io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return InitWithWriter(out, level, withCaller)
}

// InitWithWriter is Init with an explicit output.
func InitWithWriter(out io.Writer, level string, withCaller bool) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	ctx := zerolog.New(out).With().Timestamp()
	if withCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

// Watermill adapts a zerolog logger to watermill.LoggerAdapter.
type Watermill struct {
	logger zerolog.Logger
}

// NewWatermill wraps l.
func NewWatermill(l zerolog.Logger) *Watermill {
	return &Watermill{logger: l.With().Str("component", "watermill").Logger()}
}

var _ watermill.LoggerAdapter = (*Watermill)(nil)

// Error implements watermill.LoggerAdapter.
func (w *Watermill) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

// Info implements watermill.LoggerAdapter.
func (w *Watermill) Info(msg string, fields watermill.LogFields) {
	w.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Debug implements watermill.LoggerAdapter.
func (w *Watermill) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Trace implements watermill.LoggerAdapter.
func (w *Watermill) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

// With implements watermill.LoggerAdapter.
func (w *Watermill) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &Watermill{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
