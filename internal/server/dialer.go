package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/backend/bedrock"
	"github.com/omochice/realtime-bridge/internal/backend/echo"
	"github.com/omochice/realtime-bridge/internal/backend/framed"
	"github.com/omochice/realtime-bridge/internal/config"
)

// NewDialer builds the backend named by kind, capped at cfg.MaxInFlight open calls.
func NewDialer(ctx context.Context, kind string, cfg config.BackendConfig) (backend.Dialer, error) {
	var d backend.Dialer
	switch kind {
	case config.BackendBedrock:
		bd, err := bedrock.New(ctx, bedrock.Config{
			Region:      cfg.Region,
			Profile:     cfg.Profile,
			ModelID:     cfg.ModelID,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, err
		}
		d = bd
	case config.BackendEcho:
		d = echo.New()
	case config.BackendFramed:
		fd := framed.NewDialer(cfg.FramedAddr)
		if cfg.DialTimeout > 0 {
			fd.DialTimeout = cfg.DialTimeout
		}
		fd.MaxFrameSize = cfg.MaxFrameSize
		d = fd
	default:
		return nil, errors.Errorf("unknown backend kind %q", kind)
	}
	return backend.Limit(d, cfg.MaxInFlight), nil
}
