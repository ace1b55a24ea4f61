// Package bedrock opens bidirectional model streams on Amazon Bedrock.
package bedrock

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultModelID     = "amazon.nova-sonic-v1:0"
	DefaultRegion      = "us-east-1"
	DefaultReadTimeout = 180 * time.Second
)

// ErrReadTimeout is reported when the model stays silent longer than the read timeout.
var ErrReadTimeout = errors.New("bedrock: read timeout")

// Config selects the model and AWS account settings.
type Config struct {
	Region      string
	Profile     string
	ModelID     string
	ReadTimeout time.Duration
}

// stream is the part of the SDK event stream a call needs.
type stream interface {
	Send(ctx context.Context, event types.InvokeModelWithBidirectionalStreamInput) error
	Events() <-chan types.InvokeModelWithBidirectionalStreamOutput
	Close() error
	Err() error
}

// opened is a freshly invoked stream.
type opened struct {
	stream    stream
	closeSend func() error
	requestID string
}

type openFunc func(ctx context.Context, modelID string) (opened, error)

// Dialer opens one Bedrock stream per call.
type Dialer struct {
	open        openFunc
	modelID     string
	readTimeout time.Duration
}

// New loads AWS configuration and creates a Dialer.
func New(ctx context.Context, cfg Config) (*Dialer, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClient creates a Dialer around an existing client.
func NewWithClient(client *bedrockruntime.Client, cfg Config) *Dialer {
	return newDialer(func(ctx context.Context, modelID string) (opened, error) {
		out, err := client.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
			ModelId: aws.String(modelID),
		})
		if err != nil {
			return opened{}, err
		}
		es := out.GetStream()
		requestID, _ := awsmiddleware.GetRequestIDMetadata(out.ResultMetadata)
		return opened{stream: es, closeSend: es.Writer.Close, requestID: requestID}, nil
	}, cfg)
}

func newDialer(open openFunc, cfg Config) *Dialer {
	d := &Dialer{open: open, modelID: cfg.ModelID, readTimeout: cfg.ReadTimeout}
	if d.modelID == "" {
		d.modelID = DefaultModelID
	}
	if d.readTimeout <= 0 {
		d.readTimeout = DefaultReadTimeout
	}
	return d
}

// Open implements backend.Dialer. A model id in req overrides the configured one.
func (d *Dialer) Open(ctx context.Context, req backend.OpenRequest) (backend.Call, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = d.modelID
	}
	o, err := d.open(ctx, modelID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke %s", modelID)
	}

	c := &call{
		stream:      o.stream,
		closeSend:   o.closeSend,
		readTimeout: d.readTimeout,
		events:      make(chan backend.Event, 16),
		done:        make(chan struct{}),
	}
	go c.pump(o.requestID)
	return c, nil
}

type call struct {
	stream      stream
	closeSend   func() error
	readTimeout time.Duration

	events    chan backend.Event
	done      chan struct{}
	closeOnce sync.Once
	sendOnce  sync.Once
}

func (c *call) Send(ctx context.Context, chunk []byte) error {
	return c.stream.Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: types.BidirectionalInputPayloadPart{Bytes: chunk},
	})
}

func (c *call) CloseSend() error {
	var err error
	c.sendOnce.Do(func() {
		if c.closeSend != nil {
			err = c.closeSend()
		}
	})
	return err
}

func (c *call) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.stream.Close()
	})
	return err
}

func (c *call) Events() <-chan backend.Event {
	return c.events
}

func (c *call) emit(ev backend.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *call) pump(requestID string) {
	defer close(c.events)
	if !c.emit(backend.Metadata(requestID)) {
		return
	}

	idle := time.NewTimer(c.readTimeout)
	defer idle.Stop()

	in := c.stream.Events()
	for {
		select {
		case out, ok := <-in:
			if !ok {
				if err := c.stream.Err(); err != nil {
					c.emit(backend.Failed(err))
				} else {
					c.emit(backend.Completed())
				}
				return
			}
			switch v := out.(type) {
			case *types.InvokeModelWithBidirectionalStreamOutputMemberChunk:
				if !c.emit(backend.Chunk(v.Value.Bytes)) {
					return
				}
			default:
				log.Debug().Str("component", "bedrock").Msgf("ignoring output event %T", out)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.readTimeout)
		case <-idle.C:
			c.emit(backend.Failed(ErrReadTimeout))
			_ = c.stream.Close()
			return
		case <-c.done:
			return
		}
	}
}
