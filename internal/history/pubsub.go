package history

import (
	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/omochice/realtime-bridge/internal/config"
)

// PubSub is the transport carrying history records.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

// NewPubSub builds the transport selected by cfg.Driver.
func NewPubSub(cfg config.HistoryConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch cfg.Driver {
	case config.HistoryGoChannel, "":
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            DefaultBuffer,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil

	case config.HistoryRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		marshaller := rstream.DefaultMarshallerUnmarshaller{}

		pub, err := rstream.NewPublisher(rstream.PublisherConfig{
			Client:     client,
			Marshaller: marshaller,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "redis publisher")
		}
		sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaller,
			ConsumerGroup: cfg.Group,
			Consumer:      cfg.Consumer,
		}, logger)
		if err != nil {
			_ = pub.Close()
			_ = client.Close()
			return nil, errors.Wrap(err, "redis subscriber")
		}
		return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close, client.Close}}, nil

	default:
		return nil, errors.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// Close closes both sides and the broker connection. Close any Recorder first.
func (p *PubSub) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
