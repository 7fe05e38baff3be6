package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 64

// Bus is a publisher with optional in-process subscribers
type Bus struct {
	*WatermillPublisher

	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewMemoryBus creates an in-process bus. Publishing waits for subscribers
// to take each message so transitions arrive in order.
func NewMemoryBus(logger zerolog.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            subscriberBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, NewLogger(logger))
	return &Bus{
		WatermillPublisher: NewWatermillPublisher(pubSub),
		publisher:          pubSub,
		subscriber:         pubSub,
	}
}

// NewRedisBus publishes to a Redis stream so other processes can follow
// connection state
func NewRedisBus(client *redis.Client, logger zerolog.Logger) (*Bus, error) {
	wlogger := NewLogger(logger)
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wlogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: "walletgate-" + watermill.NewShortUUID(),
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return &Bus{
		WatermillPublisher: NewWatermillPublisher(pub),
		publisher:          pub,
		subscriber:         sub,
	}, nil
}

// Subscribe returns decoded transitions until ctx ends
func (b *Bus) Subscribe(ctx context.Context) (<-chan Transition, error) {
	msgs, err := b.subscriber.Subscribe(ctx, TransitionsTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Transition, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			t, err := Decode(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the publisher and subscriber
func (b *Bus) Close() error {
	perr := b.publisher.Close()
	serr := b.subscriber.Close()
	if perr != nil {
		return perr
	}
	return serr
}
