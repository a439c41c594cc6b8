// Package redisrelay publishes queue events to a Redis channel so processes
// other than the one that produced them can observe the queue.
//
// Events are already redacted by the queue before they reach the relay.
// Delivery is Redis pub/sub: subscribers that are not connected miss events.
package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// DefaultChannel is the Redis channel events are published to.
const DefaultChannel = "workqueue:events"

var (
	ErrClientNil      = errors.New("redisrelay: client is nil")
	ErrInvalidMessage = errors.New("redisrelay: invalid event message")
)

// Publisher is the part of a Redis client the relay publishes with.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Subscriber is the part of a Redis client Subscribe needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel overrides the channel name.
func WithChannel(channel string) Option {
	return func(r *Relay) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// Relay forwards queue events to Redis.
type Relay struct {
	pub     Publisher
	channel string
	logger  *slog.Logger
}

// New creates a relay publishing through pub, usually a *redis.Client.
func New(pub Publisher, opts ...Option) (*Relay, error) {
	if pub == nil {
		return nil, ErrClientNil
	}
	r := &Relay{pub: pub, channel: DefaultChannel, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("redisrelay"), slog.String("channel", r.channel))
	return r, nil
}

// Channel returns the channel events are published to.
func (r *Relay) Channel() string { return r.channel }

// Publish sends one event.
func (r *Relay) Publish(ctx context.Context, ev workqueue.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Forward publishes every event from events until the channel closes or ctx
// is done. A failed publish is logged and the event dropped.
func (r *Relay) Forward(ctx context.Context, events <-chan workqueue.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Publish(ctx, ev); err != nil {
				r.logger.WarnContext(ctx, "dropping event",
					slog.String("event", string(ev.Type)),
					logger.WorkID(ev.Work.ID),
					logger.Error(err))
			}
		}
	}
}

// Run returns a function suitable for errgroup that forwards the events of q
// until ctx is done.
func (r *Relay) Run(ctx context.Context, q *workqueue.Queue) func() error {
	return func() error {
		r.logger.InfoContext(ctx, "event relay started")
		defer r.logger.InfoContext(ctx, "event relay stopped")
		return r.Forward(ctx, q.Subscribe(ctx))
	}
}

// Subscribe receives events published on channel. The returned channel is
// closed when ctx is done. Messages that do not decode are skipped.
func Subscribe(ctx context.Context, sub Subscriber, channel string, log *slog.Logger) (<-chan workqueue.Event, error) {
	if sub == nil {
		return nil, ErrClientNil
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}

	ps := sub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan workqueue.Event, 100)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					log.WarnContext(ctx, "skipping event message", logger.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Decode parses a published event.
func Decode(payload []byte) (workqueue.Event, error) {
	var ev workqueue.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return workqueue.Event{}, errors.Join(ErrInvalidMessage, err)
	}
	if ev.Type == "" || ev.Work == nil {
		return workqueue.Event{}, ErrInvalidMessage
	}
	return ev, nil
}
