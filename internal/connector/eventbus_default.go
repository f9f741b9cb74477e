package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pitabwire/util"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/buqixiaomi/socket/internal/resilience"
	"github.com/buqixiaomi/socket/internal/telemetry"
)

// eventRecord is the JSON envelope published to the default bus's topic.
// It carries enough structure for an external subscriber (a metrics
// exporter, an audit log) to reconstruct what happened without depending on
// this package's types.
type eventRecord struct {
	Kind      string `json:"kind"`
	ChannelID string `json:"channel_id"`
	Cause     string `json:"cause,omitempty"`
	Error     string `json:"error,omitempty"`
	At        int64  `json:"at"`
}

// defaultEventBus is the in-process event bus installed when a caller
// passes no bus (or the manager itself) to Init. It is backed by a
// gocloud.dev/pubsub topic so independent subscribers can fan out, and its
// publish path is wrapped in a circuit breaker so a stalled pub/sub driver
// degrades to skip-and-log rather than blocking a protocol-critical caller.
type defaultEventBus struct {
	topic   *pubsub.Topic
	breaker *resilience.CircuitBreaker
}

func newDefaultEventBus() *defaultEventBus {
	return &defaultEventBus{
		topic:   mempubsub.NewTopic(),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultSettings("eventbus")),
	}
}

// Subscription opens a new subscription to the bus's underlying topic, so
// external observers (metrics exporters, audit logs) can fan out
// independently of the manager's own listener list.
func (b *defaultEventBus) Subscription() *pubsub.Subscription {
	return mempubsub.NewSubscription(b.topic, 0)
}

func (b *defaultEventBus) publish(rec eventRecord) {
	rec.At = time.Now().UnixMilli()
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}

	ctx := context.Background()
	sendErr := b.breaker.Execute(ctx, func() error {
		return b.topic.Send(ctx, &pubsub.Message{Body: payload})
	})
	if sendErr == nil {
		telemetry.EventBusPublishedCounter.Add(ctx, 1)
	}
}

func (b *defaultEventBus) Register(channelID string) {
	b.publish(eventRecord{Kind: "register", ChannelID: channelID})
}

func (b *defaultEventBus) Receive(channelID string, _ []byte) {
	b.publish(eventRecord{Kind: "receive", ChannelID: channelID})
}

func (b *defaultEventBus) ReceiveSuccess(channelID string, _ []byte) {
	b.publish(eventRecord{Kind: "receive_success", ChannelID: channelID})
}

func (b *defaultEventBus) ReceiveError(channelID string, _ []byte, err error) {
	rec := eventRecord{Kind: "receive_error", ChannelID: channelID}
	if err != nil {
		rec.Error = err.Error()
	}
	b.publish(rec)
	util.Log(context.Background()).WithError(err).WithField("channel", channelID).Debug("receive error published to event bus")
}

func (b *defaultEventBus) Send(channelID string, _ []byte) {
	b.publish(eventRecord{Kind: "send", ChannelID: channelID})
}

func (b *defaultEventBus) Discard(channelID string, _ []byte) {
	b.publish(eventRecord{Kind: "discard", ChannelID: channelID})
}

func (b *defaultEventBus) Close(channelID string, cause CloseCause) {
	b.publish(eventRecord{Kind: "close", ChannelID: channelID, Cause: cause.String()})
}

// Shutdown releases the underlying topic.
func (b *defaultEventBus) Shutdown(ctx context.Context) error {
	return b.topic.Shutdown(ctx)
}

// Ping sends a throwaway message through the underlying topic's circuit
// breaker, for a readiness checker that wants to know the bus is still
// accepting traffic rather than silently wedged.
func (b *defaultEventBus) Ping(ctx context.Context) error {
	return b.breaker.Execute(ctx, func() error {
		return b.topic.Send(ctx, &pubsub.Message{Body: []byte("ping")})
	})
}
