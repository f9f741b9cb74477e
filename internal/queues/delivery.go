// Package queues implements the outbound delivery adapter: a
// github.com/pitabwire/frame/queue subscriber that routes queued business
// deliveries to the channel they are addressed to, dead-lettering anything
// this instance cannot deliver locally.
package queues

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/connector"
	"github.com/buqixiaomi/socket/internal/resilience"
	"github.com/buqixiaomi/socket/internal/shardutil"
)

// registryShardCount must track connector's own shard count so a mismatched
// HeaderShardID reliably signals a producer whose partitioning has drifted
// from this instance's registry, rather than a coincidental collision.
const registryShardCount = 32

// DeliveryHandler implements queue.SubscribeWorker over the connector
// manager, grounded on the donor's GatewayEventsQueueHandler: look up the
// addressed local channel, dispatch if present, dead-letter otherwise.
type DeliveryHandler struct {
	qManager            queue.Manager
	manager             *connector.Manager
	outboundQueueName   string
	deadLetterQueueName string
	breaker             *resilience.CircuitBreaker
}

// NewDeliveryHandler constructs a DeliveryHandler. outboundQueueName is the
// queue this handler is subscribed to (recorded on dead-lettered messages
// for provenance); deadLetterQueueName is the reference under which the
// dead-letter publisher was registered with qManager. Dead-letter publishes
// run through their own circuit breaker, separate from the event bus's, so
// a wedged dead-letter topic fails fast instead of blocking message receipt.
func NewDeliveryHandler(qManager queue.Manager, manager *connector.Manager, outboundQueueName, deadLetterQueueName string) queue.SubscribeWorker {
	return &DeliveryHandler{
		qManager:            qManager,
		manager:             manager,
		outboundQueueName:   outboundQueueName,
		deadLetterQueueName: deadLetterQueueName,
		breaker:             resilience.NewCircuitBreaker(resilience.DefaultSettings("dlq-publish")),
	}
}

// Handle implements queue.SubscribeWorker.
func (h *DeliveryHandler) Handle(ctx context.Context, headers map[string]string, payload []byte) error {
	channelID := headers[HeaderChannelID]
	if channelID == "" {
		util.Log(ctx).Warn("outbound delivery message missing channel id header, dropping")
		return nil
	}

	if shardID, ok := headers[HeaderShardID]; ok {
		if want := fmt.Sprintf("%d", shardutil.ShardForKey(channelID, registryShardCount)); shardID != want {
			util.Log(ctx).WithField("channel", channelID).WithField("shard_id", shardID).
				WithField("expected_shard_id", want).
				Warn("outbound delivery message carries a shard id that does not match this instance's partitioning")
		}
	}

	if !h.manager.HasChannel(channelID) {
		util.Log(ctx).WithField("channel", channelID).
			Debug("channel not registered on this instance, dead-lettering")
		return h.deadLetter(ctx, headers, payload, "channel not registered on this instance")
	}

	h.manager.Write(ctx, connector.ProtocolData{Bytes: payload, ChannelID: channelID})
	return nil
}

// deadLetter republishes payload to the dead-letter topic, tagging it with
// the queue it fell out of and why, plus a fresh envelope id so a consumer
// of the dead-letter topic can deduplicate retried republishes.
func (h *DeliveryHandler) deadLetter(ctx context.Context, headers map[string]string, payload []byte, reason string) error {
	pub, err := h.qManager.GetPublisher(h.deadLetterQueueName)
	if err != nil {
		return err
	}
	if pub == nil {
		util.Log(ctx).WithField("queue", h.deadLetterQueueName).Warn("dead-letter publisher not configured, dropping")
		return nil
	}

	dlHeaders := maps.Clone(headers)
	if dlHeaders == nil {
		dlHeaders = map[string]string{}
	}
	dlHeaders[HeaderDLQOriginalQueue] = h.outboundQueueName
	dlHeaders[HeaderDLQErrorMessage] = reason
	dlHeaders["dlq_envelope_id"] = uuid.NewString()

	return h.breaker.Execute(ctx, func() error {
		return pub.Publish(ctx, payload, dlHeaders)
	})
}
