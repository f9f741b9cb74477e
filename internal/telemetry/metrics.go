// Package telemetry provides OpenTelemetry metrics and tracing for the connector manager.
package telemetry

import "github.com/pitabwire/frame/telemetry"

// Channel metrics track registry occupancy and churn.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	ChannelsRegisteredCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.channels.registered",
		"Total channels registered",
	)

	ChannelsClosedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.channels.closed",
		"Total channels closed",
	)

	ChannelsActiveGauge = telemetry.DimensionlessMeasure(
		"",
		"connector.channels.active",
		"Channels currently held in the registry",
	)
)

// Retry metrics track the ACK-retry pump.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	RetryEnqueuedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.retry.enqueued",
		"Total datagrams enqueued for ACK-tracked retry",
	)

	RetryAttemptedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.retry.attempted",
		"Total retry write attempts",
	)

	RetryAcknowledgedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.retry.acknowledged",
		"Total datagrams acknowledged and removed from the retry queue",
	)

	RetryExhaustedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.retry.exhausted",
		"Total datagrams dropped after exceeding the retry attempt ceiling",
	)

	RetryPumpLatencyHistogram = telemetry.LatencyMeasure(
		"connector.retry.pump_pass",
	)
)

// Liveness metrics track the heartbeat sweeper.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	SweeperEvictedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.sweeper.evicted",
		"Total channels evicted for heartbeat timeout",
	)

	SweeperPassLatencyHistogram = telemetry.LatencyMeasure(
		"connector.sweeper.pass",
	)
)

// Dispatch metrics track the bounded receive dispatcher.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	DatagramsReceivedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.dispatch.received",
		"Total inbound datagrams accepted from transport",
	)

	DispatchErrorsCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.dispatch.errors",
		"Total inbound datagram processing failures",
	)

	DispatchLatencyHistogram = telemetry.LatencyMeasure(
		"connector.dispatch.latency",
	)
)

// EventBusPublishedCounter tracks best-effort event-bus publish operations.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var EventBusPublishedCounter = telemetry.DimensionlessMeasure(
	"",
	"connector.eventbus.published",
	"Total events published to the event bus",
)

// Circuit breaker metrics track the resilience wrapper guarding both the
// event-bus publish and dead-letter publish paths.
//
//nolint:gochecknoglobals // OpenTelemetry metrics must be global for instrumentation
var (
	CircuitOpenedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.circuit.opened",
		"Total transitions of a guarded publish path into the open state",
	)

	CircuitRejectedCounter = telemetry.DimensionlessMeasure(
		"",
		"connector.circuit.rejected",
		"Total publish attempts rejected by an open circuit",
	)
)
