package telemetry

import (
	"github.com/pitabwire/frame/telemetry"
)

// Component tracers.
//
//nolint:gochecknoglobals // OpenTelemetry tracers must be global for instrumentation
var (
	WriteTracer    = telemetry.NewTracer("connector.write")
	DispatchTracer = telemetry.NewTracer("connector.dispatch")
	RetryTracer    = telemetry.NewTracer("connector.retry")
	SweeperTracer  = telemetry.NewTracer("connector.sweeper")
)
