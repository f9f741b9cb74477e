package connector

import (
	"time"

	"github.com/buqixiaomi/socket/internal/transport"
)

// MinHeartbeat is the floor the configured heartbeat period is clamped to.
const MinHeartbeat = 30 * time.Second

// MaxRetryAttempts is the number of retry-pump passes a RetryData entry
// survives before being evicted as a permanent failure.
const MaxRetryAttempts = 30

// RetryInterval is the pump's sleep between passes.
const RetryInterval = 100 * time.Millisecond

// CloseCause explains why a channel was removed from the registry.
type CloseCause int

const (
	// CauseSystem means the channel was replaced by a newer registration
	// under the same id, or closed by an explicit administrative action.
	CauseSystem CloseCause = iota
	// CauseTimeout means the liveness sweeper evicted the channel.
	CauseTimeout
	// CauseRemote means the transport reported the peer disconnected.
	CauseRemote
)

func (c CloseCause) String() string {
	switch c {
	case CauseSystem:
		return "SYSTEM"
	case CauseTimeout:
		return "TIMEOUT"
	case CauseRemote:
		return "REMOTE"
	default:
		return "UNKNOWN"
	}
}

// ProtocolData is one inbound or outbound frame, addressed to/from a channel.
// It is immutable once constructed.
type ProtocolData struct {
	Bytes      []byte
	Port       int
	RemoteHost string
	ChannelID  string
}

// ProtocolDataListener receives business (non-control) frames.
type ProtocolDataListener interface {
	OnData(data ProtocolData)
}

// ProtocolDataListenerFunc adapts a plain function to ProtocolDataListener.
type ProtocolDataListenerFunc func(data ProtocolData)

// OnData implements ProtocolDataListener.
func (f ProtocolDataListenerFunc) OnData(data ProtocolData) { f(data) }

// ProtocolEventListener receives protocol-level lifecycle events, mirroring
// the event bus surface so a caller can observe without owning the bus.
type ProtocolEventListener interface {
	OnRegister(channelID string)
	OnReceive(channelID string, data []byte)
	OnReceiveSuccess(channelID string, data []byte)
	OnReceiveError(channelID string, data []byte, err error)
	OnSend(channelID string, data []byte)
	OnDiscard(channelID string, data []byte)
	OnClose(channelID string, cause CloseCause)
}

// Config configures a Manager.
type Config struct {
	// Heartbeat is the liveness threshold; clamped to MinHeartbeat.
	Heartbeat time.Duration
	// DispatchWorkers sizes the receive dispatcher's worker pool. Defaults
	// to a small multiple of GOMAXPROCS when zero.
	DispatchWorkers int
	// ShutdownDrainTimeout bounds how long Shutdown waits for in-flight
	// dispatcher work before forcing completion.
	ShutdownDrainTimeout time.Duration
	// RegistryCapacity is an advisory sizing hint for the registry's
	// pre-allocated shard maps; zero means use a small default.
	RegistryCapacity int
}

// normalized returns a copy of cfg with defaults and the heartbeat floor
// applied, and reports whether the heartbeat was clamped (for a one-time log).
func (cfg Config) normalized() (Config, bool) {
	clamped := cfg.Heartbeat < MinHeartbeat
	if clamped {
		cfg.Heartbeat = MinHeartbeat
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = defaultDispatchWorkers()
	}
	if cfg.ShutdownDrainTimeout <= 0 {
		cfg.ShutdownDrainTimeout = 5 * time.Second
	}
	return cfg, clamped
}

// sweepPeriod is heartbeat/5 in whole seconds, matching the donor's
// integer-division math.
func (cfg Config) sweepPeriod() time.Duration {
	return (cfg.Heartbeat / time.Second / 5) * time.Second
}

// Channel re-exports the transport contract the manager depends on, so
// callers of this package need not import internal/transport directly.
type Channel = transport.Channel
