// Package connector implements the connector manager: the per-process
// subsystem that owns the live set of client channels, runs heartbeat
// liveness and ACK-based reliable delivery, and exposes a single
// inbound/outbound interface to the transport layer below and to business
// listeners above.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/codec"
	"github.com/buqixiaomi/socket/internal/telemetry"
)

// ErrInvalidChannelID is returned when a caller passes an empty channel id
// to an operation that requires one.
var ErrInvalidChannelID = errors.New("connector: empty channel id")

// state is the manager's lifecycle state, tracked for logging/no-op
// decisions only — destroyed remains the single source of truth consulted
// by the background tasks.
type state int32

const (
	stateUninit state = iota
	stateReady
	stateRunning
	stateStopping
)

// Manager is the connector manager façade. The zero value is not usable;
// construct one with New.
type Manager struct {
	cfg   Config
	clock clock.Clock

	state     atomic.Int32
	destroyed atomic.Bool
	lifecycle sync.Mutex

	registry *registry
	retries  *retryQueue

	dataListeners  listenerList[ProtocolDataListener]
	eventListeners listenerList[ProtocolEventListener]

	bus EventBus

	runner     JobRunner
	dispatcher *dispatcher

	pump    *retryPump
	sweeper *livenessSweeper
}

// New constructs a Manager. runner submits receive-dispatch jobs — pass a
// *FrameWorkerPool wrapping a frame.Service's workerpool.Manager in
// production, or a fake in tests; c is the clock the retry pump and sweeper
// use for sleeps, defaulting to the real wall clock when nil so production
// callers need not import benbjohnson/clock themselves.
func New(cfg Config, runner JobRunner, c clock.Clock) *Manager {
	if c == nil {
		c = clock.New()
	}
	cfg, clamped := cfg.normalized()

	m := &Manager{
		cfg:      cfg,
		clock:    c,
		registry: newRegistry(cfg.RegistryCapacity),
		retries:  newRetryQueue(),
		runner:   runner,
	}
	m.destroyed.Store(true)
	m.state.Store(int32(stateUninit))

	if clamped {
		util.Log(context.Background()).
			WithField("heartbeat", cfg.Heartbeat.String()).
			Warn("configured heartbeat below floor, clamped to 30s")
	}

	return m
}

// Init configures the event bus. If bus is nil or is the manager itself, a
// default in-process bus is installed instead (§4.1).
func (m *Manager) Init(bus EventBus) {
	if selfReferencing(bus, eventBusAdapter{m}) {
		bus = newDefaultEventBus()
	}
	m.bus = bus
	m.dispatcher = newDispatcher(m.runner, m.cfg.DispatchWorkers)

	if m.state.Load() == int32(stateUninit) {
		m.state.Store(int32(stateReady))
	}
}

// AsEventBus exposes the manager's own listener-delegating EventBus
// implementation, so a caller that wants to fall back to the default
// in-process bus can pass it explicitly to Init (equivalent to passing nil).
func (m *Manager) AsEventBus() EventBus {
	return eventBusAdapter{m}
}

// Start transitions destroyed: true -> false, and starts the liveness
// sweeper and retry pump (the dispatcher is created by Init). It is a no-op
// (logged) if already running.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.destroyed.Load() {
		util.Log(ctx).Warn("connector manager already running, ignoring duplicate start")
		return
	}

	m.destroyed.Store(false)
	m.state.Store(int32(stateRunning))

	m.pump = newRetryPump(m, m.clock)
	m.sweeper = newLivenessSweeper(m, m.clock)

	go m.pump.run(ctx)
	go m.sweeper.run(ctx)

	util.Log(ctx).WithField("heartbeat", m.cfg.Heartbeat.String()).Info("connector manager started")
}

// Shutdown transitions destroyed: false -> true and waits for the retry
// pump and sweeper to exit. It is a no-op (logged) if already shut down.
func (m *Manager) Shutdown(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.destroyed.Load() {
		util.Log(ctx).Warn("connector manager already shut down, ignoring duplicate shutdown")
		return
	}

	m.state.Store(int32(stateStopping))
	m.destroyed.Store(true)

	if m.dispatcher != nil {
		if !m.dispatcher.drain(m.clock, m.cfg.ShutdownDrainTimeout) {
			current, _ := m.dispatcher.depth()
			util.Log(ctx).WithField("in_flight", current).
				WithField("timeout", m.cfg.ShutdownDrainTimeout.String()).
				Warn("shutdown drain deadline exceeded, remaining dispatcher work left running")
		}
	}

	if m.pump != nil {
		<-m.pump.waitDone()
	}
	if m.sweeper != nil {
		<-m.sweeper.waitDone()
	}

	m.state.Store(int32(stateReady))
	util.Log(ctx).Info("connector manager shut down")
}

func (m *Manager) isDestroyed() bool { return m.destroyed.Load() }

// sweeperStop is called by the retry pump once its own exit condition
// already holds; see SPEC_FULL.md §4.4.
func (m *Manager) sweeperStop() {
	if m.sweeper != nil {
		m.sweeper.signalStop()
	}
}

func (m *Manager) isRunning() bool { return m.state.Load() == int32(stateRunning) }

// RegisterChannel inserts ch into the registry (§4.1). A replace closes the
// superseded channel with CauseSystem; a same-instance re-registration is a
// warning no-op.
func (m *Manager) RegisterChannel(ctx context.Context, ch Channel) {
	if !m.isRunning() {
		util.Log(ctx).Warn("RegisterChannel called outside Running state")
		return
	}

	old, outcome := m.registry.putOrReplace(ch.ID(), ch)
	switch outcome {
	case outcomeNoopSameInstance:
		util.Log(ctx).WithField("channel", ch.ID()).Warn("channel re-registered, ignoring duplicate")
	case outcomeReplaced:
		util.Log(ctx).WithField("channel", ch.ID()).Warn("replacing existing channel under same id")
		_ = old.Close()
		m.bus.Close(ch.ID(), CauseSystem)
		m.bus.Register(ch.ID())
		telemetry.ChannelsClosedCounter.Add(ctx, 1)
		telemetry.ChannelsRegisteredCounter.Add(ctx, 1)
	case outcomeInstalled:
		m.bus.Register(ch.ID())
		telemetry.ChannelsRegisteredCounter.Add(ctx, 1)
		telemetry.ChannelsActiveGauge.Add(ctx, 1)
	}
}

// RegisterDataListener adds a business listener for non-control frames.
func (m *Manager) RegisterDataListener(l ProtocolDataListener) {
	m.dataListeners.Add(l)
}

// RegisterEventListener adds an observer of the event-bus surface.
func (m *Manager) RegisterEventListener(l ProtocolEventListener) {
	m.eventListeners.Add(l)
}

// dispatchEvent calls fn for every registered event listener, never letting
// a panicking listener affect its siblings or the caller.
func (m *Manager) dispatchEvent(fn func(ProtocolEventListener)) {
	for _, l := range m.eventListeners.Snapshot() {
		func(l ProtocolEventListener) {
			defer func() { _ = recover() }()
			fn(l)
		}(l)
	}
}

// Receive is the transport's entry point for one inbound frame (§4.1).
func (m *Manager) Receive(ctx context.Context, data []byte, channelID string) {
	if !m.isRunning() {
		util.Log(ctx).Warn("Receive called outside Running state")
		return
	}
	if channelID == "" {
		util.Log(ctx).Warn("Receive called with empty channel id")
		return
	}

	m.bus.Receive(channelID, data)

	m.dispatcher.submit(ctx, func() error {
		return m.handleReceive(ctx, data, channelID)
	}, func(err error) {
		if err != nil {
			m.bus.ReceiveError(channelID, data, err)
		}
	})
}

func (m *Manager) handleReceive(ctx context.Context, data []byte, channelID string) error {
	ch, ok := m.registry.get(channelID)
	if !ok {
		util.Log(ctx).WithField("channel", channelID).Debug("receive for unknown channel, dropping")
		return nil
	}

	ch.Heartbeat()

	pd := ProtocolData{
		Bytes:      data,
		Port:       ch.Port(),
		RemoteHost: ch.RemoteHost(),
		ChannelID:  channelID,
	}

	if len(data) <= codec.TypeIndex {
		return fmt.Errorf("datagram shorter than type index")
	}

	switch data[codec.TypeIndex] {
	case codec.TypeHeartbeat:
		reply := codec.BuildHeartbeat(pd.Port, pd.RemoteHost, channelID)
		m.Write(ctx, ProtocolData{Bytes: reply, Port: pd.Port, RemoteHost: pd.RemoteHost, ChannelID: channelID})
		return nil
	case codec.TypeACK:
		return m.handleACK(ctx, data)
	default:
		return m.dispatchToListeners(ctx, pd)
	}
}

func (m *Manager) handleACK(ctx context.Context, data []byte) error {
	dg, err := codec.Decode(data)
	if err != nil {
		return err
	}
	if !m.retries.ack(string(dg.ID)) {
		util.Log(ctx).WithField("id", string(dg.ID)).Debug("ACK for unknown or already-acked id")
		return nil
	}
	telemetry.RetryAcknowledgedCounter.Add(ctx, 1)
	return nil
}

func (m *Manager) dispatchToListeners(ctx context.Context, pd ProtocolData) error {
	for _, l := range m.dataListeners.Snapshot() {
		if err := m.invokeListener(l, pd); err != nil {
			m.bus.ReceiveError(pd.ChannelID, pd.Bytes, err)
			util.Log(ctx).WithError(err).WithField("channel", pd.ChannelID).Error("business listener failed")
			continue
		}
		m.bus.ReceiveSuccess(pd.ChannelID, pd.Bytes)
	}
	return nil
}

func (m *Manager) invokeListener(l ProtocolDataListener, pd ProtocolData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	l.OnData(pd)
	return nil
}

// Write immediately writes pd.Bytes to the addressed channel, then enqueues
// it for retry if the decoded datagram requests ACK (§4.1). If the manager
// is destroyed, the enqueue is skipped but the immediate write still
// happens — preserved as-is per SPEC_FULL.md §9.
func (m *Manager) Write(ctx context.Context, pd ProtocolData) {
	ctx, span := telemetry.WriteTracer.Start(ctx, "Manager.Write")
	var writeErr error
	defer func() { telemetry.WriteTracer.End(ctx, span, writeErr) }()

	if !m.isRunning() {
		util.Log(ctx).Warn("Write called outside Running state")
		return
	}

	ch, ok := m.registry.get(pd.ChannelID)
	if !ok {
		util.Log(ctx).WithField("channel", pd.ChannelID).Warn("write to unknown channel")
		return
	}

	if err := ch.Write(pd.Bytes); err != nil {
		writeErr = err
		util.Log(ctx).WithError(err).WithField("channel", pd.ChannelID).Warn("immediate write failed")
	}
	m.bus.Send(pd.ChannelID, pd.Bytes)

	dg, err := codec.Decode(pd.Bytes)
	if err != nil {
		return
	}
	if !dg.Ack {
		return
	}

	if m.isDestroyed() {
		util.Log(ctx).WithField("channel", pd.ChannelID).Warn("manager shutting down, discarding retry enqueue")
		m.bus.Discard(pd.ChannelID, pd.Bytes)
		return
	}

	m.retries.add(string(dg.ID), pd)
	telemetry.RetryEnqueuedCounter.Add(ctx, 1)
}

// Close removes channelID from the registry (at-most-once winner), calls
// Close on it, and emits a bus close event (§4.1).
func (m *Manager) Close(channelID string, cause CloseCause) {
	if !m.isRunning() {
		util.Log(context.Background()).Warn("Close called outside Running state")
		return
	}
	if channelID == "" {
		util.Log(context.Background()).Warn("Close called with empty channel id")
		return
	}

	ch, ok := m.registry.get(channelID)
	if !ok {
		util.Log(context.Background()).WithField("channel", channelID).Warn("close for unknown channel")
		return
	}
	if !m.registry.remove(channelID, ch) {
		// lost the race to another close/replace for this id
		return
	}

	_ = ch.Close()
	m.bus.Close(channelID, cause)
	telemetry.ChannelsClosedCounter.Add(context.Background(), 1)
	telemetry.ChannelsActiveGauge.Add(context.Background(), -1)
}

// RegistrySize returns the number of channels currently held, for health
// checks and operational visibility.
func (m *Manager) RegistrySize() int {
	return m.registry.Size()
}

// HasChannel reports whether channelID currently has a live channel in the
// registry, for callers (the queue delivery adapter) that must decide
// between a local write and a dead-letter republish before attempting one.
func (m *Manager) HasChannel(channelID string) bool {
	_, ok := m.registry.get(channelID)
	return ok
}

// CloseRemote removes and closes channelID with CauseRemote, for transport
// listeners that detect a peer disconnect (read error/EOF) and need to
// report it without importing this package's CloseCause type themselves.
func (m *Manager) CloseRemote(channelID string) {
	m.Close(channelID, CauseRemote)
}

// DispatchDepth returns the receive dispatcher's current and maximum
// in-flight job count, for health checks.
func (m *Manager) DispatchDepth() (current, max int) {
	if m.dispatcher == nil {
		return 0, 0
	}
	return m.dispatcher.depth()
}

// pingableBus is implemented by event buses that can report their own
// liveness; the default gocloud.dev/pubsub-backed bus does, a
// caller-supplied bus need not.
type pingableBus interface {
	Ping(ctx context.Context) error
}

// PingEventBus probes the installed event bus's liveness, for a readiness
// checker. It reports healthy (nil error) when the installed bus does not
// support pinging, since that is not itself a failure signal.
func (m *Manager) PingEventBus(ctx context.Context) error {
	p, ok := m.bus.(pingableBus)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
