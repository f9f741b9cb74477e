package connector

// EventBus is the full observability surface the manager delegates to.
// Implementations must be safe for concurrent use and must not block the
// caller for any meaningful amount of time — the manager treats every call
// here as best-effort.
type EventBus interface {
	Register(channelID string)
	Receive(channelID string, data []byte)
	ReceiveSuccess(channelID string, data []byte)
	ReceiveError(channelID string, data []byte, err error)
	Send(channelID string, data []byte)
	Discard(channelID string, data []byte)
	Close(channelID string, cause CloseCause)
}

// selfReferencing reports whether bus is nil or is the manager itself, the
// two conditions under which Init falls back to the default bus.
func selfReferencing(bus EventBus, self EventBus) bool {
	return bus == nil || bus == self
}

// eventBusAdapter implements EventBus on top of a Manager by delegating to
// its listener list, satisfying §4.6: the manager itself is a valid EventBus.
type eventBusAdapter struct {
	m *Manager
}

func (a eventBusAdapter) Register(channelID string) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnRegister(channelID) })
}

func (a eventBusAdapter) Receive(channelID string, data []byte) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnReceive(channelID, data) })
}

func (a eventBusAdapter) ReceiveSuccess(channelID string, data []byte) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnReceiveSuccess(channelID, data) })
}

func (a eventBusAdapter) ReceiveError(channelID string, data []byte, err error) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnReceiveError(channelID, data, err) })
}

func (a eventBusAdapter) Send(channelID string, data []byte) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnSend(channelID, data) })
}

func (a eventBusAdapter) Discard(channelID string, data []byte) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnDiscard(channelID, data) })
}

func (a eventBusAdapter) Close(channelID string, cause CloseCause) {
	a.m.dispatchEvent(func(l ProtocolEventListener) { l.OnClose(channelID, cause) })
}
