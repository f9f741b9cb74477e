package queues_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/frame/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buqixiaomi/socket/internal/connector"
	"github.com/buqixiaomi/socket/internal/queues"
	"github.com/buqixiaomi/socket/internal/resilience"
)

type fakeChannel struct {
	id     string
	writes [][]byte
}

func (f *fakeChannel) ID() string         { return f.id }
func (f *fakeChannel) RemoteHost() string { return "127.0.0.1" }
func (f *fakeChannel) Port() int          { return 9000 }
func (f *fakeChannel) LastActive() int64  { return time.Now().UnixMilli() }
func (f *fakeChannel) Heartbeat()         {}
func (f *fakeChannel) Write(data []byte) error {
	f.writes = append(f.writes, data)
	return nil
}
func (f *fakeChannel) Close() error { return nil }

type syncRunner struct{}

func (syncRunner) Submit(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newRunningManager(t *testing.T) (*connector.Manager, *fakeChannel) {
	t.Helper()
	m := connector.New(connector.Config{Heartbeat: connector.MinHeartbeat}, syncRunner{}, clock.New())
	m.Init(nil)
	m.Start(context.Background())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	ch := &fakeChannel{id: "c1"}
	m.RegisterChannel(context.Background(), ch)
	return m, ch
}

type mockQueueManager struct {
	publishers map[string]queue.Publisher
}

func (m *mockQueueManager) AddPublisher(context.Context, string, string) error { return nil }

func (m *mockQueueManager) GetPublisher(reference string) (queue.Publisher, error) {
	pub, ok := m.publishers[reference]
	if !ok {
		return nil, nil
	}
	return pub, nil
}

func (m *mockQueueManager) DiscardPublisher(context.Context, string) error { return nil }

func (m *mockQueueManager) AddSubscriber(context.Context, string, string, ...queue.SubscribeWorker) error {
	return nil
}

func (m *mockQueueManager) DiscardSubscriber(context.Context, string) error { return nil }

func (m *mockQueueManager) GetSubscriber(string) (queue.Subscriber, error) { return nil, nil }

func (m *mockQueueManager) Publish(context.Context, string, any, ...map[string]string) error {
	return nil
}

func (m *mockQueueManager) Init(context.Context) error { return nil }

type mockPublisher struct {
	publishCount int
	lastHeaders  map[string]string
	publishErr   error
}

func (m *mockPublisher) Initiated() bool            { return true }
func (m *mockPublisher) Ref() string                { return "" }
func (m *mockPublisher) Init(context.Context) error { return nil }
func (m *mockPublisher) Stop(context.Context) error { return nil }
func (m *mockPublisher) As(any) bool                 { return false }

func (m *mockPublisher) Publish(_ context.Context, _ any, headers ...map[string]string) error {
	m.publishCount++
	if len(headers) > 0 {
		m.lastHeaders = headers[0]
	}
	return m.publishErr
}

func TestDeliveryHandler_Handle_WritesToLocalChannel(t *testing.T) {
	m, ch := newRunningManager(t)
	handler := queues.NewDeliveryHandler(&mockQueueManager{}, m, "outbound", "deadletter")

	headers := map[string]string{queues.HeaderChannelID: "c1"}
	err := handler.Handle(context.Background(), headers, []byte("payload"))

	require.NoError(t, err)
	assert.Len(t, ch.writes, 1)
}

func TestDeliveryHandler_Handle_MissingChannelHeaderDrops(t *testing.T) {
	m, _ := newRunningManager(t)
	handler := queues.NewDeliveryHandler(&mockQueueManager{}, m, "outbound", "deadletter")

	err := handler.Handle(context.Background(), map[string]string{}, []byte("payload"))

	require.NoError(t, err)
}

func TestDeliveryHandler_Handle_UnknownChannelDeadLetters(t *testing.T) {
	m, _ := newRunningManager(t)
	pub := &mockPublisher{}
	qm := &mockQueueManager{publishers: map[string]queue.Publisher{"deadletter": pub}}
	handler := queues.NewDeliveryHandler(qm, m, "outbound", "deadletter")

	headers := map[string]string{queues.HeaderChannelID: "unknown-channel"}
	err := handler.Handle(context.Background(), headers, []byte("payload"))

	require.NoError(t, err)
	assert.Equal(t, 1, pub.publishCount)
	require.NotNil(t, pub.lastHeaders)
	assert.Equal(t, "outbound", pub.lastHeaders[queues.HeaderDLQOriginalQueue])
	assert.Equal(t, "channel not registered on this instance", pub.lastHeaders[queues.HeaderDLQErrorMessage])
}

func TestDeliveryHandler_Handle_DeadLetterPublisherMissingIsNoop(t *testing.T) {
	m, _ := newRunningManager(t)
	handler := queues.NewDeliveryHandler(&mockQueueManager{}, m, "outbound", "deadletter")

	headers := map[string]string{queues.HeaderChannelID: "unknown-channel"}
	err := handler.Handle(context.Background(), headers, []byte("payload"))

	require.NoError(t, err)
}

func TestDeliveryHandler_Handle_MismatchedShardIDStillDelivers(t *testing.T) {
	m, ch := newRunningManager(t)
	handler := queues.NewDeliveryHandler(&mockQueueManager{}, m, "outbound", "deadletter")

	headers := map[string]string{
		queues.HeaderChannelID: "c1",
		queues.HeaderShardID:   "not-a-real-shard",
	}
	err := handler.Handle(context.Background(), headers, []byte("payload"))

	require.NoError(t, err)
	assert.Len(t, ch.writes, 1)
}

func TestDeliveryHandler_Handle_RepeatedDeadLetterFailuresTripCircuit(t *testing.T) {
	m, _ := newRunningManager(t)
	pub := &mockPublisher{publishErr: errors.New("dead-letter topic unavailable")}
	qm := &mockQueueManager{publishers: map[string]queue.Publisher{"deadletter": pub}}
	handler := queues.NewDeliveryHandler(qm, m, "outbound", "deadletter")

	headers := map[string]string{queues.HeaderChannelID: "unknown-channel"}

	// DefaultSettings trips the breaker after 5 consecutive failures.
	for range 5 {
		err := handler.Handle(context.Background(), headers, []byte("payload"))
		require.Error(t, err)
	}
	assert.Equal(t, 5, pub.publishCount)

	// The 6th attempt is rejected by the open breaker before reaching Publish.
	err := handler.Handle(context.Background(), headers, []byte("payload"))
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 5, pub.publishCount)
}
