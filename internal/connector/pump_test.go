package connector

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, mockClock clock.Clock) *Manager {
	t.Helper()
	m := New(Config{Heartbeat: MinHeartbeat}, syncJobRunner{}, mockClock)
	m.Init(&fakeEventBus{})
	return m
}

func TestRetryPump_Pass_WritesAndIncrementsAttempts(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	ch := newFakeChannel("c1")
	_, _ = m.registry.putOrReplace("c1", ch)
	m.retries.add("id1", ProtocolData{ChannelID: "c1", Bytes: []byte("payload")})

	pump := newRetryPump(m, mockClock)
	pump.pass(context.Background())

	assert.Equal(t, 1, ch.writeCount())
	snap := m.retries.snapshot()
	require.Contains(t, snap, "id1")
	assert.Equal(t, 1, snap["id1"].attempts)
}

func TestRetryPump_Pass_EvictsAfterMaxAttempts(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	ch := newFakeChannel("c1")
	_, _ = m.registry.putOrReplace("c1", ch)
	m.retries.add("id1", ProtocolData{ChannelID: "c1"})
	m.retries.snapshot()["id1"].attempts = MaxRetryAttempts

	pump := newRetryPump(m, mockClock)
	pump.pass(context.Background())

	assert.Equal(t, 0, m.retries.len())
	assert.Equal(t, 0, ch.writeCount())
}

func TestRetryPump_Pass_EvictsWhenChannelGone(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	m.retries.add("id1", ProtocolData{ChannelID: "does-not-exist"})

	pump := newRetryPump(m, mockClock)
	pump.pass(context.Background())

	assert.Equal(t, 0, m.retries.len())
}

func TestRetryPump_Run_ExitsImmediatelyWhenDestroyedAndQueueEmpty(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	m.destroyed.Store(true)
	m.sweeper = newLivenessSweeper(m, mockClock)

	pump := newRetryPump(m, mockClock)

	done := make(chan struct{})
	go func() {
		pump.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-pump.waitDone():
	}

	select {
	case <-m.sweeper.stop:
	default:
		t.Fatal("expected sweeperStop to have closed the sweeper's stop channel")
	}
}
