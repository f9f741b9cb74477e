package connector

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestLivenessSweeper_Pass_EvictsStaleChannels(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	markRunning(m)

	now := mockClock.Now().UnixMilli()

	fresh := newFakeChannel("fresh")
	fresh.setLastActive(now)
	stale := newFakeChannel("stale")
	stale.setLastActive(now - 2*MinHeartbeat.Milliseconds())

	_, _ = m.registry.putOrReplace("fresh", fresh)
	_, _ = m.registry.putOrReplace("stale", stale)

	sweeper := newLivenessSweeper(m, mockClock)
	sweeper.pass(context.Background())

	_, freshStillThere := m.registry.get("fresh")
	_, staleStillThere := m.registry.get("stale")
	assert.True(t, freshStillThere)
	assert.False(t, staleStillThere)
	assert.True(t, stale.isClosed())
	assert.False(t, fresh.isClosed())
}

func TestLivenessSweeper_Run_StopClearsRegistryAndListeners(t *testing.T) {
	mockClock := clock.NewMock()
	m := newTestManager(t, mockClock)
	_, _ = m.registry.putOrReplace("c1", newFakeChannel("c1"))
	m.dataListeners.Add(ProtocolDataListenerFunc(func(ProtocolData) {}))

	sweeper := newLivenessSweeper(m, mockClock)
	sweeper.signalStop()
	sweeper.run(context.Background())

	<-sweeper.waitDone()
	assert.Equal(t, 0, m.registry.Size())
	assert.Empty(t, m.dataListeners.Snapshot())
}
