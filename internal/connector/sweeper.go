package connector

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/telemetry"
)

// livenessSweeper periodically evicts channels whose last activity exceeds
// the configured heartbeat threshold. It stops on a dedicated one-shot
// signal sent by the retry pump, never on thread interruption — see
// Manager.sweeperStop.
type livenessSweeper struct {
	m     *Manager
	clock clock.Clock
	stop  chan struct{}
	done  chan struct{}
}

func newLivenessSweeper(m *Manager, c clock.Clock) *livenessSweeper {
	return &livenessSweeper{
		m:     m,
		clock: c,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *livenessSweeper) run(ctx context.Context) {
	defer close(s.done)

	period := s.m.cfg.sweepPeriod()
	timer := s.clock.Timer(period)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			s.m.registry.clear()
			s.m.dataListeners.Clear()
			s.m.eventListeners.Clear()
			return
		case <-timer.C:
			s.pass(ctx)
			timer.Reset(period)
		}
	}
}

func (s *livenessSweeper) pass(ctx context.Context) {
	ctx, span := telemetry.SweeperTracer.Start(ctx, "LivenessSweeper.pass")
	start := time.Now()
	defer func() {
		telemetry.SweeperPassLatencyHistogram.Add(ctx, time.Since(start).Milliseconds())
		telemetry.SweeperTracer.End(ctx, span, nil)
	}()
	defer func() {
		if r := recover(); r != nil {
			util.Log(ctx).WithField("panic", r).Error("liveness sweep panicked")
		}
	}()

	now := s.clock.Now().UnixMilli()
	heartbeatMillis := s.m.cfg.Heartbeat.Milliseconds()

	var stale []string
	s.m.registry.forEach(func(id string, ch Channel) {
		age := now - ch.LastActive()
		if age > heartbeatMillis {
			stale = append(stale, id)
		}
	})

	for _, id := range stale {
		util.Log(ctx).WithField("channel", id).Info("channel heartbeat timed out, closing")
		s.m.Close(id, CauseTimeout)
		telemetry.SweeperEvictedCounter.Add(ctx, 1)
	}
}

// signalStop requests the sweeper exit. It must only be called once the
// condition that makes the stop unambiguous (destroyed and retry queue
// drained) already holds.
func (s *livenessSweeper) signalStop() {
	close(s.stop)
}

func (s *livenessSweeper) waitDone() <-chan struct{} {
	return s.done
}
