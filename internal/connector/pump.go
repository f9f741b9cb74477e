package connector

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/telemetry"
)

// retryPump re-writes every entry in the retry queue on a fixed interval,
// incrementing attempts and evicting entries that have exhausted their
// attempt budget or whose channel has disappeared. It runs as a single
// dedicated goroutine for the lifetime of one Start/Shutdown cycle.
type retryPump struct {
	m     *Manager
	clock clock.Clock
	done  chan struct{}
}

func newRetryPump(m *Manager, c clock.Clock) *retryPump {
	return &retryPump{m: m, clock: c, done: make(chan struct{})}
}

// run loops while the manager is not destroyed, or the retry queue is still
// non-empty — so a shutdown mid-retry still gets every entry its remaining
// attempts (or eviction) before the pump exits.
func (p *retryPump) run(ctx context.Context) {
	defer close(p.done)

	for !p.m.isDestroyed() || p.m.retries.len() > 0 {
		p.pass(ctx)
		p.clock.Sleep(RetryInterval)
	}

	// Only ever signalled after the exit condition above has already held,
	// so the sweeper never needs to disambiguate a spurious wakeup against
	// destroyed — receiving this always means teardown is intended.
	p.m.sweeperStop()
}

func (p *retryPump) pass(ctx context.Context) {
	ctx, span := telemetry.RetryTracer.Start(ctx, "RetryPump.pass")
	start := time.Now()
	defer func() {
		telemetry.RetryPumpLatencyHistogram.Add(ctx, time.Since(start).Milliseconds())
		telemetry.RetryTracer.End(ctx, span, nil)
	}()

	snapshot := p.m.retries.snapshot()
	if len(snapshot) == 0 {
		return
	}

	for id, rd := range snapshot {
		if rd.attempts >= MaxRetryAttempts {
			util.Log(ctx).WithField("id", id).Debug("retry attempts exhausted, dropping datagram")
			p.m.retries.remove(id)
			telemetry.RetryExhaustedCounter.Add(ctx, 1)
			continue
		}

		ch, ok := p.m.registry.get(rd.payload.ChannelID)
		if !ok {
			util.Log(ctx).WithField("id", id).Debug("channel gone, dropping retry entry")
			p.m.retries.remove(id)
			continue
		}

		rd.attempts++
		telemetry.RetryAttemptedCounter.Add(ctx, 1)
		if err := ch.Write(rd.payload.Bytes); err != nil {
			util.Log(ctx).WithError(err).WithField("channel", rd.payload.ChannelID).Debug("retry write failed, will retry")
		}
	}
}

func (p *retryPump) waitDone() <-chan struct{} {
	return p.done
}
