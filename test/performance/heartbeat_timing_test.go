//go:build performance

package performance

import (
	"context"
	"testing"
	"time"

	"github.com/securacv/btctl/internal/config"
	"github.com/securacv/btctl/internal/telemetry"
	"github.com/securacv/btctl/test/fixtures"
)

// TestHeartbeatTiming_Cadence runs a hub with a compressed heartbeat
// interval and verifies beats arrive at roughly the configured cadence
// while a consumer is attached.
func TestHeartbeatTiming_Cadence(t *testing.T) {
	timing := config.LoadBTTimingBaseline()
	timing.HeartbeatInterval = 25 * time.Millisecond
	timing.HeartbeatJitter = 0

	hub := telemetry.NewHub(timing)
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Watch(ctx)

	const window = 500 * time.Millisecond
	deadline := time.After(window)
	beats := 0

collect:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Watch channel closed during collection")
			}
			if ev.Type == telemetry.TypeHeartbeat {
				beats++
			}
		case <-deadline:
			break collect
		}
	}

	// 500ms at 25ms cadence is ~20 beats; allow a wide scheduler margin.
	if beats < 10 || beats > 40 {
		t.Errorf("Observed %d heartbeats in %v at a 25ms cadence, want roughly 20", beats, window)
	}
	t.Logf("%d heartbeats in %v", beats, window)
}

// TestTelemetryPerformance_PublishLatency verifies publishing stays cheap
// with no consumers attached: buffer append plus lock traffic only.
func TestTelemetryPerformance_PublishLatency(t *testing.T) {
	timing := config.LoadBTTimingBaseline()
	hub := telemetry.NewHub(timing)
	defer hub.Stop()

	events := fixtures.EventBurst(2000)

	start := time.Now()
	for _, ev := range events {
		if err := hub.Publish(ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	perEvent := elapsed / time.Duration(len(events))
	if perEvent > time.Millisecond {
		t.Errorf("Publish averaged %v per event, want under 1ms", perEvent)
	}
	t.Logf("%d events in %v (%v per event)", len(events), elapsed, perEvent)
}

// TestTelemetryPerformance_FanoutKeepsUp streams a large burst through an
// attached consumer in tap-buffer-sized windows and verifies nothing is
// dropped and IDs stay strictly ordered.
func TestTelemetryPerformance_FanoutKeepsUp(t *testing.T) {
	timing := config.LoadBTTimingBaseline()
	hub := telemetry.NewHub(timing)
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Watch(ctx)

	const burst = 500
	const window = 50 // stays under the tap buffer

	var lastID int64
	sent := 0
	for _, ev := range fixtures.EventBurst(burst) {
		if err := hub.Publish(ev); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		sent++

		if sent%window != 0 && sent != burst {
			continue
		}
		// Drain the window before the buffer can overflow.
		drained := 0
		for drained < window {
			select {
			case ev, ok := <-events:
				if !ok {
					t.Fatal("Watch channel closed mid-burst")
				}
				if ev.Type == telemetry.TypeHeartbeat {
					continue
				}
				if ev.ID <= lastID {
					t.Fatalf("Event ID %d not greater than previous %d", ev.ID, lastID)
				}
				lastID = ev.ID
				drained++
			case <-time.After(2 * time.Second):
				t.Fatalf("Consumer saw only %d of %d events", sent-window+drained, burst)
			}
		}
	}
}
