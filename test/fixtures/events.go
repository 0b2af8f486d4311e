package fixtures

import (
	"time"

	"github.com/securacv/btctl/internal/telemetry"
)

// StateSequence returns the event trail of a clean power-on: disabled
// through advertising, in publish order.
func StateSequence() []telemetry.Event {
	base := time.Now().UTC()
	steps := []struct {
		from, to string
	}{
		{"disabled", "initializing"},
		{"initializing", "idle"},
		{"idle", "advertising"},
	}

	events := make([]telemetry.Event, len(steps))
	for i, step := range steps {
		events[i] = telemetry.Event{
			Type: telemetry.TypeState,
			Ts:   base.Add(time.Duration(i) * 100 * time.Millisecond),
			Data: map[string]interface{}{
				"state":    step.to,
				"previous": step.from,
				"reason":   "enable",
			},
		}
	}
	return events
}

// ConnectionSequence returns a connect/traffic/disconnect trail for the
// standard phone peer.
func ConnectionSequence() []telemetry.Event {
	base := time.Now().UTC()
	return []telemetry.Event{
		{
			Type: telemetry.TypeConnection,
			Ts:   base,
			Data: map[string]interface{}{
				"connected": true,
				"address":   PhoneAddress,
				"name":      "Pixel 9",
				"security":  "encrypted",
			},
		},
		{
			Type: telemetry.TypeConnection,
			Ts:   base.Add(2 * time.Second),
			Data: map[string]interface{}{
				"connected": false,
				"address":   PhoneAddress,
				"reason":    "remote",
			},
		},
	}
}

// EventBurst returns count generic state events for buffer and fan-out
// tests.
func EventBurst(count int) []telemetry.Event {
	base := time.Now().UTC()
	events := make([]telemetry.Event, count)
	for i := range events {
		events[i] = telemetry.Event{
			Type: telemetry.TypeState,
			Ts:   base.Add(time.Duration(i) * time.Millisecond),
			Data: map[string]interface{}{
				"state":    "idle",
				"sequence": i,
			},
		}
	}
	return events
}
