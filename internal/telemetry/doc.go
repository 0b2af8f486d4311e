// Package telemetry implements the event hub for the Bluetooth control daemon.
//
// The hub fans events out to SSE subscribers and in-process taps (the
// WebSocket bridge), buffers recent events for Last-Event-ID resume, and
// emits heartbeats while at least one consumer is connected.
//
// Architecture References:
//   - Architecture §5: Telemetry streaming
//   - BT-TIMING §5: Heartbeat cadence
//   - BT-TIMING §6: Event buffering constraints
package telemetry
