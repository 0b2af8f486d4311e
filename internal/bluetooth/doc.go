// Package bluetooth implements the radio lifecycle controller for the
// Bluetooth Control daemon.
//
// The controller owns all mutable radio state — lifecycle state machine,
// pairing session, connection tracker, scan cache, paired-device registry,
// settings, and cumulative statistics — and sequences it through commands,
// stack events, and a periodic tick. The controller is not goroutine-safe:
// every entry point must be invoked from one serialized execution context
// (the command orchestrator's control loop).
//
// Architecture References:
//   - Architecture §2: Lifecycle states and transitions
//   - BT-TIMING §1: Tick-driven timers
package bluetooth
