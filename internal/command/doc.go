// Package command implements the control orchestrator for the Bluetooth
// control daemon.
//
// The orchestrator owns the control loop that serializes every controller
// entry: northbound commands, southbound stack events, and the periodic
// tick interleave on a single goroutine. Each command carries a per-class
// deadline, writes one audit record, and mirrors its outcome onto the
// telemetry stream.
//
// Architecture References:
//   - Architecture §2.1: Serialized command execution
//   - Architecture §4: Error code normalization
//   - BT-TIMING §4: Command deadline classes
package command
