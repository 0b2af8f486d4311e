// Package adapter defines the radio stack interface for the Bluetooth Control daemon.
//
// Stack adapters implement driver-specific protocols to communicate with the BLE
// radio. The IRadioStack interface provides a stable API contract that all
// adapters must implement: fire-and-forget commands southbound, StackEvents
// northbound on a single channel.
//
// Architecture References:
//   - Architecture §3: Southbound stack port
//   - Architecture §4: Error code normalization
package adapter
