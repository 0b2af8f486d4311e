// Package adapter defines the IRadioStack interface from Architecture §3.
package adapter

import (
	"context"
)

// AdvertisingParams carries the advertising configuration pushed to the stack.
type AdvertisingParams struct {
	DeviceName  string `json:"deviceName"`
	TxPowerDbm  int    `json:"txPowerDbm"`
	ServiceUUID string `json:"serviceUuid"`
}

// StackEvent is the tagged union of asynchronous events a stack delivers.
// Events are produced by the driver's own goroutines and must be drained
// from Events() by a single consumer.
type StackEvent interface {
	stackEvent()
}

// PeerDiscoveredEvent reports a peer observed during an active scan.
type PeerDiscoveredEvent struct {
	Address      string // canonical AA:BB:CC:DD:EE:FF
	Name         string // advertised name, may be empty
	RSSI         int    // dBm
	Appearance   uint16 // GAP appearance, 0 when absent
	Connectable  bool
	ServiceUUIDs []string // advertised service UUIDs, lowercase
}

// ConnectedEvent reports an established peer link.
type ConnectedEvent struct {
	Address  string
	Name     string
	RSSI     int
	Security string // none, encrypted, authenticated, bonded
}

// DisconnectedEvent reports a dropped peer link.
type DisconnectedEvent struct {
	Address string
	Reason  string // peer, local, timeout, unknown
}

// PairingRequestEvent reports an in-flight pairing exchange needing a
// local confirmation decision. Passkey is the 6-digit decimal code the
// stack negotiated, or empty when the stack leaves PIN generation local.
type PairingRequestEvent struct {
	Address string
	Name    string
	Passkey string
}

// TrafficEvent reports application traffic over an established link, for
// activity tracking and byte accounting. Drivers without per-link
// accounting never emit it.
type TrafficEvent struct {
	Address       string
	BytesSent     uint64
	BytesReceived uint64
}

// FaultEvent reports an unrecoverable driver failure.
type FaultEvent struct {
	Err error
}

func (PeerDiscoveredEvent) stackEvent() {}
func (ConnectedEvent) stackEvent()      {}
func (DisconnectedEvent) stackEvent()   {}
func (PairingRequestEvent) stackEvent() {}
func (TrafficEvent) stackEvent()        {}
func (FaultEvent) stackEvent()          {}

// IRadioStack defines the stable southbound stack contract.
// All commands are fire-and-forget requests to the driver; outcomes that
// matter to the lifecycle (connections, pairing exchanges, discovered
// peers) arrive later as StackEvents.
type IRadioStack interface {
	// PowerOn initializes the radio and brings it to a usable idle state.
	PowerOn(ctx context.Context) error

	// PowerOff tears the radio down. Safe to call when already off.
	PowerOff(ctx context.Context) error

	// SetDeviceName sets the advertised local name.
	SetDeviceName(ctx context.Context, name string) error

	// SetTxPower sets the transmit power in dBm.
	// Params: dBm (-12..+9)
	SetTxPower(ctx context.Context, dbm int) error

	// StartAdvertising begins broadcasting presence.
	StartAdvertising(ctx context.Context, params AdvertisingParams) error

	// StopAdvertising stops broadcasting. Safe when not advertising.
	StopAdvertising(ctx context.Context) error

	// StartScan begins peer discovery; results arrive as PeerDiscoveredEvents.
	StartScan(ctx context.Context) error

	// StopScan ends peer discovery. Safe when not scanning.
	StopScan(ctx context.Context) error

	// Disconnect drops the link to the given peer.
	Disconnect(ctx context.Context, address string) error

	// PairingResponse answers an in-flight pairing exchange.
	PairingResponse(ctx context.Context, address string, accept bool) error

	// RemoveBond deletes any stored bond for the peer.
	RemoveBond(ctx context.Context, address string) error

	// Events returns the stream of asynchronous stack events.
	Events() <-chan StackEvent

	// Close releases driver resources and closes the event stream.
	Close() error
}

// StackBase provides common functionality for stack implementations.
type StackBase struct {
	// Driver identifies the stack implementation
	Driver string

	// Status indicates the current driver status
	Status string
}

// GetDriver returns the driver identifier.
func (s *StackBase) GetDriver() string {
	return s.Driver
}

// GetStatus returns the driver status.
func (s *StackBase) GetStatus() string {
	return s.Status
}

// SetStatus updates the driver status.
func (s *StackBase) SetStatus(status string) {
	s.Status = status
}
