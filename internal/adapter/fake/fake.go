// Package fake provides a fake radio stack implementation for testing.
//
// The fake is deterministic: commands mutate in-memory state, scripted
// peers surface through the same event channel a real driver uses, and
// error simulation exercises every normalized failure path. The btctld
// binary can also run on it (adapter driver "fake") for development hosts
// without a radio.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/securacv/btctl/internal/adapter"
)

// FakeStack implements IRadioStack for testing purposes.
type FakeStack struct {
	adapter.StackBase

	mu sync.Mutex

	// Current state
	poweredOn   bool
	advertising bool
	scanning    bool
	deviceName  string
	txPower     int
	lastAdv     adapter.AdvertisingParams

	// Scripted peers surfaced on the next StartScan
	scanScript []adapter.PeerDiscoveredEvent

	// Call recording for assertions
	disconnects      []string
	removedBonds     []string
	pairingResponses []PairingResponseCall

	// Error simulation
	simulateErrors bool
	errorType      string

	events    chan adapter.StackEvent
	closeOnce sync.Once
	closed    bool
}

// PairingResponseCall records one PairingResponse invocation.
type PairingResponseCall struct {
	Address string
	Accept  bool
}

// NewFakeStack creates a new fake stack for testing.
func NewFakeStack() *FakeStack {
	return &FakeStack{
		StackBase: adapter.StackBase{
			Driver: "fake",
			Status: "online",
		},
		events: make(chan adapter.StackEvent, 64),
	}
}

// PowerOn brings the fake radio up.
func (f *FakeStack) PowerOn(ctx context.Context) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poweredOn = true
	return nil
}

// PowerOff tears the fake radio down, clearing sub-modes.
func (f *FakeStack) PowerOff(ctx context.Context) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poweredOn = false
	f.advertising = false
	f.scanning = false
	return nil
}

// SetDeviceName stores the advertised local name.
func (f *FakeStack) SetDeviceName(ctx context.Context, name string) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.poweredOn {
		return f.notPowered()
	}
	f.deviceName = name
	return nil
}

// SetTxPower stores the transmit power, validating the supported range.
func (f *FakeStack) SetTxPower(ctx context.Context, dbm int) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.poweredOn {
		return f.notPowered()
	}
	if dbm < -12 || dbm > 9 {
		return adapter.NormalizeDriverError(
			fmt.Errorf("OUT_OF_RANGE: tx power %d is outside valid range [-12, 9]", dbm), nil)
	}
	f.txPower = dbm
	return nil
}

// StartAdvertising begins the advertising sub-mode.
func (f *FakeStack) StartAdvertising(ctx context.Context, params adapter.AdvertisingParams) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.poweredOn {
		return f.notPowered()
	}
	f.advertising = true
	f.lastAdv = params
	if params.DeviceName != "" {
		f.deviceName = params.DeviceName
	}
	return nil
}

// StopAdvertising ends the advertising sub-mode. Safe when not advertising.
func (f *FakeStack) StopAdvertising(ctx context.Context) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertising = false
	return nil
}

// StartScan begins discovery, surfacing any scripted peers immediately.
func (f *FakeStack) StartScan(ctx context.Context) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	if !f.poweredOn {
		defer f.mu.Unlock()
		return f.notPowered()
	}
	if f.scanning {
		f.mu.Unlock()
		return adapter.NormalizeDriverError(errors.New("BUSY: discovery already running"), nil)
	}
	f.scanning = true
	script := f.scanScript
	f.mu.Unlock()

	for _, ev := range script {
		f.emit(ev)
	}
	return nil
}

// StopScan ends discovery. Safe when not scanning.
func (f *FakeStack) StopScan(ctx context.Context) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = false
	return nil
}

// Disconnect drops the link to the peer, surfacing the drop as an event
// the way a real driver would.
func (f *FakeStack) Disconnect(ctx context.Context, address string) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	f.disconnects = append(f.disconnects, address)
	f.mu.Unlock()

	f.emit(adapter.DisconnectedEvent{Address: address, Reason: "local"})
	return nil
}

// PairingResponse records the local pairing decision.
func (f *FakeStack) PairingResponse(ctx context.Context, address string, accept bool) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairingResponses = append(f.pairingResponses, PairingResponseCall{Address: address, Accept: accept})
	return nil
}

// RemoveBond records the bond removal.
func (f *FakeStack) RemoveBond(ctx context.Context, address string) error {
	if err := f.gate(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedBonds = append(f.removedBonds, address)
	return nil
}

// Events returns the stack event stream.
func (f *FakeStack) Events() <-chan adapter.StackEvent {
	return f.events
}

// Close shuts the event stream down.
func (f *FakeStack) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

// gate applies context cancellation and error simulation ahead of every
// operation.
func (f *FakeStack) gate(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.simulateErrors {
		return f.getSimulatedError()
	}
	return nil
}

// notPowered is the driver-shaped rejection for commands on a radio that
// is off; it normalizes to UNAVAILABLE.
func (f *FakeStack) notPowered() error {
	return adapter.NormalizeDriverError(errors.New("NOT_READY: radio is powered off"), nil)
}

// emit delivers an event without blocking; events beyond the buffer are
// dropped, matching lossy driver behavior under a stalled consumer.
func (f *FakeStack) emit(ev adapter.StackEvent) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	select {
	case f.events <- ev:
	default:
	}
}

// Simulation methods for testing

// SetErrorSimulation enables error simulation for testing.
func (f *FakeStack) SetErrorSimulation(errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = true
	f.errorType = errorType
}

// DisableErrorSimulation disables error simulation.
func (f *FakeStack) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateErrors = false
	f.errorType = ""
}

// getSimulatedError returns a simulated error based on the configured
// error type. Caller holds f.mu.
func (f *FakeStack) getSimulatedError() error {
	switch f.errorType {
	case "INVALID_RANGE":
		return adapter.NormalizeDriverError(errors.New("INVALID_RANGE: simulated range error"), nil)
	case "BUSY":
		return adapter.NormalizeDriverError(errors.New("BUSY: simulated busy error"), nil)
	case "UNAVAILABLE":
		return adapter.NormalizeDriverError(errors.New("UNAVAILABLE: simulated unavailable error"), nil)
	case "INTERNAL":
		return adapter.NormalizeDriverError(errors.New("INTERNAL: simulated internal error"), nil)
	default:
		return adapter.NormalizeDriverError(errors.New("INTERNAL: unknown simulated error"), nil)
	}
}

// ScriptScanResults sets the peers the next StartScan will surface.
func (f *FakeStack) ScriptScanResults(peers []adapter.PeerDiscoveredEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanScript = peers
}

// SimulatePeerConnect surfaces an inbound peer connection.
func (f *FakeStack) SimulatePeerConnect(address, name string, rssi int, security string) {
	f.emit(adapter.ConnectedEvent{Address: address, Name: name, RSSI: rssi, Security: security})
}

// SimulatePeerDisconnect surfaces a peer-initiated link drop.
func (f *FakeStack) SimulatePeerDisconnect(address, reason string) {
	f.emit(adapter.DisconnectedEvent{Address: address, Reason: reason})
}

// SimulatePairingRequest surfaces an in-flight pairing exchange.
func (f *FakeStack) SimulatePairingRequest(address, name, passkey string) {
	f.emit(adapter.PairingRequestEvent{Address: address, Name: name, Passkey: passkey})
}

// SimulateTraffic surfaces link traffic for activity accounting.
func (f *FakeStack) SimulateTraffic(address string, sent, received uint64) {
	f.emit(adapter.TrafficEvent{Address: address, BytesSent: sent, BytesReceived: received})
}

// SimulateFault surfaces an unrecoverable driver failure.
func (f *FakeStack) SimulateFault(err error) {
	f.emit(adapter.FaultEvent{Err: err})
}

// Inspection methods for testing

// PoweredOn reports whether the fake radio is up.
func (f *FakeStack) PoweredOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poweredOn
}

// IsAdvertising reports whether the advertising sub-mode is active.
func (f *FakeStack) IsAdvertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertising
}

// IsScanning reports whether discovery is active.
func (f *FakeStack) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// DeviceName returns the stored local name.
func (f *FakeStack) DeviceName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceName
}

// TxPower returns the stored transmit power.
func (f *FakeStack) TxPower() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txPower
}

// LastAdvertising returns the most recent advertising parameters.
func (f *FakeStack) LastAdvertising() adapter.AdvertisingParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAdv
}

// Disconnects returns the addresses passed to Disconnect.
func (f *FakeStack) Disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

// RemovedBonds returns the addresses passed to RemoveBond.
func (f *FakeStack) RemovedBonds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removedBonds...)
}

// PairingResponses returns the recorded pairing decisions.
func (f *FakeStack) PairingResponses() []PairingResponseCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PairingResponseCall(nil), f.pairingResponses...)
}
