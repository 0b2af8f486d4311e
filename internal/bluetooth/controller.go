package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/securacv/btctl/internal/adapter"
)

// Controller is the radio lifecycle state machine. It owns every piece of
// mutable radio state and sequences commands, stack events, and the tick
// against it. Not goroutine-safe: all entry points must run on one
// serialized execution context (Architecture §2).
type Controller struct {
	stack adapter.IRadioStack
	clock Clock

	settingsStore *SettingsStore
	registryStore *RegistryStore

	settings Settings
	registry *PairedRegistry
	scan     *ScanCache
	session  *PairingSession
	conn     *ConnectionTracker

	state State
	stats Stats

	// timer overrides; package defaults unless SetTimers was called
	scanDefault    time.Duration
	pairingTimeout time.Duration

	// scan window bookkeeping, evaluated only by the tick
	scanStartedAt time.Time
	scanDuration  time.Duration

	// advertising span start for cumulative statistics; zero when the
	// stack is not advertising
	advSince time.Time

	// peer link captured while a pairing session is in flight; promoted to
	// the connection tracker when the session completes
	pairingLink *ConnectionInfo

	// observer slots, one per event class
	onConnection func(ConnectionEvent)
	onPairing    func(PairingEvent)
	onScan       func(ScanEvent)
	onState      func(StateChangeEvent)
}

// NewController wires a controller to its stack, clock, and stores. Nil
// stores disable persistence (ephemeral mode). Call LoadPersisted before
// first use to pick up saved settings and the paired registry.
func NewController(stack adapter.IRadioStack, clock Clock, settingsStore *SettingsStore, registryStore *RegistryStore) *Controller {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Controller{
		stack:          stack,
		clock:          clock,
		settingsStore:  settingsStore,
		registryStore:  registryStore,
		settings:       DefaultSettings(),
		registry:       NewPairedRegistry(),
		scan:           NewScanCache(),
		session:        NewPairingSession(),
		conn:           NewConnectionTracker(),
		state:          StateDisabled,
		scanDefault:    DefaultScanDuration,
		pairingTimeout: PairingTimeout,
	}
}

// SetTimers overrides the default scan-window duration (BT-TIMING §2) and
// the pairing-session timeout (BT-TIMING §3). Zero keeps the package
// default. Call before Enable.
func (c *Controller) SetTimers(scanDefault, pairingTimeout time.Duration) {
	if scanDefault > 0 {
		c.scanDefault = scanDefault
	}
	if pairingTimeout > 0 {
		c.pairingTimeout = pairingTimeout
	}
}

// LoadPersisted reads settings and the paired registry from the stores.
// Unreadable records degrade to defaults/empty; the error reports what was
// lost so the caller can log it.
func (c *Controller) LoadPersisted() error {
	var sErr, dErr error
	if c.settingsStore != nil {
		c.settings, sErr = c.settingsStore.Load()
	}
	if c.registryStore != nil {
		var devices []PairedDevice
		devices, dErr = c.registryStore.Load()
		c.registry.Load(devices)
	}
	return errors.Join(sErr, dErr)
}

// OnConnection registers the connection observer slot.
func (c *Controller) OnConnection(fn func(ConnectionEvent)) { c.onConnection = fn }

// OnPairing registers the pairing observer slot.
func (c *Controller) OnPairing(fn func(PairingEvent)) { c.onPairing = fn }

// OnScan registers the scan observer slot.
func (c *Controller) OnScan(fn func(ScanEvent)) { c.onScan = fn }

// OnStateChange registers the lifecycle observer slot.
func (c *Controller) OnStateChange(fn func(StateChangeEvent)) { c.onState = fn }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Settings returns a copy of the active settings record.
func (c *Controller) Settings() Settings { return c.settings }

// IsScanning reports whether a scan window is open.
func (c *Controller) IsScanning() bool { return c.state == StateScanning }

// ScanResults returns the current scan cache contents.
func (c *Controller) ScanResults() []ScannedDevice { return c.scan.List() }

// PairedDevices returns the paired registry contents.
func (c *Controller) PairedDevices() []PairedDevice { return c.registry.List() }

// Enable powers the radio on: disabled → initializing → idle, then the
// auto-advertise sub-mode when configured. Idempotent while enabled. From
// the error state it resets the stack and retries. Any stack failure
// during bring-up is fatal and lands in the error state.
func (c *Controller) Enable(ctx context.Context) error {
	switch c.state {
	case StateDisabled:
	case StateError:
		// reset a faulted stack before retrying
		_ = c.stack.PowerOff(ctx)
	default:
		return nil
	}

	// Persist intent first so a power cycle resumes enabled.
	c.settings.Enabled = true
	if err := c.saveSettings(); err != nil {
		c.settings.Enabled = false
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.setState(StateInitializing, "")
	if err := c.stack.PowerOn(ctx); err != nil {
		return c.enableFailure(ctx, "power on", err)
	}
	if err := c.stack.SetDeviceName(ctx, c.settings.DeviceName); err != nil {
		return c.enableFailure(ctx, "set device name", err)
	}
	if err := c.stack.SetTxPower(ctx, c.settings.TxPowerDbm); err != nil {
		return c.enableFailure(ctx, "set tx power", err)
	}
	c.setState(StateIdle, "")

	if c.settings.AutoAdvertise {
		if err := c.beginAdvertising(ctx); err != nil {
			return err
		}
		c.setState(StateAdvertising, "auto-advertise")
	}
	return nil
}

// Disable tears everything down from any state: scan, pairing session,
// connection, advertising, stack power. Always reaches the disabled state;
// teardown and persistence failures are joined into the return value.
func (c *Controller) Disable(ctx context.Context) error {
	if c.state == StateDisabled {
		return nil
	}

	var errs []error
	if c.state == StateScanning {
		if err := c.stack.StopScan(ctx); err != nil {
			errs = append(errs, err)
		}
		c.scan.Clear()
		c.emitScan(ScanEvent{Kind: ScanStopped})
	}
	if c.session.Active() {
		c.dropPairingLink(ctx)
		c.failPairing(ctx, true)
	}
	if c.conn.Active() {
		c.teardownConnection(ctx, "disable", true)
	}
	if !c.advSince.IsZero() {
		if err := c.stack.StopAdvertising(ctx); err != nil {
			errs = append(errs, err)
		}
		c.foldAdvertising()
	}
	if err := c.stack.PowerOff(ctx); err != nil {
		errs = append(errs, err)
	}

	c.setState(StateDisabled, "")
	c.settings.Enabled = false
	if err := c.saveSettings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StartAdvertising enters the advertising sub-mode from idle. No-op while
// already advertising.
func (c *Controller) StartAdvertising(ctx context.Context) error {
	switch c.state {
	case StateAdvertising:
		return nil
	case StateIdle:
	default:
		return fmt.Errorf("%w: cannot start advertising while %s", ErrInvalidState, c.state)
	}
	if err := c.beginAdvertising(ctx); err != nil {
		return err
	}
	c.setState(StateAdvertising, "")
	return nil
}

// StopAdvertising returns to idle. No-op while already idle.
func (c *Controller) StopAdvertising(ctx context.Context) error {
	switch c.state {
	case StateIdle:
		return nil
	case StateAdvertising:
	default:
		return fmt.Errorf("%w: cannot stop advertising while %s", ErrInvalidState, c.state)
	}
	if err := c.stack.StopAdvertising(ctx); err != nil {
		return c.stackFailure("stop advertising", err)
	}
	c.foldAdvertising()
	c.setState(StateIdle, "")
	return nil
}

// StartScan opens a scan window from idle. Duration zero applies the
// default; the tick closes the window once the duration elapses
// (BT-TIMING §2). The previous window's results are cleared on start.
func (c *Controller) StartScan(ctx context.Context, duration time.Duration) error {
	switch c.state {
	case StateScanning:
		return fmt.Errorf("%w: scan already running", ErrAlreadyInProgress)
	case StateIdle:
	default:
		return fmt.Errorf("%w: cannot scan while %s", ErrInvalidState, c.state)
	}
	if duration <= 0 {
		duration = c.scanDefault
	}
	if err := c.stack.StartScan(ctx); err != nil {
		return c.stackFailure("start scan", err)
	}
	c.scan.Clear()
	c.scanStartedAt = c.clock.Now()
	c.scanDuration = duration
	c.setState(StateScanning, "")
	c.emitScan(ScanEvent{Kind: ScanStarted})
	return nil
}

// StopScan closes the scan window early, preserving accumulated results.
// No-op when no window is open.
func (c *Controller) StopScan(ctx context.Context) error {
	if c.state != StateScanning {
		return nil
	}
	c.finishScan(ctx)
	return nil
}

// StartPairing arms a pairing session from idle or advertising, starting
// advertising first when idle so the peer can discover us. The generated
// PIN travels to observers once a peer associates and the session reaches
// pinDisplayed.
func (c *Controller) StartPairing(ctx context.Context) error {
	if c.session.Active() {
		return fmt.Errorf("%w: pairing already active", ErrAlreadyInProgress)
	}
	switch c.state {
	case StateDisabled, StateInitializing, StateError:
		return fmt.Errorf("%w: radio is not enabled", ErrUnavailable)
	}
	if !c.settings.AllowPairing {
		return fmt.Errorf("%w: pairing is disabled by settings", ErrUnavailable)
	}
	switch c.state {
	case StateIdle, StateAdvertising:
	default:
		return fmt.Errorf("%w: cannot pair while %s", ErrInvalidState, c.state)
	}

	pin, err := NewPIN()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if c.state == StateIdle {
		if err := c.beginAdvertising(ctx); err != nil {
			return err
		}
	}
	c.session.Start(pin, c.clock.Now())
	c.setState(StatePairing, "")
	c.emitPairing()
	return nil
}

// ConfirmPairing compares the submitted PIN against the session PIN. Valid
// only while the session awaits confirmation. A match completes the
// pairing at authenticated security (or higher when the link reports it);
// a mismatch fails the session and leaves the registry untouched.
func (c *Controller) ConfirmPairing(ctx context.Context, pin string) error {
	if c.session.State != PairingConfirming {
		return fmt.Errorf("%w: no pairing confirmation pending", ErrInvalidState)
	}
	peer := c.session.Address
	if c.registry.IsBlocked(peer) {
		c.dropPairingLink(ctx)
		c.failPairing(ctx, true)
		c.settleAfterPairing(ctx)
		return fmt.Errorf("%w: device %s is blocked", ErrUnavailable, peer)
	}
	if !c.session.Matches(pin) {
		c.dropPairingLink(ctx)
		c.failPairing(ctx, true)
		c.settleAfterPairing(ctx)
		return fmt.Errorf("%w: pairing pin mismatch", ErrInvalidCredential)
	}
	return c.completePairing(ctx, SecurityAuthenticated)
}

// RejectPairing fails the active session on operator decision.
func (c *Controller) RejectPairing(ctx context.Context) error {
	if !c.session.Active() {
		return fmt.Errorf("%w: no pairing session", ErrNoActiveSession)
	}
	c.dropPairingLink(ctx)
	c.failPairing(ctx, true)
	c.settleAfterPairing(ctx)
	return nil
}

// CancelPairing resets the session to none synchronously, regardless of
// any in-flight stack exchange. Idempotent.
func (c *Controller) CancelPairing(ctx context.Context) error {
	if !c.session.Active() {
		return nil
	}
	c.dropPairingLink(ctx)
	if !c.session.Address.IsZero() {
		_ = c.stack.PairingResponse(ctx, c.session.Address.String(), false)
	}
	c.session.Reset()
	c.emitPairing()
	c.settleAfterPairing(ctx)
	return nil
}

// Disconnect drops the active connection on local request.
func (c *Controller) Disconnect(ctx context.Context) error {
	if c.state != StateConnected || !c.conn.Active() {
		return fmt.Errorf("%w: no active connection", ErrInvalidState)
	}
	c.teardownConnection(ctx, "local", true)
	c.setState(StateIdle, "")
	c.resumeAdvertising(ctx)
	return nil
}

// UpdateSettings validates and persists a new settings record, pushing
// name/power changes to the stack while enabled. Toggling Enabled runs the
// full Enable/Disable sequence.
func (c *Controller) UpdateSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	prev := c.settings
	c.settings = s
	c.settings.Enabled = prev.Enabled // radio on/off handled below
	if err := c.saveSettings(); err != nil {
		c.settings = prev
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	radioOn := prev.Enabled && c.state != StateDisabled && c.state != StateError
	if radioOn {
		if s.DeviceName != prev.DeviceName {
			if err := c.stack.SetDeviceName(ctx, s.DeviceName); err != nil {
				return c.stackFailure("set device name", err)
			}
		}
		if s.TxPowerDbm != prev.TxPowerDbm {
			if err := c.stack.SetTxPower(ctx, s.TxPowerDbm); err != nil {
				return c.stackFailure("set tx power", err)
			}
		}
	}

	if s.Enabled != prev.Enabled {
		if s.Enabled {
			return c.Enable(ctx)
		}
		return c.Disable(ctx)
	}
	return nil
}

// RemoveDevice unpairs a peer: registry removal, radio bond teardown, and
// a forced disconnect when the peer is currently linked.
func (c *Controller) RemoveDevice(ctx context.Context, addr HardwareAddress) error {
	if err := c.registry.Remove(addr); err != nil {
		return err
	}
	saveErr := c.saveRegistry()
	_ = c.stack.RemoveBond(ctx, addr.String())
	if c.conn.Active() && c.conn.Peer() == addr {
		c.teardownConnection(ctx, "unpaired", true)
		c.setState(StateIdle, "peer unpaired")
		c.resumeAdvertising(ctx)
	}
	return saveErr
}

// ClearDevices empties the paired registry and the stack's bond store,
// dropping the active link if any.
func (c *Controller) ClearDevices(ctx context.Context) error {
	for _, dev := range c.registry.List() {
		_ = c.stack.RemoveBond(ctx, dev.Address.String())
	}
	c.registry.ClearAll()
	saveErr := c.saveRegistry()
	if c.conn.Active() {
		c.teardownConnection(ctx, "unpaired", true)
		c.setState(StateIdle, "registry cleared")
		c.resumeAdvertising(ctx)
	}
	return saveErr
}

// SetTrusted updates the trusted flag of a paired peer.
func (c *Controller) SetTrusted(ctx context.Context, addr HardwareAddress, trusted bool) error {
	if err := c.registry.SetTrusted(addr, trusted); err != nil {
		return err
	}
	return c.saveRegistry()
}

// SetBlocked updates the blocked flag of a paired peer. Blocking the
// currently connected peer force-disconnects it; blocking the peer of an
// in-flight pairing session fails the session.
func (c *Controller) SetBlocked(ctx context.Context, addr HardwareAddress, blocked bool) error {
	if err := c.registry.SetBlocked(addr, blocked); err != nil {
		return err
	}
	saveErr := c.saveRegistry()

	if blocked && c.conn.Active() && c.conn.Peer() == addr {
		c.teardownConnection(ctx, "blocked", true)
		c.setState(StateIdle, "peer blocked")
		c.resumeAdvertising(ctx)
	}
	if blocked && c.session.Active() && c.session.Address == addr {
		c.dropPairingLink(ctx)
		c.failPairing(ctx, true)
		c.settleAfterPairing(ctx)
	}
	return saveErr
}

// Update is the periodic tick: the only place time-based transitions
// occur (BT-TIMING §1). It evaluates scan-window expiry, pairing-session
// timeout, and connection inactivity, in that order.
func (c *Controller) Update(ctx context.Context) {
	now := c.clock.Now()

	if c.state == StateScanning && now.Sub(c.scanStartedAt) >= c.scanDuration {
		c.finishScan(ctx)
	}

	if c.session.Expired(now, c.pairingTimeout) {
		c.dropPairingLink(ctx)
		c.failPairing(ctx, true)
		c.settleAfterPairing(ctx)
	}

	if c.conn.Active() {
		if timeout := c.settings.InactivityTimeout(); timeout > 0 && c.conn.IdleFor(now) > timeout {
			c.teardownConnection(ctx, "inactivity", true)
			c.setState(StateIdle, "inactivity disconnect")
			c.resumeAdvertising(ctx)
		}
	}
}

// HandleStackEvent applies one asynchronous stack event. It must be called
// from the same serialized context as every other operation; the
// orchestrator's control loop drains the adapter event channel into it.
// The returned error is diagnostic (persistence loss, fatal stack fault);
// the state machine has already settled by the time it returns.
func (c *Controller) HandleStackEvent(ctx context.Context, ev adapter.StackEvent) error {
	switch ev := ev.(type) {
	case adapter.PeerDiscoveredEvent:
		return c.handlePeerDiscovered(ev)
	case adapter.ConnectedEvent:
		return c.handleConnected(ctx, ev)
	case adapter.DisconnectedEvent:
		return c.handleDisconnected(ctx, ev)
	case adapter.PairingRequestEvent:
		return c.handlePairingRequest(ctx, ev)
	case adapter.TrafficEvent:
		return c.handleTraffic(ev)
	case adapter.FaultEvent:
		c.setState(StateError, "stack fault")
		return fmt.Errorf("%w: %v", ErrFatal, ev.Err)
	default:
		return nil
	}
}

func (c *Controller) handlePeerDiscovered(ev adapter.PeerDiscoveredEvent) error {
	if c.state != StateScanning {
		return nil // stale result after window close
	}
	addr, ok := parseEventAddress(ev.Address)
	if !ok {
		return nil
	}
	class := ClassifyDevice(ev.Name, ev.Appearance, ev.ServiceUUIDs)
	dev := ScannedDevice{
		Address:     addr,
		Name:        ev.Name,
		RSSI:        ev.RSSI,
		Class:       class,
		Connectable: ev.Connectable,
		IsSecuraCV:  class == ClassSecuraCV,
		LastSeen:    c.clock.Now().UnixMilli(),
	}
	c.scan.Observe(dev)
	c.emitScan(ScanEvent{Kind: ScanResult, Device: &dev, Results: c.scan.Len()})
	return nil
}

func (c *Controller) handleConnected(ctx context.Context, ev adapter.ConnectedEvent) error {
	addr, ok := parseEventAddress(ev.Address)
	if !ok {
		return nil
	}
	now := c.clock.Now()

	if c.registry.IsBlocked(addr) {
		_ = c.stack.Disconnect(ctx, ev.Address)
		c.emitConnection(ConnectionEvent{Connected: false, Address: addr, Name: ev.Name, Reason: "blocked"})
		return nil
	}

	if c.session.Active() {
		if c.session.Address.IsZero() || c.session.Address == addr {
			c.session.AssociatePeer(addr, ev.Name, "")
			c.pairingLink = &ConnectionInfo{
				Connected:   true,
				Address:     addr,
				Name:        ev.Name,
				RSSI:        ev.RSSI,
				Security:    SecurityLevelFromString(ev.Security),
				ConnectedAt: now.UnixMilli(),
			}
		} else {
			// another peer intruding mid-pairing
			_ = c.stack.Disconnect(ctx, ev.Address)
		}
		return nil
	}

	switch c.state {
	case StateIdle, StateAdvertising:
	case StateScanning:
		// an inbound link preempts the scan window
		c.finishScan(ctx)
	default:
		_ = c.stack.Disconnect(ctx, ev.Address)
		return nil
	}

	c.foldAdvertising() // peripheral advertising ends with the link
	sec := SecurityLevelFromString(ev.Security)
	c.conn.Establish(ConnectionInfo{
		Address:  addr,
		Name:     ev.Name,
		RSSI:     ev.RSSI,
		Security: sec,
	}, now)
	var saveErr error
	if c.registry.NoteConnected(addr, now) {
		saveErr = c.saveRegistry()
	}
	c.stats.TotalConnections++
	c.setState(StateConnected, "")
	c.emitConnection(ConnectionEvent{Connected: true, Address: addr, Name: ev.Name, Security: sec})
	return saveErr
}

func (c *Controller) handleDisconnected(ctx context.Context, ev adapter.DisconnectedEvent) error {
	addr, ok := parseEventAddress(ev.Address)
	if !ok {
		return nil
	}

	if c.session.Active() && c.session.Address == addr {
		// peer dropped mid-pairing
		c.pairingLink = nil
		c.failPairing(ctx, false)
		c.settleAfterPairing(ctx)
		return nil
	}

	if c.conn.Active() && c.conn.Peer() == addr {
		reason := ev.Reason
		if reason == "" {
			reason = "peer"
		}
		c.teardownConnection(ctx, reason, false)
		c.setState(StateIdle, "peer disconnected")
		c.resumeAdvertising(ctx)
	}
	return nil
}

func (c *Controller) handlePairingRequest(ctx context.Context, ev adapter.PairingRequestEvent) error {
	addr, ok := parseEventAddress(ev.Address)
	if !ok {
		return nil
	}
	if c.registry.IsBlocked(addr) {
		_ = c.stack.PairingResponse(ctx, ev.Address, false)
		return nil
	}

	if !c.session.Active() {
		// peer-initiated pairing
		if !c.settings.AllowPairing {
			_ = c.stack.PairingResponse(ctx, ev.Address, false)
			return nil
		}
		switch c.state {
		case StateIdle, StateAdvertising:
		default:
			_ = c.stack.PairingResponse(ctx, ev.Address, false)
			return nil
		}
		pin := ev.Passkey
		if pin == "" {
			var err error
			if pin, err = NewPIN(); err != nil {
				_ = c.stack.PairingResponse(ctx, ev.Address, false)
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		c.session.Start(pin, c.clock.Now())
		c.setState(StatePairing, "peer-initiated pairing")
		c.emitPairing()
	} else if !c.session.Address.IsZero() && c.session.Address != addr {
		// a different peer cannot join the active session
		_ = c.stack.PairingResponse(ctx, ev.Address, false)
		return nil
	}

	c.session.AssociatePeer(addr, ev.Name, ev.Passkey)

	if !c.settings.RequirePIN {
		// just-works: no operator confirmation required
		return c.completePairing(ctx, SecurityEncrypted)
	}

	c.session.MarkPinDisplayed()
	c.emitPairing()
	c.session.BeginConfirming()
	c.emitPairing()
	return nil
}

func (c *Controller) handleTraffic(ev adapter.TrafficEvent) error {
	addr, ok := parseEventAddress(ev.Address)
	if !ok {
		return nil
	}
	if c.conn.Active() && c.conn.Peer() == addr {
		c.conn.Touch(ev.BytesSent, ev.BytesReceived, c.clock.Now())
	}
	return nil
}

// completePairing finishes the active session at the given security level:
// registry insert, persistence, stack acceptance, and promotion of a
// captured peer link into the connection tracker.
func (c *Controller) completePairing(ctx context.Context, security SecurityLevel) error {
	peer := c.session.Address
	name := c.session.Name
	now := c.clock.Now()

	if c.pairingLink != nil && c.pairingLink.Security.rank() > security.rank() {
		security = c.pairingLink.Security
	}

	if err := c.registry.RecordPairing(peer, name, security, now); err != nil {
		// Registry full of trusted entries: the pairing is rejected and
		// the radio-level bond must not outlive it.
		_ = c.stack.PairingResponse(ctx, peer.String(), false)
		_ = c.stack.RemoveBond(ctx, peer.String())
		c.dropPairingLink(ctx)
		c.failPairing(ctx, false)
		c.settleAfterPairing(ctx)
		return err
	}

	link := c.pairingLink
	c.pairingLink = nil
	if link != nil {
		c.registry.NoteConnected(peer, now)
	}
	saveErr := c.saveRegistry()

	_ = c.stack.PairingResponse(ctx, peer.String(), true) // ack arrives as a stack event
	c.session.Complete()
	c.emitPairing()
	c.session.Reset()

	if link != nil {
		if link.Security.rank() < security.rank() {
			link.Security = security
		}
		c.foldAdvertising()
		c.conn.Establish(*link, now)
		c.stats.TotalConnections++
		c.setState(StateConnected, "paired")
		c.emitConnection(ConnectionEvent{Connected: true, Address: peer, Name: link.Name, Security: link.Security})
	} else {
		c.settleAfterPairing(ctx)
	}
	return saveErr
}

// failPairing drives the session failed → none, optionally rejecting the
// in-flight stack exchange. The terminal failed transition is emitted; the
// reset to none is silent.
func (c *Controller) failPairing(ctx context.Context, reject bool) {
	if reject && !c.session.Address.IsZero() {
		_ = c.stack.PairingResponse(ctx, c.session.Address.String(), false)
	}
	c.session.Fail()
	c.emitPairing()
	c.session.Reset()
}

// settleAfterPairing returns the lifecycle to its resting activity once a
// session ended without promoting a link: connected if a link survived,
// advertising if the stack is still broadcasting, else idle with an
// auto-advertise resume attempt.
func (c *Controller) settleAfterPairing(ctx context.Context) {
	if c.conn.Active() {
		c.setState(StateConnected, "")
		return
	}
	if !c.advSince.IsZero() {
		c.setState(StateAdvertising, "")
		return
	}
	c.setState(StateIdle, "")
	c.resumeAdvertising(ctx)
}

// dropPairingLink disconnects a peer link captured mid-pairing.
func (c *Controller) dropPairingLink(ctx context.Context) {
	if c.pairingLink == nil {
		return
	}
	_ = c.stack.Disconnect(ctx, c.pairingLink.Address.String())
	c.pairingLink = nil
}

// finishScan closes the scan window, preserving accumulated results.
func (c *Controller) finishScan(ctx context.Context) {
	_ = c.stack.StopScan(ctx) // best-effort; the driver window may have lapsed already
	c.setState(StateIdle, "scan complete")
	c.emitScan(ScanEvent{Kind: ScanStopped, Results: c.scan.Len()})
}

// teardownConnection clears the slot, folds byte counters and the
// connected span into cumulative statistics, and notifies the connection
// observer. tellStack requests a driver-level disconnect for locally
// initiated teardowns.
func (c *Controller) teardownConnection(ctx context.Context, reason string, tellStack bool) {
	if !c.conn.Active() {
		return
	}
	final := c.conn.Clear()
	c.stats.TotalBytesSent += final.BytesSent
	c.stats.TotalBytesReceived += final.BytesReceived
	c.stats.ConnectedMillis += c.clock.Now().UnixMilli() - final.ConnectedAt
	if tellStack {
		_ = c.stack.Disconnect(ctx, final.Address.String()) // peer may already be gone
	}
	c.emitConnection(ConnectionEvent{Connected: false, Address: final.Address, Name: final.Name, Reason: reason})
}

// beginAdvertising pushes the advertising configuration to the stack and
// opens the statistics span. Callers set the lifecycle state.
func (c *Controller) beginAdvertising(ctx context.Context) error {
	err := c.stack.StartAdvertising(ctx, adapter.AdvertisingParams{
		DeviceName:  c.settings.DeviceName,
		TxPowerDbm:  c.settings.TxPowerDbm,
		ServiceUUID: ServiceUUID,
	})
	if err != nil {
		return c.stackFailure("start advertising", err)
	}
	if c.advSince.IsZero() {
		c.advSince = c.clock.Now()
	}
	return nil
}

// resumeAdvertising restores the advertising sub-mode after a link drop
// when configured to. A failure leaves the radio idle; a fatal stack
// error still surfaces through the state observer.
func (c *Controller) resumeAdvertising(ctx context.Context) {
	if c.state != StateIdle || !c.settings.Enabled || !c.settings.AutoAdvertise {
		return
	}
	if err := c.beginAdvertising(ctx); err == nil {
		c.setState(StateAdvertising, "auto-advertise")
	}
}

// foldAdvertising closes the advertising statistics span.
func (c *Controller) foldAdvertising() {
	if c.advSince.IsZero() {
		return
	}
	c.stats.AdvertisingMillis += c.clock.Now().Sub(c.advSince).Milliseconds()
	c.advSince = time.Time{}
}

// setState applies a lifecycle transition and notifies the state observer.
func (c *Controller) setState(to State, reason string) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to
	if c.onState != nil {
		c.onState(StateChangeEvent{From: from, To: to, Reason: reason})
	}
}

// fatal marks an unrecoverable stack failure: error state plus FATAL wrap.
func (c *Controller) fatal(op string, err error) error {
	c.setState(StateError, op+" failed")
	return fmt.Errorf("%w: %s: %v", ErrFatal, op, err)
}

// enableFailure rolls a power-up that the driver rejected back to
// disabled. Only an unrecoverable error takes the stack to the error
// state; a busy or not-ready driver rejects the enable and the next
// attempt starts clean.
func (c *Controller) enableFailure(ctx context.Context, op string, err error) error {
	if errors.Is(err, adapter.ErrBusy) || errors.Is(err, adapter.ErrUnavailable) {
		_ = c.stack.PowerOff(ctx)
		c.settings.Enabled = false
		_ = c.saveSettings()
		c.setState(StateDisabled, op+" rejected")
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return c.fatal(op, err)
}

// stackFailure classifies a normalized stack error: range errors become
// invalid arguments, busy/unavailable drivers reject the operation without
// a state change, anything else is fatal.
func (c *Controller) stackFailure(op string, err error) error {
	switch {
	case errors.Is(err, adapter.ErrInvalidRange):
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, op, err)
	case errors.Is(err, adapter.ErrBusy), errors.Is(err, adapter.ErrUnavailable):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	default:
		return c.fatal(op, err)
	}
}

func (c *Controller) saveSettings() error {
	if c.settingsStore == nil {
		return nil
	}
	return c.settingsStore.Save(c.settings)
}

func (c *Controller) saveRegistry() error {
	if c.registryStore == nil {
		return nil
	}
	return c.registryStore.Save(c.registry.List())
}

func (c *Controller) emitConnection(ev ConnectionEvent) {
	if c.onConnection != nil {
		c.onConnection(ev)
	}
}

func (c *Controller) emitPairing() {
	if c.onPairing == nil {
		return
	}
	ev := PairingEvent{State: c.session.State, Address: c.session.Address, Name: c.session.Name}
	if c.session.PinDisplayed {
		ev.PIN = c.session.PIN
	}
	c.onPairing(ev)
}

func (c *Controller) emitScan(ev ScanEvent) {
	if c.onScan != nil {
		c.onScan(ev)
	}
}

func parseEventAddress(s string) (HardwareAddress, bool) {
	addr, err := ParseAddress(s)
	if err != nil || addr.IsZero() {
		return HardwareAddress{}, false
	}
	return addr, true
}
