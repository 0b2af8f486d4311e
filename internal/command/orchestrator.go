package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/securacv/btctl/internal/adapter"
	"github.com/securacv/btctl/internal/bluetooth"
	"github.com/securacv/btctl/internal/config"
	"github.com/securacv/btctl/internal/telemetry"
)

// Compile-time check that Orchestrator satisfies the API port.
var _ OrchestratorPort = (*Orchestrator)(nil)

// queuedCommand is one operation waiting for its turn on the control loop.
// done is buffered so the loop never blocks handing back a result a caller
// has stopped waiting for.
type queuedCommand struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Orchestrator serializes all radio control onto a single control loop.
// The controller it drives is not goroutine-safe; the loop goroutine is
// the only one that touches it, interleaving commands, stack events, and
// the periodic tick one at a time (Architecture §2.1). Public operations
// enqueue onto the loop and block until their turn completes or their
// deadline class expires (BT-TIMING §4).
type Orchestrator struct {
	controller   *bluetooth.Controller
	stackEvents  <-chan adapter.StackEvent
	telemetryHub *telemetry.Hub
	config       *config.TimingConfig
	auditLogger  AuditLogger

	commands chan queuedCommand
	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once

	// loopCtx bounds stack calls made on loop-internal turns (ticks and
	// event handling) that have no caller deadline to inherit.
	loopCtx    context.Context
	loopCancel context.CancelFunc

	// lastStatus is refreshed after every loop turn so off-loop readers
	// (SSE ready snapshots) never touch the controller.
	statusMu   sync.RWMutex
	lastStatus bluetooth.Status
}

// NewOrchestrator creates a new orchestrator instance. The telemetry hub
// may be nil to disable event publication.
func NewOrchestrator(telemetryHub *telemetry.Hub, timingConfig *config.TimingConfig) *Orchestrator {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		telemetryHub: telemetryHub,
		config:       timingConfig,
		commands:     make(chan queuedCommand, 16),
		done:         make(chan struct{}),
		loopCtx:      loopCtx,
		loopCancel:   loopCancel,
	}
}

// NewOrchestratorWithController creates an orchestrator with the radio
// controller and its stack event stream already attached.
func NewOrchestratorWithController(telemetryHub *telemetry.Hub, timingConfig *config.TimingConfig, controller *bluetooth.Controller, stackEvents <-chan adapter.StackEvent) *Orchestrator {
	o := NewOrchestrator(telemetryHub, timingConfig)
	o.controller = controller
	o.stackEvents = stackEvents
	return o
}

// SetController attaches the radio lifecycle state machine. Must be called
// before Start.
func (o *Orchestrator) SetController(controller *bluetooth.Controller) {
	o.controller = controller
}

// SetStackEvents attaches the southbound event stream the control loop
// drains into the controller. Must be called before Start.
func (o *Orchestrator) SetStackEvents(events <-chan adapter.StackEvent) {
	o.stackEvents = events
}

// SetAuditLogger sets the audit logger for command tracking.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.auditLogger = logger
}

// Start registers telemetry observers on the controller and launches the
// control loop. Start and Stop belong to the process lifecycle owner and
// are not safe for concurrent use with each other.
func (o *Orchestrator) Start() error {
	if o.controller == nil {
		return fmt.Errorf("%w: no controller attached", bluetooth.ErrUnavailable)
	}
	if o.started {
		return nil
	}
	o.started = true

	o.controller.OnStateChange(o.publishStateEvent)
	o.controller.OnConnection(o.publishConnectionEvent)
	o.controller.OnPairing(o.publishPairingEvent)
	o.controller.OnScan(o.publishScanEvent)
	if o.telemetryHub != nil {
		o.telemetryHub.SetSnapshotSource(o.Snapshot)
	}
	o.refreshStatus()

	o.wg.Add(1)
	go o.run()
	return nil
}

// Stop terminates the control loop and waits for it to drain. Commands
// still queued fail UNAVAILABLE.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		o.loopCancel()
		o.wg.Wait()
	})
}

// run is the control loop. Commands, stack events, and the periodic tick
// (BT-TIMING §1) execute here one at a time, so the controller never sees
// concurrent entry.
func (o *Orchestrator) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.TickInterval)
	defer ticker.Stop()

	events := o.stackEvents
	for {
		select {
		case <-o.done:
			return
		case cmd := <-o.commands:
			cmd.done <- cmd.run(cmd.ctx)
			o.refreshStatus()
		case ev, ok := <-events:
			if !ok {
				// Driver closed its stream; keep serving commands and ticks.
				events = nil
				continue
			}
			o.handleStackEvent(ev)
			o.refreshStatus()
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(o.loopCtx, o.config.CommandTimeoutLink)
			o.controller.Update(ctx)
			cancel()
			o.refreshStatus()
		}
	}
}

// handleStackEvent feeds one asynchronous stack event into the controller.
// The returned error is diagnostic; it surfaces as a fault event rather
// than interrupting the loop.
func (o *Orchestrator) handleStackEvent(ev adapter.StackEvent) {
	ctx, cancel := context.WithTimeout(o.loopCtx, o.config.CommandTimeoutLink)
	defer cancel()
	if err := o.controller.HandleStackEvent(ctx, ev); err != nil {
		o.publishFaultEvent(err, "Stack event handling failed")
	}
}

// submit hands one operation to the control loop and waits for its result.
func (o *Orchestrator) submit(ctx context.Context, run func(ctx context.Context) error) error {
	cmd := queuedCommand{ctx: ctx, run: run, done: make(chan error, 1)}

	select {
	case o.commands <- cmd:
	case <-o.done:
		return fmt.Errorf("%w: control loop stopped", bluetooth.ErrUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: command queue saturated: %v", bluetooth.ErrUnavailable, ctx.Err())
	}

	select {
	case err := <-cmd.done:
		return err
	case <-o.done:
		// Prefer a result the loop managed to hand back before stopping.
		select {
		case err := <-cmd.done:
			return err
		default:
		}
		return fmt.Errorf("%w: control loop stopped", bluetooth.ErrUnavailable)
	case <-ctx.Done():
		// The loop still runs the command; its expired ctx unwinds the
		// controller promptly and the buffered done keeps the loop clear.
		return fmt.Errorf("%w: command deadline exceeded: %v", bluetooth.ErrUnavailable, ctx.Err())
	}
}

// execute wraps one operation in the shared command texture: nil-controller
// guard, deadline class, serialized dispatch, audit record, and fault
// publication for radio-side failures.
func (o *Orchestrator) execute(ctx context.Context, action, device string, timeout time.Duration, run func(ctx context.Context) error) error {
	start := time.Now()

	if o.controller == nil {
		o.logAudit(ctx, action, device, "UNAVAILABLE", time.Since(start))
		return fmt.Errorf("%w: no controller attached", bluetooth.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := o.submit(ctx, run)
	latency := time.Since(start)

	if err != nil {
		code := bluetooth.ErrorCode(err)
		o.logAudit(ctx, action, device, code, latency)
		switch code {
		case "UNAVAILABLE", "FATAL", "INTERNAL":
			// Radio-side trouble; client mistakes stay off the fault stream.
			o.publishFaultEvent(err, fmt.Sprintf("Command %s failed", action))
		}
		return err
	}

	o.logAudit(ctx, action, device, "SUCCESS", latency)
	return nil
}

// Enable powers the radio on (Architecture §2.2).
func (o *Orchestrator) Enable(ctx context.Context) error {
	return o.execute(ctx, "enable", "", o.config.CommandTimeoutPower, func(ctx context.Context) error {
		return o.controller.Enable(ctx)
	})
}

// Disable powers the radio off, tearing down any scan, pairing session,
// and connection first (Architecture §2.2).
func (o *Orchestrator) Disable(ctx context.Context) error {
	return o.execute(ctx, "disable", "", o.config.CommandTimeoutPower, func(ctx context.Context) error {
		return o.controller.Disable(ctx)
	})
}

// StartAdvertising enters the advertising sub-mode.
func (o *Orchestrator) StartAdvertising(ctx context.Context) error {
	return o.execute(ctx, "startAdvertising", "", o.config.CommandTimeoutAdvertise, func(ctx context.Context) error {
		return o.controller.StartAdvertising(ctx)
	})
}

// StopAdvertising leaves the advertising sub-mode.
func (o *Orchestrator) StopAdvertising(ctx context.Context) error {
	return o.execute(ctx, "stopAdvertising", "", o.config.CommandTimeoutAdvertise, func(ctx context.Context) error {
		return o.controller.StopAdvertising(ctx)
	})
}

// StartScan opens a scan window. Zero duration applies the configured
// default; durations above the configured maximum are rejected before
// dispatch (BT-TIMING §2).
func (o *Orchestrator) StartScan(ctx context.Context, duration time.Duration) error {
	start := time.Now()

	if duration < 0 {
		o.logAudit(ctx, "startScan", "", "INVALID_ARGUMENT", time.Since(start))
		return fmt.Errorf("%w: scan duration must not be negative", bluetooth.ErrInvalidArgument)
	}
	if limit := o.config.ScanDurationMax; limit > 0 && duration > limit {
		o.logAudit(ctx, "startScan", "", "INVALID_ARGUMENT", time.Since(start))
		return fmt.Errorf("%w: scan duration %s exceeds maximum %s", bluetooth.ErrInvalidArgument, duration, limit)
	}

	return o.execute(ctx, "startScan", "", o.config.CommandTimeoutScan, func(ctx context.Context) error {
		return o.controller.StartScan(ctx, duration)
	})
}

// StopScan closes the scan window early, preserving accumulated results.
func (o *Orchestrator) StopScan(ctx context.Context) error {
	return o.execute(ctx, "stopScan", "", o.config.CommandTimeoutScan, func(ctx context.Context) error {
		return o.controller.StopScan(ctx)
	})
}

// ScanResults returns the current scan cache contents.
func (o *Orchestrator) ScanResults(ctx context.Context) ([]bluetooth.ScannedDevice, error) {
	var results []bluetooth.ScannedDevice
	err := o.execute(ctx, "scanResults", "", o.config.CommandTimeoutQuery, func(ctx context.Context) error {
		results = o.controller.ScanResults()
		return nil
	})
	return results, err
}

// StartPairing arms a pairing session (Architecture §2.5).
func (o *Orchestrator) StartPairing(ctx context.Context) error {
	return o.execute(ctx, "startPairing", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.StartPairing(ctx)
	})
}

// ConfirmPairing submits the operator's PIN for the pending session.
func (o *Orchestrator) ConfirmPairing(ctx context.Context, pin string) error {
	start := time.Now()

	if pin == "" {
		o.logAudit(ctx, "confirmPairing", "", "INVALID_ARGUMENT", time.Since(start))
		return fmt.Errorf("%w: pin must not be empty", bluetooth.ErrInvalidArgument)
	}

	return o.execute(ctx, "confirmPairing", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.ConfirmPairing(ctx, pin)
	})
}

// RejectPairing fails the active pairing session on operator decision.
func (o *Orchestrator) RejectPairing(ctx context.Context) error {
	return o.execute(ctx, "rejectPairing", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.RejectPairing(ctx)
	})
}

// CancelPairing resets any active pairing session. Idempotent.
func (o *Orchestrator) CancelPairing(ctx context.Context) error {
	return o.execute(ctx, "cancelPairing", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.CancelPairing(ctx)
	})
}

// Disconnect drops the active connection on local request.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	return o.execute(ctx, "disconnect", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.Disconnect(ctx)
	})
}

// GetStatus assembles a point-in-time snapshot of the whole subsystem.
func (o *Orchestrator) GetStatus(ctx context.Context) (bluetooth.Status, error) {
	var status bluetooth.Status
	err := o.execute(ctx, "getStatus", "", o.config.CommandTimeoutQuery, func(ctx context.Context) error {
		status = o.controller.Status()
		return nil
	})
	return status, err
}

// GetSettings returns the active settings record.
func (o *Orchestrator) GetSettings(ctx context.Context) (bluetooth.Settings, error) {
	var settings bluetooth.Settings
	err := o.execute(ctx, "getSettings", "", o.config.CommandTimeoutQuery, func(ctx context.Context) error {
		settings = o.controller.Settings()
		return nil
	})
	return settings, err
}

// UpdateSettings validates and persists a new settings record, applying
// radio-visible changes immediately (Architecture §2.8).
func (o *Orchestrator) UpdateSettings(ctx context.Context, settings bluetooth.Settings) error {
	return o.execute(ctx, "updateSettings", "", o.config.CommandTimeoutPower, func(ctx context.Context) error {
		return o.controller.UpdateSettings(ctx, settings)
	})
}

// ListDevices returns the paired registry contents.
func (o *Orchestrator) ListDevices(ctx context.Context) ([]bluetooth.PairedDevice, error) {
	var devices []bluetooth.PairedDevice
	err := o.execute(ctx, "listDevices", "", o.config.CommandTimeoutQuery, func(ctx context.Context) error {
		devices = o.controller.PairedDevices()
		return nil
	})
	return devices, err
}

// RemoveDevice unpairs the addressed peer (Architecture §2.7).
func (o *Orchestrator) RemoveDevice(ctx context.Context, address string) error {
	start := time.Now()

	addr, err := bluetooth.ParseAddress(address)
	if err != nil {
		o.logAudit(ctx, "removeDevice", address, "INVALID_ARGUMENT", time.Since(start))
		return err
	}

	return o.execute(ctx, "removeDevice", addr.String(), o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.RemoveDevice(ctx, addr)
	})
}

// ClearDevices empties the paired registry and the radio's bond store.
func (o *Orchestrator) ClearDevices(ctx context.Context) error {
	return o.execute(ctx, "clearDevices", "", o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.ClearDevices(ctx)
	})
}

// SetTrusted updates the trusted flag of a paired peer.
func (o *Orchestrator) SetTrusted(ctx context.Context, address string, trusted bool) error {
	start := time.Now()

	addr, err := bluetooth.ParseAddress(address)
	if err != nil {
		o.logAudit(ctx, "setTrusted", address, "INVALID_ARGUMENT", time.Since(start))
		return err
	}

	return o.execute(ctx, "setTrusted", addr.String(), o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.SetTrusted(ctx, addr, trusted)
	})
}

// SetBlocked updates the blocked flag of a paired peer; blocking the
// connected peer force-disconnects it.
func (o *Orchestrator) SetBlocked(ctx context.Context, address string, blocked bool) error {
	start := time.Now()

	addr, err := bluetooth.ParseAddress(address)
	if err != nil {
		o.logAudit(ctx, "setBlocked", address, "INVALID_ARGUMENT", time.Since(start))
		return err
	}

	return o.execute(ctx, "setBlocked", addr.String(), o.config.CommandTimeoutLink, func(ctx context.Context) error {
		return o.controller.SetBlocked(ctx, addr, blocked)
	})
}

// refreshStatus caches a status snapshot after a loop turn. Only the loop
// goroutine (or Start, before the loop exists) calls it.
func (o *Orchestrator) refreshStatus() {
	status := o.controller.Status()
	o.statusMu.Lock()
	o.lastStatus = status
	o.statusMu.Unlock()
}

// Snapshot returns the cached status as the generic map embedded in SSE
// ready events (Architecture §5.4). Safe from any goroutine; it never
// touches the controller.
func (o *Orchestrator) Snapshot() map[string]interface{} {
	o.statusMu.RLock()
	status := o.lastStatus
	o.statusMu.RUnlock()

	raw, err := json.Marshal(status)
	if err != nil {
		return map[string]interface{}{}
	}
	snapshot := make(map[string]interface{})
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]interface{}{}
	}
	return snapshot
}

// publishStateEvent mirrors a lifecycle transition onto the telemetry
// stream (Architecture §5.2).
func (o *Orchestrator) publishStateEvent(ev bluetooth.StateChangeEvent) {
	if o.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"state":    string(ev.To),
		"previous": string(ev.From),
		"ts":       time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Reason != "" {
		data["reason"] = ev.Reason
	}

	event := telemetry.Event{
		Type: telemetry.TypeState,
		Data: data,
	}
	if err := o.telemetryHub.Publish(event); err != nil {
		o.publishFaultEvent(err, "Failed to publish state changed event")
	}
}

// publishConnectionEvent mirrors a link establishment or teardown onto the
// telemetry stream.
func (o *Orchestrator) publishConnectionEvent(ev bluetooth.ConnectionEvent) {
	if o.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"connected": ev.Connected,
		"address":   ev.Address.String(),
		"ts":        time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Name != "" {
		data["name"] = ev.Name
	}
	if ev.Connected {
		data["security"] = string(ev.Security)
	} else if ev.Reason != "" {
		data["reason"] = ev.Reason
	}

	event := telemetry.Event{
		Type: telemetry.TypeConnection,
		Data: data,
	}
	if err := o.telemetryHub.Publish(event); err != nil {
		o.publishFaultEvent(err, "Failed to publish connection event")
	}
}

// publishPairingEvent mirrors a pairing session transition onto the
// telemetry stream. The PIN travels only once the session displays it.
func (o *Orchestrator) publishPairingEvent(ev bluetooth.PairingEvent) {
	if o.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"phase": string(ev.State),
		"ts":    time.Now().UTC().Format(time.RFC3339),
	}
	if !ev.Address.IsZero() {
		data["address"] = ev.Address.String()
	}
	if ev.Name != "" {
		data["name"] = ev.Name
	}
	if ev.PIN != "" {
		data["pin"] = ev.PIN
	}

	event := telemetry.Event{
		Type: telemetry.TypePairing,
		Data: data,
	}
	if err := o.telemetryHub.Publish(event); err != nil {
		o.publishFaultEvent(err, "Failed to publish pairing event")
	}
}

// publishScanEvent mirrors scan window activity onto the telemetry stream.
func (o *Orchestrator) publishScanEvent(ev bluetooth.ScanEvent) {
	if o.telemetryHub == nil {
		return
	}

	data := map[string]interface{}{
		"kind":    string(ev.Kind),
		"results": ev.Results,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Device != nil {
		data["address"] = ev.Device.Address.String()
		data["rssi"] = ev.Device.RSSI
		data["class"] = string(ev.Device.Class)
		if ev.Device.Name != "" {
			data["name"] = ev.Device.Name
		}
	}

	event := telemetry.Event{
		Type: telemetry.TypeScan,
		Data: data,
	}
	if err := o.telemetryHub.Publish(event); err != nil {
		o.publishFaultEvent(err, "Failed to publish scan event")
	}
}

// publishFaultEvent publishes a fault event to telemetry.
func (o *Orchestrator) publishFaultEvent(err error, message string) {
	if o.telemetryHub == nil {
		return
	}

	event := telemetry.Event{
		Type: telemetry.TypeFault,
		Data: map[string]interface{}{
			"code":    bluetooth.ErrorCode(err),
			"error":   err.Error(),
			"message": message,
			"ts":      time.Now().UTC().Format(time.RFC3339),
		},
	}
	if publishErr := o.telemetryHub.Publish(event); publishErr != nil {
		// A fault about a failed fault publish would recurse; drop it.
		_ = publishErr
	}
}

// logAudit records command execution if audit logger is available.
func (o *Orchestrator) logAudit(ctx context.Context, action, device, result string, latency time.Duration) {
	if o.auditLogger != nil {
		o.auditLogger.LogAction(ctx, action, device, result, latency)
	}
}
