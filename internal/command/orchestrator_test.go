package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/securacv/btctl/internal/adapter/fake"
	"github.com/securacv/btctl/internal/bluetooth"
	"github.com/securacv/btctl/internal/config"
	"github.com/securacv/btctl/internal/telemetry"
)

// AuditAction records a logged action for verification.
type AuditAction struct {
	Action  string
	Device  string
	Result  string
	Latency time.Duration
}

// MockAuditLogger captures audit records. Safe for concurrent use because
// commands may be issued from multiple test goroutines.
type MockAuditLogger struct {
	mu      sync.Mutex
	Actions []AuditAction
}

func (m *MockAuditLogger) LogAction(ctx context.Context, action, device, result string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Actions = append(m.Actions, AuditAction{Action: action, Device: device, Result: result, Latency: latency})
}

// Last returns the most recent record.
func (m *MockAuditLogger) Last() (AuditAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Actions) == 0 {
		return AuditAction{}, false
	}
	return m.Actions[len(m.Actions)-1], true
}

// Find returns the most recent record for the given action.
func (m *MockAuditLogger) Find(action string) (AuditAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Actions) - 1; i >= 0; i-- {
		if m.Actions[i].Action == action {
			return m.Actions[i], true
		}
	}
	return AuditAction{}, false
}

// testRig bundles a started orchestrator with the fake stack behind it.
type testRig struct {
	orch  *Orchestrator
	stack *fake.FakeStack
	hub   *telemetry.Hub
	audit *MockAuditLogger
}

// setupTestOrchestrator builds a rig with fast ticks, a 100ms default scan
// window, and a pairing timeout long enough that sessions survive the test
// body unless a test wants them to expire.
func setupTestOrchestrator(t *testing.T) *testRig {
	t.Helper()
	return setupOrchestratorWithTimers(t, 100*time.Millisecond, 2*time.Second)
}

func setupOrchestratorWithTimers(t *testing.T, scanDefault, pairingTimeout time.Duration) *testRig {
	t.Helper()

	cfg := config.LoadBTTimingBaseline()
	cfg.TickInterval = 5 * time.Millisecond

	stack := fake.NewFakeStack()
	controller := bluetooth.NewController(stack, nil, nil, nil)
	controller.SetTimers(scanDefault, pairingTimeout)

	hub := telemetry.NewHub(cfg)
	auditLogger := &MockAuditLogger{}

	orch := NewOrchestratorWithController(hub, cfg, controller, stack.Events())
	orch.SetAuditLogger(auditLogger)
	if err := orch.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		orch.Stop()
		hub.Stop()
	})

	return &testRig{orch: orch, stack: stack, hub: hub, audit: auditLogger}
}

// waitForState polls GetStatus until the lifecycle reaches want.
func waitForState(t *testing.T, orch *Orchestrator, want bluetooth.State) bluetooth.Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last bluetooth.Status
	for time.Now().Before(deadline) {
		status, err := orch.GetStatus(context.Background())
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		last = status
		if status.State == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State = %s, want %s", last.State, want)
	return last
}

// eventually polls cond until it holds or the timeout lapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewOrchestrator(t *testing.T) {
	cfg := config.LoadBTTimingBaseline()
	hub := telemetry.NewHub(cfg)
	defer hub.Stop()

	orch := NewOrchestrator(hub, cfg)
	if orch.telemetryHub != hub {
		t.Error("NewOrchestrator did not retain the telemetry hub")
	}
	if orch.config != cfg {
		t.Error("NewOrchestrator did not retain the timing config")
	}
	if orch.commands == nil {
		t.Error("NewOrchestrator did not allocate the command queue")
	}
}

func TestStartWithoutController(t *testing.T) {
	orch := NewOrchestrator(nil, config.LoadBTTimingBaseline())
	if err := orch.Start(); !errors.Is(err, bluetooth.ErrUnavailable) {
		t.Errorf("Start() error = %v, want ErrUnavailable", err)
	}
}

func TestCommandsWithoutController(t *testing.T) {
	auditLogger := &MockAuditLogger{}
	orch := NewOrchestrator(nil, config.LoadBTTimingBaseline())
	orch.SetAuditLogger(auditLogger)
	ctx := context.Background()

	ops := []struct {
		name string
		call func() error
	}{
		{"enable", func() error { return orch.Enable(ctx) }},
		{"disable", func() error { return orch.Disable(ctx) }},
		{"startAdvertising", func() error { return orch.StartAdvertising(ctx) }},
		{"stopAdvertising", func() error { return orch.StopAdvertising(ctx) }},
		{"startScan", func() error { return orch.StartScan(ctx, 0) }},
		{"stopScan", func() error { return orch.StopScan(ctx) }},
		{"scanResults", func() error { _, err := orch.ScanResults(ctx); return err }},
		{"startPairing", func() error { return orch.StartPairing(ctx) }},
		{"confirmPairing", func() error { return orch.ConfirmPairing(ctx, "123456") }},
		{"rejectPairing", func() error { return orch.RejectPairing(ctx) }},
		{"cancelPairing", func() error { return orch.CancelPairing(ctx) }},
		{"disconnect", func() error { return orch.Disconnect(ctx) }},
		{"getStatus", func() error { _, err := orch.GetStatus(ctx); return err }},
		{"getSettings", func() error { _, err := orch.GetSettings(ctx); return err }},
		{"updateSettings", func() error { return orch.UpdateSettings(ctx, bluetooth.DefaultSettings()) }},
		{"listDevices", func() error { _, err := orch.ListDevices(ctx); return err }},
		{"removeDevice", func() error { return orch.RemoveDevice(ctx, "AA:BB:CC:DD:EE:FF") }},
		{"clearDevices", func() error { return orch.ClearDevices(ctx) }},
		{"setTrusted", func() error { return orch.SetTrusted(ctx, "AA:BB:CC:DD:EE:FF", true) }},
		{"setBlocked", func() error { return orch.SetBlocked(ctx, "AA:BB:CC:DD:EE:FF", true) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.call(); !errors.Is(err, bluetooth.ErrUnavailable) {
				t.Errorf("%s error = %v, want ErrUnavailable", op.name, err)
			}
			entry, ok := auditLogger.Find(op.name)
			if !ok {
				t.Fatalf("no audit record for %s", op.name)
			}
			if entry.Result != "UNAVAILABLE" {
				t.Errorf("audit result = %s, want UNAVAILABLE", entry.Result)
			}
		})
	}
}

func TestStartScanValidation(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	// The radio stays disabled: durations that pass validation reach the
	// controller and fail INVALID_STATE instead of INVALID_ARGUMENT.
	tests := []struct {
		name     string
		duration time.Duration
		wantErr  error
	}{
		{"negative", -1 * time.Second, bluetooth.ErrInvalidArgument},
		{"above maximum", rig.orch.config.ScanDurationMax + time.Second, bluetooth.ErrInvalidArgument},
		{"zero applies default", 0, bluetooth.ErrInvalidState},
		{"in range", 30 * time.Second, bluetooth.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := rig.orch.StartScan(ctx, tt.duration); !errors.Is(err, tt.wantErr) {
				t.Errorf("StartScan(%v) error = %v, want %v", tt.duration, err, tt.wantErr)
			}
		})
	}

	entry, ok := rig.audit.Find("startScan")
	if !ok || entry.Result != "INVALID_STATE" {
		t.Errorf("last startScan audit = %+v, want INVALID_STATE", entry)
	}
}

func TestConfirmPairingEmptyPin(t *testing.T) {
	rig := setupTestOrchestrator(t)

	err := rig.orch.ConfirmPairing(context.Background(), "")
	if !errors.Is(err, bluetooth.ErrInvalidArgument) {
		t.Errorf("ConfirmPairing(\"\") error = %v, want ErrInvalidArgument", err)
	}
	entry, ok := rig.audit.Find("confirmPairing")
	if !ok || entry.Result != "INVALID_ARGUMENT" {
		t.Errorf("confirmPairing audit = %+v, want INVALID_ARGUMENT", entry)
	}
}

func TestAddressValidation(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	ops := []struct {
		name string
		call func(address string) error
	}{
		{"removeDevice", func(a string) error { return rig.orch.RemoveDevice(ctx, a) }},
		{"setTrusted", func(a string) error { return rig.orch.SetTrusted(ctx, a, true) }},
		{"setBlocked", func(a string) error { return rig.orch.SetBlocked(ctx, a, true) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.call("not-an-address"); !errors.Is(err, bluetooth.ErrInvalidArgument) {
				t.Errorf("%s error = %v, want ErrInvalidArgument", op.name, err)
			}
			entry, ok := rig.audit.Find(op.name)
			if !ok {
				t.Fatalf("no audit record for %s", op.name)
			}
			if entry.Device != "not-an-address" || entry.Result != "INVALID_ARGUMENT" {
				t.Errorf("audit = %+v, want raw device and INVALID_ARGUMENT", entry)
			}

			// A well-formed address absent from the registry reaches the
			// controller and reports NOT_FOUND.
			if err := op.call("AA:BB:CC:DD:EE:01"); !errors.Is(err, bluetooth.ErrNotFound) {
				t.Errorf("%s on unknown peer error = %v, want ErrNotFound", op.name, err)
			}
		})
	}
}

func TestEnableDisable(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	status, err := rig.orch.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.State != bluetooth.StateAdvertising {
		t.Errorf("State after enable = %s, want %s (auto-advertise)", status.State, bluetooth.StateAdvertising)
	}
	if !status.Settings.Enabled {
		t.Error("Settings.Enabled = false after enable")
	}
	if !rig.stack.PoweredOn() || !rig.stack.IsAdvertising() {
		t.Error("stack not powered and advertising after enable")
	}

	// Idempotent while enabled.
	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("second Enable() error = %v", err)
	}

	if err := rig.orch.Disable(ctx); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	status, _ = rig.orch.GetStatus(ctx)
	if status.State != bluetooth.StateDisabled {
		t.Errorf("State after disable = %s, want %s", status.State, bluetooth.StateDisabled)
	}
	if rig.stack.PoweredOn() {
		t.Error("stack still powered after disable")
	}
}

func TestAdvertisingLifecycle(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := rig.orch.StopAdvertising(ctx); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}
	status, _ := rig.orch.GetStatus(ctx)
	if status.State != bluetooth.StateIdle {
		t.Errorf("State = %s, want %s", status.State, bluetooth.StateIdle)
	}
	if rig.stack.IsAdvertising() {
		t.Error("stack still advertising after stop")
	}

	if err := rig.orch.StartAdvertising(ctx); err != nil {
		t.Fatalf("StartAdvertising() error = %v", err)
	}
	status, _ = rig.orch.GetStatus(ctx)
	if status.State != bluetooth.StateAdvertising {
		t.Errorf("State = %s, want %s", status.State, bluetooth.StateAdvertising)
	}
	adv := rig.stack.LastAdvertising()
	if adv.DeviceName != status.Settings.DeviceName {
		t.Errorf("advertised name = %q, want %q", adv.DeviceName, status.Settings.DeviceName)
	}
	if adv.ServiceUUID != bluetooth.ServiceUUID {
		t.Errorf("advertised service UUID = %q, want %q", adv.ServiceUUID, bluetooth.ServiceUUID)
	}
}

func TestAuditLogging(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	entry, ok := rig.audit.Find("enable")
	if !ok {
		t.Fatal("no audit record for enable")
	}
	if entry.Result != "SUCCESS" {
		t.Errorf("enable result = %s, want SUCCESS", entry.Result)
	}
	if entry.Latency <= 0 {
		t.Error("enable latency not recorded")
	}

	// A rejected command writes its normalized code.
	if err := rig.orch.StartAdvertising(ctx); err == nil {
		t.Fatal("StartAdvertising while advertising should fail")
	}
	entry, _ = rig.audit.Find("startAdvertising")
	if entry.Result != "INVALID_STATE" {
		t.Errorf("startAdvertising result = %s, want INVALID_STATE", entry.Result)
	}
}

func TestEventPublishingWithNilTelemetryHub(t *testing.T) {
	cfg := config.LoadBTTimingBaseline()
	cfg.TickInterval = 5 * time.Millisecond

	stack := fake.NewFakeStack()
	controller := bluetooth.NewController(stack, nil, nil, nil)
	orch := NewOrchestratorWithController(nil, cfg, controller, stack.Events())
	if err := orch.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer orch.Stop()

	ctx := context.Background()
	if err := orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() with nil hub error = %v", err)
	}
	if err := orch.Disable(ctx); err != nil {
		t.Fatalf("Disable() with nil hub error = %v", err)
	}
}

func TestQueriesOnDisabledRadio(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	status, err := rig.orch.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.State != bluetooth.StateDisabled {
		t.Errorf("State = %s, want %s", status.State, bluetooth.StateDisabled)
	}

	settings, err := rig.orch.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}
	if settings.DeviceName == "" {
		t.Error("GetSettings returned empty device name")
	}

	devices, err := rig.orch.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("ListDevices() = %d entries, want 0", len(devices))
	}

	results, err := rig.orch.ScanResults(ctx)
	if err != nil {
		t.Fatalf("ScanResults() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("ScanResults() = %d entries, want 0", len(results))
	}
}

func TestUpdateSettings(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	settings, err := rig.orch.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings() error = %v", err)
	}

	invalid := settings
	invalid.DeviceName = ""
	if err := rig.orch.UpdateSettings(ctx, invalid); !errors.Is(err, bluetooth.ErrInvalidArgument) {
		t.Errorf("UpdateSettings(empty name) error = %v, want ErrInvalidArgument", err)
	}
	entry, _ := rig.audit.Find("updateSettings")
	if entry.Result != "INVALID_ARGUMENT" {
		t.Errorf("updateSettings audit = %s, want INVALID_ARGUMENT", entry.Result)
	}

	settings.DeviceName = "SecuraCV-Gate"
	settings.TxPowerDbm = 5
	if err := rig.orch.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	applied, _ := rig.orch.GetSettings(ctx)
	if applied.DeviceName != "SecuraCV-Gate" || applied.TxPowerDbm != 5 {
		t.Errorf("settings not applied: %+v", applied)
	}
}

func TestUpdateSettingsTogglesRadio(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	settings, _ := rig.orch.GetSettings(ctx)
	settings.Enabled = true
	if err := rig.orch.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings(enable) error = %v", err)
	}
	status, _ := rig.orch.GetStatus(ctx)
	if status.State != bluetooth.StateAdvertising {
		t.Errorf("State = %s, want %s after settings enable", status.State, bluetooth.StateAdvertising)
	}

	settings, _ = rig.orch.GetSettings(ctx)
	settings.Enabled = false
	if err := rig.orch.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings(disable) error = %v", err)
	}
	status, _ = rig.orch.GetStatus(ctx)
	if status.State != bluetooth.StateDisabled {
		t.Errorf("State = %s, want %s after settings disable", status.State, bluetooth.StateDisabled)
	}
}

func TestSnapshot(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	// GetStatus refreshes the cached snapshot on its loop turn.
	if _, err := rig.orch.GetStatus(ctx); err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}

	snapshot := rig.orch.Snapshot()
	if snapshot["state"] != string(bluetooth.StateAdvertising) {
		t.Errorf("snapshot state = %v, want %s", snapshot["state"], bluetooth.StateAdvertising)
	}
	for _, key := range []string{"settings", "connection", "pairing", "stats"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("snapshot missing %q", key)
		}
	}
}

func TestHubSnapshotSourceWired(t *testing.T) {
	rig := setupTestOrchestrator(t)

	snapshot := rig.hub.StateSnapshot()
	if snapshot["state"] != string(bluetooth.StateDisabled) {
		t.Errorf("hub snapshot state = %v, want %s", snapshot["state"], bluetooth.StateDisabled)
	}
}

func TestCommandDeadline(t *testing.T) {
	cfg := config.LoadBTTimingBaseline()
	cfg.CommandTimeoutQuery = 20 * time.Millisecond

	stack := fake.NewFakeStack()
	controller := bluetooth.NewController(stack, nil, nil, nil)
	orch := NewOrchestratorWithController(nil, cfg, controller, stack.Events())
	// The loop is deliberately not started, so the queue never drains and
	// the query deadline class expires.
	_, err := orch.GetStatus(context.Background())
	if !errors.Is(err, bluetooth.ErrUnavailable) {
		t.Errorf("GetStatus() error = %v, want ErrUnavailable", err)
	}
}

func TestStopRejectsFurtherCommands(t *testing.T) {
	cfg := config.LoadBTTimingBaseline()
	cfg.TickInterval = 5 * time.Millisecond

	stack := fake.NewFakeStack()
	controller := bluetooth.NewController(stack, nil, nil, nil)
	orch := NewOrchestratorWithController(nil, cfg, controller, stack.Events())
	if err := orch.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	orch.Stop()
	orch.Stop() // idempotent

	if _, err := orch.GetStatus(context.Background()); !errors.Is(err, bluetooth.ErrUnavailable) {
		t.Errorf("GetStatus() after Stop error = %v, want ErrUnavailable", err)
	}
}

func TestConcurrentCommands(t *testing.T) {
	rig := setupTestOrchestrator(t)
	ctx := context.Background()

	if err := rig.orch.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := rig.orch.GetStatus(ctx); err != nil {
					t.Errorf("GetStatus() error = %v", err)
					return
				}
				if _, err := rig.orch.ListDevices(ctx); err != nil {
					t.Errorf("ListDevices() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
