// Package api defines ports (interfaces) for API server dependencies.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/securacv/btctl/internal/bluetooth"
	"github.com/securacv/btctl/internal/command"
	"github.com/securacv/btctl/internal/telemetry"
)

// OrchestratorPort defines the interface the API needs from the
// command orchestrator.
type OrchestratorPort interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error

	StartAdvertising(ctx context.Context) error
	StopAdvertising(ctx context.Context) error

	StartScan(ctx context.Context, duration time.Duration) error
	StopScan(ctx context.Context) error
	ScanResults(ctx context.Context) ([]bluetooth.ScannedDevice, error)

	StartPairing(ctx context.Context) error
	ConfirmPairing(ctx context.Context, pin string) error
	RejectPairing(ctx context.Context) error
	CancelPairing(ctx context.Context) error

	Disconnect(ctx context.Context) error

	GetStatus(ctx context.Context) (bluetooth.Status, error)
	GetSettings(ctx context.Context) (bluetooth.Settings, error)
	UpdateSettings(ctx context.Context, settings bluetooth.Settings) error

	ListDevices(ctx context.Context) ([]bluetooth.PairedDevice, error)
	RemoveDevice(ctx context.Context, address string) error
	ClearDevices(ctx context.Context) error
	SetTrusted(ctx context.Context, address string, trusted bool) error
	SetBlocked(ctx context.Context, address string, blocked bool) error
}

// TelemetryPort defines the interface the API needs from the telemetry
// hub: the SSE stream plus the tap/replay/snapshot surface the
// WebSocket bridge shares with it.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Watch(ctx context.Context) <-chan telemetry.Event
	EventsSince(lastID int64) []telemetry.Event
	StateSnapshot() map[string]interface{}
}

// Compile-time assertions for port conformance
var _ OrchestratorPort = (*command.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
