// Package command defines ports (interfaces) for orchestrator operations.
package command

import (
	"context"
	"time"

	"github.com/securacv/btctl/internal/bluetooth"
)

// OrchestratorPort defines the minimal interface the API needs from the
// orchestrator. Every method is safe for concurrent use; execution is
// serialized on the control loop.
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

// AuditLogger records one entry per accepted or rejected command
// (Architecture §7.3). The audit package implements it; a nil logger on
// the orchestrator disables auditing.
type AuditLogger interface {
	LogAction(ctx context.Context, action, device, result string, latency time.Duration)
}
