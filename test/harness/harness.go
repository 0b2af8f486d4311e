// Package harness wires a complete daemon instance over the in-memory
// radio stack for integration and end-to-end tests. Every test runs
// against the same fully-wired system: real controller, orchestrator,
// telemetry hub, audit trail, and HTTP server; only the radio is fake.
package harness

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/securacv/btctl/internal/adapter/fake"
	"github.com/securacv/btctl/internal/api"
	"github.com/securacv/btctl/internal/audit"
	"github.com/securacv/btctl/internal/auth"
	"github.com/securacv/btctl/internal/bluetooth"
	"github.com/securacv/btctl/internal/command"
	"github.com/securacv/btctl/internal/config"
	"github.com/securacv/btctl/internal/store"
	"github.com/securacv/btctl/internal/telemetry"
)

// Options configures the test harness.
type Options struct {
	WithAuth      bool
	AuthSecret    string
	StoreDir      string        // empty runs volatile
	Tick          time.Duration // controller tick cadence
	ScanWindow    time.Duration // default scan duration
	PairingWindow time.Duration // pairing session timeout
}

// DefaultOptions returns fast timers suited to test runs: a 5ms tick so
// tick-driven expiry fires promptly, a short scan window, and a pairing
// window long enough that sessions survive the test body.
func DefaultOptions() Options {
	return Options{
		Tick:          5 * time.Millisecond,
		ScanWindow:    150 * time.Millisecond,
		PairingWindow: 2 * time.Second,
	}
}

// Server is a running daemon instance with handles into every layer.
type Server struct {
	URL          string
	Shutdown     func()
	Stack        *fake.FakeStack
	Controller   *bluetooth.Controller
	Orchestrator *command.Orchestrator
	TelemetryHub *telemetry.Hub
	AuditLogger  *audit.Logger
	AuthSecret   string
}

// NewServer builds and starts a fully-wired daemon. All components shut
// down through t.Cleanup in reverse wiring order.
func NewServer(t *testing.T, opts Options) *Server {
	t.Helper()

	if opts.Tick == 0 {
		opts.Tick = 5 * time.Millisecond
	}
	if opts.ScanWindow == 0 {
		opts.ScanWindow = 150 * time.Millisecond
	}
	if opts.PairingWindow == 0 {
		opts.PairingWindow = 2 * time.Second
	}
	if opts.WithAuth && opts.AuthSecret == "" {
		opts.AuthSecret = "harness-test-secret"
	}

	timing := config.LoadBTTimingBaseline()
	timing.TickInterval = opts.Tick

	auditLogger, err := audit.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { auditLogger.Close() })

	hub := telemetry.NewHub(timing)
	t.Cleanup(hub.Stop)

	stack := fake.NewFakeStack()
	t.Cleanup(func() { stack.Close() })

	var settingsStore *bluetooth.SettingsStore
	var registryStore *bluetooth.RegistryStore
	if opts.StoreDir != "" {
		kv, err := store.NewFileKV(opts.StoreDir)
		if err != nil {
			t.Fatalf("Failed to create file store: %v", err)
		}
		settingsStore = bluetooth.NewSettingsStore(kv)
		registryStore = bluetooth.NewRegistryStore(kv)
	}

	controller := bluetooth.NewController(stack, nil, settingsStore, registryStore)
	controller.SetTimers(opts.ScanWindow, opts.PairingWindow)
	if err := controller.LoadPersisted(); err != nil {
		t.Fatalf("Failed to load persisted state: %v", err)
	}

	orchestrator := command.NewOrchestrator(hub, timing)
	orchestrator.SetController(controller)
	orchestrator.SetStackEvents(stack.Events())
	orchestrator.SetAuditLogger(auditLogger)
	if err := orchestrator.Start(); err != nil {
		t.Fatalf("Failed to start orchestrator: %v", err)
	}
	t.Cleanup(orchestrator.Stop)

	// Zero write timeout: the SSE and WebSocket streams outlive any
	// fixed deadline.
	var apiServer *api.Server
	if opts.WithAuth {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm: "HS256",
			SecretKey: opts.AuthSecret,
		})
		if err != nil {
			t.Fatalf("Failed to create verifier: %v", err)
		}
		apiServer = api.NewServerWithAuth(hub, orchestrator, auth.NewMiddleware(verifier),
			30*time.Second, 0, 120*time.Second)
	} else {
		apiServer = api.NewServer(hub, orchestrator, 30*time.Second, 0, 120*time.Second)
	}

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)
	httpServer := httptest.NewServer(mux)
	t.Cleanup(httpServer.Close)

	return &Server{
		URL:          httpServer.URL,
		Shutdown:     httpServer.Close,
		Stack:        stack,
		Controller:   controller,
		Orchestrator: orchestrator,
		TelemetryHub: hub,
		AuditLogger:  auditLogger,
		AuthSecret:   opts.AuthSecret,
	}
}

// MintToken signs an HS256 bearer token for the harness secret. Viewer
// tokens carry read+telemetry, controller tokens all three scopes.
func (s *Server) MintToken(t *testing.T, subject, role string) string {
	t.Helper()

	scopes := []string{auth.ScopeRead, auth.ScopeTelemetry}
	if role == auth.RoleController {
		scopes = append(scopes, auth.ScopeControl)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    subject,
		"roles":  []string{role},
		"scopes": scopes,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(s.AuthSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}
