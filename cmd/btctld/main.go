// Package main implements the btctld daemon entry point.
// Boot sequence and shutdown order follow docs/architecture.md §8.4.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/securacv/btctl/internal/adapter"
	"github.com/securacv/btctl/internal/adapter/bluez"
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

// Version is the daemon release version reported by the health endpoint.
const Version = "1.0.0"

func main() {
	log.Printf("Starting btctld v%s", Version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.Log)
	log.Println("Configuration loaded")

	timing := cfg.ResolveTiming()

	telemetryHub := telemetry.NewHub(timing)
	log.Println("Telemetry hub initialized")

	// The audit trail lives beside the persisted state; without a store
	// directory it lands in ./logs.
	auditDir := "logs"
	if cfg.Store.Dir != "" {
		auditDir = cfg.Store.Dir
	}
	auditLogger, err := audit.NewLogger(auditDir)
	if err != nil {
		log.Fatalf("Failed to initialize audit trail: %v", err)
	}
	log.Printf("Audit trail at %s", auditLogger.FilePath())

	stack, err := buildStack(cfg.Adapter)
	if err != nil {
		log.Fatalf("Failed to initialize %s driver: %v", cfg.Adapter.Driver, err)
	}
	log.Printf("Radio stack driver: %s", cfg.Adapter.Driver)

	controller, err := buildController(cfg, stack, timing)
	if err != nil {
		log.Fatalf("Failed to initialize controller: %v", err)
	}

	orchestrator := command.NewOrchestrator(telemetryHub, timing)
	orchestrator.SetController(controller)
	orchestrator.SetStackEvents(stack.Events())
	orchestrator.SetAuditLogger(auditLogger)
	if err := orchestrator.Start(); err != nil {
		log.Fatalf("Failed to start command orchestrator: %v", err)
	}
	telemetryHub.SetSnapshotSource(orchestrator.Snapshot)
	log.Println("Command orchestrator started")

	server := buildServer(cfg, telemetryHub, orchestrator)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	log.Printf("btctld listening on %s", cfg.API.Addr)
	log.Printf("Health endpoint: http://localhost%s/api/v1/health", cfg.API.Addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	}

	// Shutdown order: listener first so no new commands arrive, then the
	// control loop, then the driver and streams, the trail last so every
	// completed command is recorded.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}
	orchestrator.Stop()
	if err := stack.Close(); err != nil {
		log.Printf("Error closing radio stack: %v", err)
	}
	telemetryHub.Stop()
	if err := auditLogger.Close(); err != nil {
		log.Printf("Error closing audit trail: %v", err)
	}

	log.Println("btctld shutdown complete")
}

// setupLogging routes the daemon log through the configured rotating file
// in addition to stderr. An empty file keeps stderr only.
func setupLogging(cfg config.LogConfig) {
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// buildStack selects the southbound driver. Validation has already
// constrained the driver name.
func buildStack(cfg config.AdapterConfig) (adapter.IRadioStack, error) {
	switch cfg.Driver {
	case "bluez":
		stack, err := bluez.NewBluezStack(bluez.Options{Adapter: cfg.Name})
		if err != nil {
			return nil, err
		}
		return stack, nil
	default:
		return fake.NewFakeStack(), nil
	}
}

// buildController wires the controller over the persistent stores. An
// empty store directory runs volatile: settings and pairings reset on
// restart.
func buildController(cfg *config.Config, stack adapter.IRadioStack, timing *config.TimingConfig) (*bluetooth.Controller, error) {
	var settingsStore *bluetooth.SettingsStore
	var registryStore *bluetooth.RegistryStore
	if cfg.Store.Dir != "" {
		kv, err := store.NewFileKV(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		settingsStore = bluetooth.NewSettingsStore(kv)
		registryStore = bluetooth.NewRegistryStore(kv)
	} else {
		log.Println("No store directory configured; running without persistence")
	}

	controller := bluetooth.NewController(stack, nil, settingsStore, registryStore)
	controller.SetTimers(timing.ScanDurationDefault, timing.PairingTimeout)

	// A corrupt record degrades to defaults rather than blocking boot.
	if err := controller.LoadPersisted(); err != nil {
		log.Printf("Persisted state not fully restored: %v", err)
	}
	return controller, nil
}

// buildServer assembles the API server, with bearer-token auth when
// configured. The zero write timeout keeps the event streams alive.
func buildServer(cfg *config.Config, hub *telemetry.Hub, orch *command.Orchestrator) *api.Server {
	if !cfg.Auth.Enabled {
		log.Println("API authentication disabled; all routes are open")
		return api.NewServer(hub, orch, 30*time.Second, 0, 120*time.Second)
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Algorithm: "HS256",
		SecretKey: cfg.Auth.Secret,
	})
	if err != nil {
		log.Fatalf("Failed to initialize token verifier: %v", err)
	}
	log.Println("API authentication enabled")
	return api.NewServerWithAuth(hub, orch, auth.NewMiddleware(verifier), 30*time.Second, 0, 120*time.Second)
}
