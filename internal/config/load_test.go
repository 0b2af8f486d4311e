package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Test loading with defaults
	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config == nil {
		t.Fatal("Load() returned nil config")
	}

	if config.API.Addr != ":8080" {
		t.Errorf("API.Addr = %q, want :8080", config.API.Addr)
	}
	if config.Adapter.Driver != "fake" {
		t.Errorf("Adapter.Driver = %q, want fake", config.Adapter.Driver)
	}
	if config.Auth.Enabled {
		t.Error("Auth.Enabled should default to false")
	}

	timing := config.ResolveTiming()
	if timing.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v, want 500ms", timing.TickInterval)
	}
	if timing.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", timing.HeartbeatInterval)
	}
	if timing.HeartbeatTimeout != 45*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 45s", timing.HeartbeatTimeout)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	_ = os.Setenv("BTCTL_API_ADDR", ":9090")
	_ = os.Setenv("BTCTL_ADAPTER_DRIVER", "bluez")
	_ = os.Setenv("BTCTL_ADAPTER_NAME", "hci1")
	_ = os.Setenv("BTCTL_TIMING_TICK", "250ms")
	_ = os.Setenv("BTCTL_TIMING_HEARTBEAT_INTERVAL", "20s")
	_ = os.Setenv("BTCTL_TIMING_EVENT_BUFFER_SIZE", "100")

	defer func() {
		_ = os.Unsetenv("BTCTL_API_ADDR")
		_ = os.Unsetenv("BTCTL_ADAPTER_DRIVER")
		_ = os.Unsetenv("BTCTL_ADAPTER_NAME")
		_ = os.Unsetenv("BTCTL_TIMING_TICK")
		_ = os.Unsetenv("BTCTL_TIMING_HEARTBEAT_INTERVAL")
		_ = os.Unsetenv("BTCTL_TIMING_EVENT_BUFFER_SIZE")
	}()

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() with env overrides failed: %v", err)
	}

	if config.API.Addr != ":9090" {
		t.Errorf("API.Addr = %q, want :9090", config.API.Addr)
	}
	if config.Adapter.Driver != "bluez" {
		t.Errorf("Adapter.Driver = %q, want bluez", config.Adapter.Driver)
	}
	if config.Adapter.Name != "hci1" {
		t.Errorf("Adapter.Name = %q, want hci1", config.Adapter.Name)
	}

	timing := config.ResolveTiming()
	if timing.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %v, want 250ms", timing.TickInterval)
	}
	if timing.HeartbeatInterval != 20*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 20s", timing.HeartbeatInterval)
	}
	if timing.EventBufferSize != 100 {
		t.Errorf("EventBufferSize = %d, want 100", timing.EventBufferSize)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	configYAML := `
api:
  addr: ":9000"
adapter:
  driver: bluez
  name: hci0
timing:
  tickMs: 200
  scan:
    defaultSec: 20
  pairingTimeoutSec: 90
telemetry:
  events:
    bufferSize: 200
store:
  dir: /tmp/btctl-test
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_ = os.Setenv("BTCTL_CONFIG", path)
	defer func() { _ = os.Unsetenv("BTCTL_CONFIG") }()

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() with config file failed: %v", err)
	}

	if config.API.Addr != ":9000" {
		t.Errorf("API.Addr = %q, want :9000", config.API.Addr)
	}
	if config.Adapter.Driver != "bluez" {
		t.Errorf("Adapter.Driver = %q, want bluez", config.Adapter.Driver)
	}
	if config.Adapter.Name != "hci0" {
		t.Errorf("Adapter.Name = %q, want hci0", config.Adapter.Name)
	}
	if config.Store.Dir != "/tmp/btctl-test" {
		t.Errorf("Store.Dir = %q, want /tmp/btctl-test", config.Store.Dir)
	}

	// File values flow into the resolved timing; untouched fields keep
	// their baseline values.
	timing := config.ResolveTiming()
	if timing.TickInterval != 200*time.Millisecond {
		t.Errorf("TickInterval = %v, want 200ms", timing.TickInterval)
	}
	if timing.ScanDurationDefault != 20*time.Second {
		t.Errorf("ScanDurationDefault = %v, want 20s", timing.ScanDurationDefault)
	}
	if timing.ScanDurationMax != 2*time.Minute {
		t.Errorf("ScanDurationMax = %v, want 2m", timing.ScanDurationMax)
	}
	if timing.PairingTimeout != 90*time.Second {
		t.Errorf("PairingTimeout = %v, want 90s", timing.PairingTimeout)
	}
	if timing.EventBufferSize != 200 {
		t.Errorf("EventBufferSize = %d, want 200", timing.EventBufferSize)
	}

	// Sections absent from the file keep defaults
	if config.Auth.TokenTTLMin != 60 {
		t.Errorf("Auth.TokenTTLMin = %d, want 60", config.Auth.TokenTTLMin)
	}
	if config.Log.MaxSizeMB != 10 {
		t.Errorf("Log.MaxSizeMB = %d, want 10", config.Log.MaxSizeMB)
	}
}

func TestLoadWithPartialConfig(t *testing.T) {
	partialYAML := `
log:
  file: /var/log/btctld/btctld.log
timing:
  commands:
    powerSec: 15
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(partialYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_ = os.Setenv("BTCTL_CONFIG", path)
	defer func() { _ = os.Unsetenv("BTCTL_CONFIG") }()

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() with partial config failed: %v", err)
	}

	if config.Log.File != "/var/log/btctld/btctld.log" {
		t.Errorf("Log.File = %q, want /var/log/btctld/btctld.log", config.Log.File)
	}
	// Siblings of the overridden fields keep defaults
	if config.Log.MaxSizeMB != 10 {
		t.Errorf("Log.MaxSizeMB = %d, want default 10", config.Log.MaxSizeMB)
	}

	timing := config.ResolveTiming()
	if timing.CommandTimeoutPower != 15*time.Second {
		t.Errorf("CommandTimeoutPower = %v, want 15s", timing.CommandTimeoutPower)
	}
	if timing.CommandTimeoutScan != 5*time.Second {
		t.Errorf("CommandTimeoutScan = %v, want default 5s", timing.CommandTimeoutScan)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Run("explicit_path_missing", func(t *testing.T) {
		_ = os.Setenv("BTCTL_CONFIG", "/nonexistent/btctl/config.yaml")
		defer func() { _ = os.Unsetenv("BTCTL_CONFIG") }()

		if _, err := Load(); err == nil {
			t.Error("Load() should fail when BTCTL_CONFIG names a missing file")
		}
	})

	t.Run("corrupted_yaml", func(t *testing.T) {
		// Tab indentation is invalid YAML
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("api:\n\taddr: \":9000\"\n"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
		_ = os.Setenv("BTCTL_CONFIG", path)
		defer func() { _ = os.Unsetenv("BTCTL_CONFIG") }()

		if _, err := Load(); err == nil {
			t.Error("Load() should fail on corrupted YAML")
		}
	})

	t.Run("wrong_field_type", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("timing:\n  tickMs: fast\n"), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
		_ = os.Setenv("BTCTL_CONFIG", path)
		defer func() { _ = os.Unsetenv("BTCTL_CONFIG") }()

		if _, err := Load(); err == nil {
			t.Error("Load() should fail when a numeric field holds a string")
		}
	})

	t.Run("validation_failure", func(t *testing.T) {
		_ = os.Setenv("BTCTL_ADAPTER_DRIVER", "serial")
		defer func() { _ = os.Unsetenv("BTCTL_ADAPTER_DRIVER") }()

		if _, err := Load(); err == nil {
			t.Error("Load() should fail on an unknown adapter driver")
		}
	})
}

func TestGetEnvVar(t *testing.T) {
	_ = os.Setenv("TEST_VAR", "test_value")
	defer func() { _ = os.Unsetenv("TEST_VAR") }()

	value := GetEnvVar("TEST_VAR", "default")
	if value != "test_value" {
		t.Errorf("GetEnvVar() = %s, want test_value", value)
	}

	value = GetEnvVar("NONEXISTENT_VAR", "default")
	if value != "default" {
		t.Errorf("GetEnvVar() = %s, want default", value)
	}
}

func TestGetEnvDuration(t *testing.T) {
	_ = os.Setenv("TEST_DURATION", "30s")
	defer func() { _ = os.Unsetenv("TEST_DURATION") }()

	value := GetEnvDuration("TEST_DURATION", 10*time.Second)
	if value != 30*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 30s", value)
	}

	value = GetEnvDuration("NONEXISTENT_DURATION", 10*time.Second)
	if value != 10*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 10s", value)
	}

	_ = os.Setenv("INVALID_DURATION", "invalid")
	defer func() { _ = os.Unsetenv("INVALID_DURATION") }()

	value = GetEnvDuration("INVALID_DURATION", 10*time.Second)
	if value != 10*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 10s", value)
	}
}

func TestGetEnvInt(t *testing.T) {
	_ = os.Setenv("TEST_INT", "42")
	defer func() { _ = os.Unsetenv("TEST_INT") }()

	value := GetEnvInt("TEST_INT", 10)
	if value != 42 {
		t.Errorf("GetEnvInt() = %d, want 42", value)
	}

	value = GetEnvInt("NONEXISTENT_INT", 10)
	if value != 10 {
		t.Errorf("GetEnvInt() = %d, want 10", value)
	}

	_ = os.Setenv("INVALID_INT", "invalid")
	defer func() { _ = os.Unsetenv("INVALID_INT") }()

	value = GetEnvInt("INVALID_INT", 10)
	if value != 10 {
		t.Errorf("GetEnvInt() = %d, want 10", value)
	}
}

func TestGetEnvBool(t *testing.T) {
	_ = os.Setenv("TEST_BOOL", "true")
	defer func() { _ = os.Unsetenv("TEST_BOOL") }()

	if !GetEnvBool("TEST_BOOL", false) {
		t.Error("GetEnvBool() = false, want true")
	}

	if GetEnvBool("NONEXISTENT_BOOL", false) {
		t.Error("GetEnvBool() = true, want false")
	}

	_ = os.Setenv("INVALID_BOOL", "yes-please")
	defer func() { _ = os.Unsetenv("INVALID_BOOL") }()

	if GetEnvBool("INVALID_BOOL", false) {
		t.Error("GetEnvBool() on invalid value should return the fallback")
	}
}
