package config

import (
	"fmt"
	"time"
)

// Validate checks the daemon configuration, including the resolved
// timing values.
func (c *Config) Validate() error {
	switch c.Adapter.Driver {
	case "fake", "bluez":
	default:
		return fmt.Errorf("adapter.driver must be \"fake\" or \"bluez\", got %q", c.Adapter.Driver)
	}

	if c.API.Addr == "" {
		return fmt.Errorf("api.addr must not be empty")
	}

	if c.Auth.Enabled {
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth.secret must be set when auth.enabled is true")
		}
		if c.Auth.TokenTTLMin <= 0 {
			return fmt.Errorf("auth.tokenTtlMin must be positive, got %d", c.Auth.TokenTTLMin)
		}
	}

	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.maxSizeMb must be positive when log.file is set, got %d", c.Log.MaxSizeMB)
	}

	return ValidateTimingComplete(c.ResolveTiming())
}

// ValidateTiming enforces the BT-TIMING validation rules.
func ValidateTiming(t *TimingConfig) error {
	if t == nil {
		return fmt.Errorf("timing config cannot be nil")
	}

	if err := validateTick(t); err != nil {
		return fmt.Errorf("tick validation failed: %w", err)
	}

	if err := validateScanWindow(t); err != nil {
		return fmt.Errorf("scan window validation failed: %w", err)
	}

	if err := validatePairing(t); err != nil {
		return fmt.Errorf("pairing validation failed: %w", err)
	}

	if err := validateCommandTimeouts(t); err != nil {
		return fmt.Errorf("command timeout validation failed: %w", err)
	}

	if err := validateHeartbeat(t); err != nil {
		return fmt.Errorf("heartbeat validation failed: %w", err)
	}

	if err := validateEventBuffer(t); err != nil {
		return fmt.Errorf("event buffer validation failed: %w", err)
	}

	return nil
}

// validateTick validates the controller tick cadence.
func validateTick(t *TimingConfig) error {
	if t.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", t.TickInterval)
	}
	return nil
}

// validateScanWindow validates the scan window parameters.
func validateScanWindow(t *TimingConfig) error {
	if t.ScanDurationDefault <= 0 {
		return fmt.Errorf("scan default duration must be positive, got %v", t.ScanDurationDefault)
	}
	if t.ScanDurationMax < t.ScanDurationDefault {
		return fmt.Errorf("scan max duration %v must be >= default %v", t.ScanDurationMax, t.ScanDurationDefault)
	}
	return nil
}

// validatePairing validates the pairing session timeout.
func validatePairing(t *TimingConfig) error {
	if t.PairingTimeout <= 0 {
		return fmt.Errorf("pairing timeout must be positive, got %v", t.PairingTimeout)
	}
	return nil
}

// validateCommandTimeouts validates the per-class command deadlines.
func validateCommandTimeouts(t *TimingConfig) error {
	if t.CommandTimeoutPower <= 0 {
		return fmt.Errorf("command timeout power must be positive, got %v", t.CommandTimeoutPower)
	}
	if t.CommandTimeoutAdvertise <= 0 {
		return fmt.Errorf("command timeout advertise must be positive, got %v", t.CommandTimeoutAdvertise)
	}
	if t.CommandTimeoutScan <= 0 {
		return fmt.Errorf("command timeout scan must be positive, got %v", t.CommandTimeoutScan)
	}
	if t.CommandTimeoutLink <= 0 {
		return fmt.Errorf("command timeout link must be positive, got %v", t.CommandTimeoutLink)
	}
	if t.CommandTimeoutQuery <= 0 {
		return fmt.Errorf("command timeout query must be positive, got %v", t.CommandTimeoutQuery)
	}
	return nil
}

// validateHeartbeat validates heartbeat timing parameters.
func validateHeartbeat(t *TimingConfig) error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}

	// Jitter must be non-negative and ≤ 50% of the interval
	maxJitter := t.HeartbeatInterval / 2
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > maxJitter {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}

	if t.HeartbeatTimeout < t.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %v must be >= interval %v", t.HeartbeatTimeout, t.HeartbeatInterval)
	}

	return nil
}

// validateEventBuffer validates event buffer parameters.
func validateEventBuffer(t *TimingConfig) error {
	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	if t.EventBufferRetention <= 0 {
		return fmt.Errorf("event buffer retention must be positive, got %v", t.EventBufferRetention)
	}
	return nil
}

// ValidateTimingConstraints validates additional timing bounds.
func ValidateTimingConstraints(t *TimingConfig) error {
	if t.TickInterval < 50*time.Millisecond || t.TickInterval > 5*time.Second {
		return fmt.Errorf("tick interval %v is outside reasonable range [%v, %v]",
			t.TickInterval, 50*time.Millisecond, 5*time.Second)
	}

	minTimeout := 100 * time.Millisecond
	maxTimeout := 5 * time.Minute
	commands := []struct {
		name string
		d    time.Duration
	}{
		{"power", t.CommandTimeoutPower},
		{"advertise", t.CommandTimeoutAdvertise},
		{"scan", t.CommandTimeoutScan},
		{"link", t.CommandTimeoutLink},
		{"query", t.CommandTimeoutQuery},
	}
	for _, c := range commands {
		if c.d < minTimeout || c.d > maxTimeout {
			return fmt.Errorf("command timeout %s %v is outside reasonable range [%v, %v]",
				c.name, c.d, minTimeout, maxTimeout)
		}
	}

	if t.ScanDurationMax > 10*time.Minute {
		return fmt.Errorf("scan max duration %v exceeds ceiling %v", t.ScanDurationMax, 10*time.Minute)
	}

	if t.PairingTimeout < 10*time.Second || t.PairingTimeout > 10*time.Minute {
		return fmt.Errorf("pairing timeout %v is outside reasonable range [%v, %v]",
			t.PairingTimeout, 10*time.Second, 10*time.Minute)
	}

	return nil
}

// ValidateTimingComplete performs complete timing validation including
// constraints.
func ValidateTimingComplete(t *TimingConfig) error {
	if err := ValidateTiming(t); err != nil {
		return err
	}
	return ValidateTimingConstraints(t)
}
