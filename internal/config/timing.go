package config

import "time"

// TimingConfig carries the resolved BT-TIMING values the daemon runs on:
// the controller tick cadence, scan and pairing windows, per-class command
// deadlines, and the telemetry heartbeat and replay buffer. Values are
// durations after resolution regardless of the unit the file section uses.
type TimingConfig struct {
	// Controller tick (BT-TIMING §1)
	TickInterval time.Duration

	// Scan window (BT-TIMING §2)
	ScanDurationDefault time.Duration
	ScanDurationMax     time.Duration

	// Pairing session (BT-TIMING §3)
	PairingTimeout time.Duration

	// Command deadlines per class (BT-TIMING §4)
	CommandTimeoutPower     time.Duration
	CommandTimeoutAdvertise time.Duration
	CommandTimeoutScan      time.Duration
	CommandTimeoutLink      time.Duration
	CommandTimeoutQuery     time.Duration

	// Telemetry heartbeat (BT-TIMING §5)
	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration
	HeartbeatTimeout  time.Duration

	// Telemetry event buffer (BT-TIMING §6)
	EventBufferSize      int
	EventBufferRetention time.Duration
}

// LoadBTTimingBaseline returns the BT-TIMING baseline configuration.
func LoadBTTimingBaseline() *TimingConfig {
	return &TimingConfig{
		// BT-TIMING §1: controller tick cadence
		TickInterval: 500 * time.Millisecond,

		// BT-TIMING §2: scan window default and ceiling
		ScanDurationDefault: 10 * time.Second,
		ScanDurationMax:     2 * time.Minute,

		// BT-TIMING §3: pairing session timeout
		PairingTimeout: 60 * time.Second,

		// BT-TIMING §4: power 10s, advertise 5s, scan 5s, link 10s, query 2s
		CommandTimeoutPower:     10 * time.Second,
		CommandTimeoutAdvertise: 5 * time.Second,
		CommandTimeoutScan:      5 * time.Second,
		CommandTimeoutLink:      10 * time.Second,
		CommandTimeoutQuery:     2 * time.Second,

		// BT-TIMING §5: interval 15s, jitter ±2s, client timeout 45s
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,
		HeartbeatTimeout:  45 * time.Second,

		// BT-TIMING §6: 50 events, 1 hour retention
		EventBufferSize:      50,
		EventBufferRetention: 1 * time.Hour,
	}
}

// ResolveTiming returns the runtime timing values: the BT-TIMING baseline
// overlaid with the file's timing and telemetry sections, then the
// BTCTL_TIMING_* environment overrides. Resolution runs once per Config;
// later calls return the cached instance.
func (c *Config) ResolveTiming() *TimingConfig {
	if c.resolved == nil {
		c.resolved = buildTiming(c)
	}
	return c.resolved
}

func buildTiming(c *Config) *TimingConfig {
	t := LoadBTTimingBaseline()

	if ms := c.Timing.TickMs; ms > 0 {
		t.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if sec := c.Timing.Scan.DefaultSec; sec > 0 {
		t.ScanDurationDefault = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Scan.MaxSec; sec > 0 {
		t.ScanDurationMax = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.PairingTimeoutSec; sec > 0 {
		t.PairingTimeout = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Commands.PowerSec; sec > 0 {
		t.CommandTimeoutPower = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Commands.AdvertiseSec; sec > 0 {
		t.CommandTimeoutAdvertise = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Commands.ScanSec; sec > 0 {
		t.CommandTimeoutScan = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Commands.LinkSec; sec > 0 {
		t.CommandTimeoutLink = time.Duration(sec) * time.Second
	}
	if sec := c.Timing.Commands.QuerySec; sec > 0 {
		t.CommandTimeoutQuery = time.Duration(sec) * time.Second
	}
	if sec := c.Telemetry.Heartbeat.IntervalSec; sec > 0 {
		t.HeartbeatInterval = time.Duration(sec) * time.Second
	}
	if sec := c.Telemetry.Heartbeat.JitterSec; sec > 0 {
		t.HeartbeatJitter = time.Duration(sec) * time.Second
	}
	if sec := c.Telemetry.Heartbeat.TimeoutSec; sec > 0 {
		t.HeartbeatTimeout = time.Duration(sec) * time.Second
	}
	if n := c.Telemetry.Events.BufferSize; n > 0 {
		t.EventBufferSize = n
	}
	if min := c.Telemetry.Events.RetentionMin; min > 0 {
		t.EventBufferRetention = time.Duration(min) * time.Minute
	}

	applyTimingEnv(t)
	return t
}

// applyTimingEnv applies BTCTL_TIMING_* overrides. Durations use Go
// duration syntax ("250ms", "1m30s"); unparseable values are ignored.
func applyTimingEnv(t *TimingConfig) {
	t.TickInterval = GetEnvDuration("BTCTL_TIMING_TICK", t.TickInterval)
	t.ScanDurationDefault = GetEnvDuration("BTCTL_TIMING_SCAN_DEFAULT", t.ScanDurationDefault)
	t.ScanDurationMax = GetEnvDuration("BTCTL_TIMING_SCAN_MAX", t.ScanDurationMax)
	t.PairingTimeout = GetEnvDuration("BTCTL_TIMING_PAIRING_TIMEOUT", t.PairingTimeout)
	t.CommandTimeoutPower = GetEnvDuration("BTCTL_TIMING_COMMAND_POWER", t.CommandTimeoutPower)
	t.CommandTimeoutAdvertise = GetEnvDuration("BTCTL_TIMING_COMMAND_ADVERTISE", t.CommandTimeoutAdvertise)
	t.CommandTimeoutScan = GetEnvDuration("BTCTL_TIMING_COMMAND_SCAN", t.CommandTimeoutScan)
	t.CommandTimeoutLink = GetEnvDuration("BTCTL_TIMING_COMMAND_LINK", t.CommandTimeoutLink)
	t.CommandTimeoutQuery = GetEnvDuration("BTCTL_TIMING_COMMAND_QUERY", t.CommandTimeoutQuery)
	t.HeartbeatInterval = GetEnvDuration("BTCTL_TIMING_HEARTBEAT_INTERVAL", t.HeartbeatInterval)
	t.HeartbeatJitter = GetEnvDuration("BTCTL_TIMING_HEARTBEAT_JITTER", t.HeartbeatJitter)
	t.HeartbeatTimeout = GetEnvDuration("BTCTL_TIMING_HEARTBEAT_TIMEOUT", t.HeartbeatTimeout)
	t.EventBufferSize = GetEnvInt("BTCTL_TIMING_EVENT_BUFFER_SIZE", t.EventBufferSize)
	t.EventBufferRetention = GetEnvDuration("BTCTL_TIMING_EVENT_RETENTION", t.EventBufferRetention)
}
