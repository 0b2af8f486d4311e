package config

// Config is the daemon configuration as loaded from YAML and the
// environment. Durations in the file are integers with the unit named in
// the key; ResolveTiming converts them to the runtime TimingConfig.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	API       APIConfig        `yaml:"api"`
	Auth      AuthConfig       `yaml:"auth"`
	Adapter   AdapterConfig    `yaml:"adapter"`
	Timing    TimingSection    `yaml:"timing"`
	Telemetry TelemetrySection `yaml:"telemetry"`
	Store     StoreConfig      `yaml:"store"`

	resolved *TimingConfig
}

// LogConfig controls the daemon log destination and rotation. An empty
// File logs to stderr only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig controls bearer-token authentication on the API.
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Secret      string `yaml:"secret"`
	TokenTTLMin int    `yaml:"tokenTtlMin"`
}

// AdapterConfig selects and parameterizes the radio stack driver.
type AdapterConfig struct {
	Driver string `yaml:"driver"` // "fake" or "bluez"
	Name   string `yaml:"name"`   // bluez controller, e.g. "hci0"; empty picks the first
}

// TimingSection is the file-side shape of the controller timing knobs.
type TimingSection struct {
	TickMs            int            `yaml:"tickMs"`            // BT-TIMING §1
	Scan              ScanSection    `yaml:"scan"`              // BT-TIMING §2
	PairingTimeoutSec int            `yaml:"pairingTimeoutSec"` // BT-TIMING §3
	Commands          CommandSection `yaml:"commands"`          // BT-TIMING §4
}

// ScanSection holds the scan window default and ceiling.
type ScanSection struct {
	DefaultSec int `yaml:"defaultSec"`
	MaxSec     int `yaml:"maxSec"`
}

// CommandSection holds per-class command deadlines.
type CommandSection struct {
	PowerSec     int `yaml:"powerSec"`
	AdvertiseSec int `yaml:"advertiseSec"`
	ScanSec      int `yaml:"scanSec"`
	LinkSec      int `yaml:"linkSec"`
	QuerySec     int `yaml:"querySec"`
}

// TelemetrySection is the file-side shape of the SSE heartbeat and replay
// buffer knobs.
type TelemetrySection struct {
	Heartbeat HeartbeatSection `yaml:"heartbeat"` // BT-TIMING §5
	Events    EventsSection    `yaml:"events"`    // BT-TIMING §6
}

// HeartbeatSection holds the SSE heartbeat cadence.
type HeartbeatSection struct {
	IntervalSec int `yaml:"intervalSec"`
	JitterSec   int `yaml:"jitterSec"`
	TimeoutSec  int `yaml:"timeoutSec"`
}

// EventsSection holds the telemetry replay buffer limits.
type EventsSection struct {
	BufferSize   int `yaml:"bufferSize"`
	RetentionMin int `yaml:"retentionMin"`
}

// StoreConfig controls the persistence directory. An empty Dir runs the
// daemon without persistence.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultConfig returns the compiled defaults. Timing values mirror
// LoadBTTimingBaseline.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Auth: AuthConfig{
			TokenTTLMin: 60,
		},
		Adapter: AdapterConfig{
			Driver: "fake",
		},
		Timing: TimingSection{
			TickMs:            500,                                      // BT-TIMING §1
			Scan:              ScanSection{DefaultSec: 10, MaxSec: 120}, // BT-TIMING §2
			PairingTimeoutSec: 60,                                       // BT-TIMING §3
			Commands: CommandSection{ // BT-TIMING §4
				PowerSec:     10,
				AdvertiseSec: 5,
				ScanSec:      5,
				LinkSec:      10,
				QuerySec:     2,
			},
		},
		Telemetry: TelemetrySection{
			Heartbeat: HeartbeatSection{IntervalSec: 15, JitterSec: 2, TimeoutSec: 45}, // BT-TIMING §5
			Events:    EventsSection{BufferSize: 50, RetentionMin: 60},                 // BT-TIMING §6
		},
		Store: StoreConfig{
			Dir: "/var/lib/btctld",
		},
	}
}
