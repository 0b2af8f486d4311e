package bluetooth

import (
	"strings"
	"time"
)

// Capacity and timing constants. Registry and cache bounds mirror the
// constrained-device firmware this daemon fronts.
const (
	// MaxPairedDevices bounds the persisted paired registry.
	MaxPairedDevices = 8

	// MaxScannedDevices bounds the ephemeral scan cache.
	MaxScannedDevices = 16

	// MaxDeviceNameLen bounds stored peer and local device names, in bytes.
	MaxDeviceNameLen = 32

	// DefaultScanDuration applies when StartScan is called with zero.
	DefaultScanDuration = 10 * time.Second

	// PairingTimeout bounds a pairing session from StartPairing to
	// confirmation; the tick enforces it (BT-TIMING §3).
	PairingTimeout = 60 * time.Second

	// DefaultInactivityTimeout is the default idle auto-disconnect window.
	DefaultInactivityTimeout = 5 * time.Minute

	// TxPowerMinDbm and TxPowerMaxDbm bound the transmit power setting.
	TxPowerMinDbm = -12
	TxPowerMaxDbm = 9
)

// ServiceUUID is the primary service UUID advertised by SecuraCV devices;
// peers advertising it are classified as ClassSecuraCV.
const ServiceUUID = "8fc1ceca-b162-4401-9607-c8ac21383e90"

// State is the top-level lifecycle state of the radio.
type State string

const (
	StateDisabled     State = "disabled"
	StateInitializing State = "initializing"
	StateIdle         State = "idle"
	StateAdvertising  State = "advertising"
	StateScanning     State = "scanning"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// PairingState is the state of the single in-flight pairing session.
type PairingState string

const (
	PairingNone         PairingState = "none"
	PairingInitiated    PairingState = "initiated"
	PairingPinDisplayed PairingState = "pinDisplayed"
	PairingConfirming   PairingState = "confirming"
	PairingComplete     PairingState = "complete"
	PairingFailed       PairingState = "failed"
)

// SecurityLevel is the achieved link security with a peer.
type SecurityLevel string

const (
	SecurityNone          SecurityLevel = "none"
	SecurityEncrypted     SecurityLevel = "encrypted"
	SecurityAuthenticated SecurityLevel = "authenticated"
	SecurityBonded        SecurityLevel = "bonded"
)

// SecurityLevelFromString normalizes a stack-reported security string;
// unknown values degrade to SecurityNone.
func SecurityLevelFromString(s string) SecurityLevel {
	switch SecurityLevel(strings.ToLower(s)) {
	case SecurityEncrypted, SecurityAuthenticated, SecurityBonded:
		return SecurityLevel(strings.ToLower(s))
	default:
		return SecurityNone
	}
}

// rank orders security levels so a stack-reported level can only upgrade
// the level achieved by PIN confirmation, never downgrade it.
func (s SecurityLevel) rank() int {
	switch s {
	case SecurityEncrypted:
		return 1
	case SecurityAuthenticated:
		return 2
	case SecurityBonded:
		return 3
	default:
		return 0
	}
}

// DeviceClass is the inferred kind of a scanned peer.
type DeviceClass string

const (
	ClassUnknown  DeviceClass = "unknown"
	ClassPhone    DeviceClass = "phone"
	ClassTablet   DeviceClass = "tablet"
	ClassComputer DeviceClass = "computer"
	ClassWatch    DeviceClass = "watch"
	ClassSecuraCV DeviceClass = "securacv"
	ClassOther    DeviceClass = "other"
)

// GAP appearance ranges for device classification.
const (
	appearancePhoneLo    = 0x0040
	appearancePhoneHi    = 0x007F
	appearanceComputerLo = 0x0080
	appearanceComputerHi = 0x00BF
	appearanceWatchLo    = 0x00C0
	appearanceWatchHi    = 0x00FF
)

// ClassifyDevice infers a peer's class from its advertised service UUIDs,
// GAP appearance, and name, in that priority order. A non-empty name that
// matches no heuristic classifies as ClassOther; a nameless peer with no
// usable appearance stays ClassUnknown.
func ClassifyDevice(name string, appearance uint16, serviceUUIDs []string) DeviceClass {
	for _, uuid := range serviceUUIDs {
		if strings.EqualFold(uuid, ServiceUUID) {
			return ClassSecuraCV
		}
	}

	switch {
	case appearance >= appearancePhoneLo && appearance <= appearancePhoneHi:
		return ClassPhone
	case appearance >= appearanceComputerLo && appearance <= appearanceComputerHi:
		return ClassComputer
	case appearance >= appearanceWatchLo && appearance <= appearanceWatchHi:
		return ClassWatch
	}

	lower := strings.ToLower(name)
	switch {
	case lower == "":
		return ClassUnknown
	case containsAny(lower, "iphone", "android", "pixel", "samsung", "galaxy"):
		return ClassPhone
	case containsAny(lower, "ipad", "tablet"):
		return ClassTablet
	case containsAny(lower, "macbook", "laptop", "desktop"):
		return ClassComputer
	case containsAny(lower, "watch", "band", "fitbit"):
		return ClassWatch
	}
	return ClassOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// PairedDevice is one persisted entry of the paired registry.
type PairedDevice struct {
	Address       HardwareAddress `json:"address"`
	Name          string          `json:"name"`
	PairedAt      int64           `json:"pairedAt"`        // unix seconds
	LastConnected int64           `json:"lastConnectedMs"` // unix milliseconds
	ConnectCount  int             `json:"connectCount"`
	Security      SecurityLevel   `json:"security"`
	Trusted       bool            `json:"trusted"`
	Blocked       bool            `json:"blocked"`
}

// ScannedDevice is one ephemeral entry of the scan result cache.
type ScannedDevice struct {
	Address     HardwareAddress `json:"address"`
	Name        string          `json:"name,omitempty"`
	RSSI        int             `json:"rssi"`
	Class       DeviceClass     `json:"class"`
	Connectable bool            `json:"connectable"`
	IsSecuraCV  bool            `json:"isSecuracv"`
	LastSeen    int64           `json:"lastSeenMs"` // unix milliseconds
}

// ConnectionInfo describes the single active peer link; Connected false
// means the remaining fields are zero.
type ConnectionInfo struct {
	Connected     bool            `json:"connected"`
	Address       HardwareAddress `json:"address,omitempty"`
	Name          string          `json:"name,omitempty"`
	RSSI          int             `json:"rssi,omitempty"`
	Security      SecurityLevel   `json:"security,omitempty"`
	ConnectedAt   int64           `json:"connectedAtMs,omitempty"`  // unix milliseconds
	LastActivity  int64           `json:"lastActivityMs,omitempty"` // unix milliseconds
	BytesSent     uint64          `json:"bytesSent"`
	BytesReceived uint64          `json:"bytesReceived"`
}

// Stats accumulates lifetime counters across connections and power cycles
// of the controller process.
type Stats struct {
	TotalConnections   uint64 `json:"totalConnections"`
	TotalBytesSent     uint64 `json:"totalBytesSent"`
	TotalBytesReceived uint64 `json:"totalBytesReceived"`
	AdvertisingMillis  int64  `json:"advertisingMs"`
	ConnectedMillis    int64  `json:"connectedMs"`
}

// ConnectionEvent is delivered to the connection observer on link
// establishment and teardown.
type ConnectionEvent struct {
	Connected bool            `json:"connected"`
	Address   HardwareAddress `json:"address"`
	Name      string          `json:"name,omitempty"`
	Security  SecurityLevel   `json:"security,omitempty"`
	Reason    string          `json:"reason,omitempty"` // teardown: peer, local, inactivity, blocked, disable
}

// PairingEvent is delivered to the pairing observer on each session
// transition. PIN is populated from pinDisplayed onward so the northbound
// layer can render it.
type PairingEvent struct {
	State   PairingState    `json:"state"`
	Address HardwareAddress `json:"address,omitempty"`
	Name    string          `json:"name,omitempty"`
	PIN     string          `json:"pin,omitempty"`
}

// ScanEventKind discriminates scan observer notifications.
type ScanEventKind string

const (
	ScanStarted ScanEventKind = "started"
	ScanStopped ScanEventKind = "stopped"
	ScanResult  ScanEventKind = "result"
)

// ScanEvent is delivered to the scan observer on window start/stop and on
// each cache observation.
type ScanEvent struct {
	Kind    ScanEventKind  `json:"kind"`
	Device  *ScannedDevice `json:"device,omitempty"` // result only
	Results int            `json:"results"`          // cache size at emit time
}

// StateChangeEvent is delivered to the state observer on every lifecycle
// transition.
type StateChangeEvent struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}
