package bluetooth

import (
	"fmt"
	"time"
)

// Settings is the persisted radio configuration record. It is read at
// startup and flushed as a whole on every accepted mutation.
type Settings struct {
	Enabled             bool   `json:"enabled"`
	AutoAdvertise       bool   `json:"autoAdvertise"`
	AllowPairing        bool   `json:"allowPairing"`
	RequirePIN          bool   `json:"requirePin"`
	DeviceName          string `json:"deviceName"`
	TxPowerDbm          int    `json:"txPowerDbm"`
	InactivityTimeoutMs int64  `json:"inactivityTimeoutMs"` // 0 disables auto-disconnect
	NotifyOnConnect     bool   `json:"notifyOnConnect"`
}

// DefaultSettings returns the factory configuration used on first boot or
// when the persisted record is unreadable.
func DefaultSettings() Settings {
	return Settings{
		Enabled:             false,
		AutoAdvertise:       true,
		AllowPairing:        true,
		RequirePIN:          true,
		DeviceName:          "SecuraCV-Canary",
		TxPowerDbm:          3,
		InactivityTimeoutMs: DefaultInactivityTimeout.Milliseconds(),
		NotifyOnConnect:     true,
	}
}

// Validate checks the record bounds.
func (s Settings) Validate() error {
	if s.DeviceName == "" {
		return fmt.Errorf("%w: device name must not be empty", ErrInvalidArgument)
	}
	if len(s.DeviceName) > MaxDeviceNameLen {
		return fmt.Errorf("%w: device name exceeds %d bytes", ErrInvalidArgument, MaxDeviceNameLen)
	}
	if s.TxPowerDbm < TxPowerMinDbm || s.TxPowerDbm > TxPowerMaxDbm {
		return fmt.Errorf("%w: tx power %d dBm outside %d..%d", ErrInvalidArgument, s.TxPowerDbm, TxPowerMinDbm, TxPowerMaxDbm)
	}
	if s.InactivityTimeoutMs < 0 {
		return fmt.Errorf("%w: inactivity timeout must not be negative", ErrInvalidArgument)
	}
	return nil
}

// InactivityTimeout returns the idle auto-disconnect window as a Duration;
// zero means the timer is disabled.
func (s Settings) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityTimeoutMs) * time.Millisecond
}
