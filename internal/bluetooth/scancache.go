package bluetooth

import (
	"sort"
)

// ScanCache is the bounded, ephemeral collection of peers observed during
// the current scan window. Observations for a known address update the
// entry in place; a new address at capacity evicts the oldest-by-last-seen
// entry. The cache survives scan stop (results stay readable) and is
// cleared when a new scan starts.
type ScanCache struct {
	devices map[HardwareAddress]*ScannedDevice
}

// NewScanCache creates an empty cache.
func NewScanCache() *ScanCache {
	return &ScanCache{
		devices: make(map[HardwareAddress]*ScannedDevice, MaxScannedDevices),
	}
}

// Observe records one sighting of a peer. The entry's LastSeen must be set
// by the caller from the controller clock.
func (c *ScanCache) Observe(dev ScannedDevice) {
	if dev.Address.IsZero() {
		return
	}
	if len(dev.Name) > MaxDeviceNameLen {
		dev.Name = dev.Name[:MaxDeviceNameLen]
	}

	if existing, ok := c.devices[dev.Address]; ok {
		*existing = dev
		return
	}

	if len(c.devices) >= MaxScannedDevices {
		c.evictOldest()
	}
	stored := dev
	c.devices[dev.Address] = &stored
}

// evictOldest drops the entry with the smallest LastSeen stamp.
func (c *ScanCache) evictOldest() {
	var victim *ScannedDevice
	for _, dev := range c.devices {
		if victim == nil || dev.LastSeen < victim.LastSeen {
			victim = dev
		}
	}
	if victim != nil {
		delete(c.devices, victim.Address)
	}
}

// List returns the observations ordered most-recently-seen first, address
// as tiebreak.
func (c *ScanCache) List() []ScannedDevice {
	devices := make([]ScannedDevice, 0, len(c.devices))
	for _, dev := range c.devices {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].LastSeen != devices[j].LastSeen {
			return devices[i].LastSeen > devices[j].LastSeen
		}
		return devices[i].Address.String() < devices[j].Address.String()
	})
	return devices
}

// Clear empties the cache.
func (c *ScanCache) Clear() {
	c.devices = make(map[HardwareAddress]*ScannedDevice, MaxScannedDevices)
}

// Len returns the number of cached observations.
func (c *ScanCache) Len() int {
	return len(c.devices)
}
