package bluetooth

import (
	"fmt"
	"sort"
	"time"
)

// PairedRegistry is the bounded collection of peers that ever completed a
// pairing, keyed by address. Capacity is MaxPairedDevices; inserts at
// capacity evict the least-recently-connected entry that is not trusted.
// The registry itself is pure in-memory state — the controller persists it
// through a RegistryStore after each accepted mutation.
type PairedRegistry struct {
	devices map[HardwareAddress]*PairedDevice
}

// NewPairedRegistry creates an empty registry.
func NewPairedRegistry() *PairedRegistry {
	return &PairedRegistry{
		devices: make(map[HardwareAddress]*PairedDevice, MaxPairedDevices),
	}
}

// Load replaces the registry contents with persisted entries. Duplicate
// addresses keep the newest record; entries beyond capacity are dropped
// oldest-pairing-first so a hand-edited or corrupt file cannot overfill
// the arena.
func (r *PairedRegistry) Load(devices []PairedDevice) {
	byAge := make([]PairedDevice, len(devices))
	copy(byAge, devices)
	sort.SliceStable(byAge, func(i, j int) bool {
		return byAge[i].PairedAt > byAge[j].PairedAt
	})

	r.devices = make(map[HardwareAddress]*PairedDevice, MaxPairedDevices)
	for i := range byAge {
		if len(r.devices) >= MaxPairedDevices {
			break
		}
		dev := byAge[i]
		if dev.Address.IsZero() {
			continue
		}
		if _, exists := r.devices[dev.Address]; exists {
			continue
		}
		if len(dev.Name) > MaxDeviceNameLen {
			dev.Name = dev.Name[:MaxDeviceNameLen]
		}
		r.devices[dev.Address] = &dev
	}
}

// RecordPairing inserts or refreshes the entry for a freshly paired peer.
// An existing entry keeps its paired timestamp, connect count, and flags,
// updating name, security, and last-connected. A new entry at capacity
// evicts the least-recently-connected non-trusted entry; if every entry is
// trusted the insert fails with CAPACITY_EXCEEDED and membership is
// unchanged.
func (r *PairedRegistry) RecordPairing(addr HardwareAddress, name string, security SecurityLevel, now time.Time) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	if len(name) > MaxDeviceNameLen {
		name = name[:MaxDeviceNameLen]
	}

	if existing, ok := r.devices[addr]; ok {
		existing.Name = name
		existing.Security = security
		existing.LastConnected = now.UnixMilli()
		return nil
	}

	if len(r.devices) >= MaxPairedDevices {
		victim := r.evictionCandidate()
		if victim == nil {
			return fmt.Errorf("%w: all %d paired slots are trusted", ErrCapacityExceeded, MaxPairedDevices)
		}
		delete(r.devices, victim.Address)
	}

	r.devices[addr] = &PairedDevice{
		Address:       addr,
		Name:          name,
		PairedAt:      now.Unix(),
		LastConnected: now.UnixMilli(),
		Security:      security,
	}
	return nil
}

// evictionCandidate returns the least-recently-connected non-trusted
// entry, or nil when every entry is trusted.
func (r *PairedRegistry) evictionCandidate() *PairedDevice {
	var victim *PairedDevice
	for _, dev := range r.devices {
		if dev.Trusted {
			continue
		}
		if victim == nil || dev.LastConnected < victim.LastConnected {
			victim = dev
		}
	}
	return victim
}

// NoteConnected bumps the connect count and last-connected stamp for a
// known peer; it reports whether the peer was present.
func (r *PairedRegistry) NoteConnected(addr HardwareAddress, now time.Time) bool {
	dev, ok := r.devices[addr]
	if !ok {
		return false
	}
	dev.ConnectCount++
	dev.LastConnected = now.UnixMilli()
	return true
}

// Remove deletes the entry for addr.
func (r *PairedRegistry) Remove(addr HardwareAddress) error {
	if _, ok := r.devices[addr]; !ok {
		return fmt.Errorf("%w: %s is not paired", ErrNotFound, addr)
	}
	delete(r.devices, addr)
	return nil
}

// ClearAll empties the registry unconditionally.
func (r *PairedRegistry) ClearAll() {
	r.devices = make(map[HardwareAddress]*PairedDevice, MaxPairedDevices)
}

// SetTrusted sets the trusted flag; re-applying the current value is a
// no-op success.
func (r *PairedRegistry) SetTrusted(addr HardwareAddress, trusted bool) error {
	dev, ok := r.devices[addr]
	if !ok {
		return fmt.Errorf("%w: %s is not paired", ErrNotFound, addr)
	}
	dev.Trusted = trusted
	return nil
}

// SetBlocked sets the blocked flag; re-applying the current value is a
// no-op success.
func (r *PairedRegistry) SetBlocked(addr HardwareAddress, blocked bool) error {
	dev, ok := r.devices[addr]
	if !ok {
		return fmt.Errorf("%w: %s is not paired", ErrNotFound, addr)
	}
	dev.Blocked = blocked
	return nil
}

// Get returns a copy of the entry for addr.
func (r *PairedRegistry) Get(addr HardwareAddress) (PairedDevice, bool) {
	dev, ok := r.devices[addr]
	if !ok {
		return PairedDevice{}, false
	}
	return *dev, true
}

// IsBlocked reports whether addr is a known peer with the blocked flag set.
func (r *PairedRegistry) IsBlocked(addr HardwareAddress) bool {
	dev, ok := r.devices[addr]
	return ok && dev.Blocked
}

// List returns the entries ordered oldest pairing first, address as
// tiebreak, so northbound listings are stable across calls.
func (r *PairedRegistry) List() []PairedDevice {
	devices := make([]PairedDevice, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].PairedAt != devices[j].PairedAt {
			return devices[i].PairedAt < devices[j].PairedAt
		}
		return devices[i].Address.String() < devices[j].Address.String()
	})
	return devices
}

// Len returns the number of paired entries.
func (r *PairedRegistry) Len() int {
	return len(r.devices)
}
