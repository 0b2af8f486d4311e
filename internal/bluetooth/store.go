package bluetooth

import (
	"encoding/json"
	"fmt"
)

// Storage keys within the persisted namespace.
const (
	settingsKey = "settings"
	devicesKey  = "paired-devices"
)

// KV is the narrow persistence contract the typed stores consume.
// Load reports found=false on a missing key without error; Save flushes
// synchronously before returning.
type KV interface {
	Load(key string) (data []byte, found bool, err error)
	Save(key string, data []byte) error
}

// SettingsStore does typed load/save of the Settings record.
type SettingsStore struct {
	kv KV
}

// NewSettingsStore wraps a KV namespace.
func NewSettingsStore(kv KV) *SettingsStore {
	return &SettingsStore{kv: kv}
}

// Load reads the persisted settings. A missing record yields defaults with
// no error; an unreadable or invalid record yields defaults and the error,
// so a corrupt file degrades to factory configuration instead of a crash.
func (s *SettingsStore) Load() (Settings, error) {
	data, found, err := s.kv.Load(settingsKey)
	if err != nil {
		return DefaultSettings(), fmt.Errorf("load settings: %w", err)
	}
	if !found {
		return DefaultSettings(), nil
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return DefaultSettings(), fmt.Errorf("persisted settings invalid: %w", err)
	}
	return settings, nil
}

// Save flushes the settings record.
func (s *SettingsStore) Save(settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Save(settingsKey, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// RegistryStore does typed load/save of the paired-device registry.
type RegistryStore struct {
	kv KV
}

// NewRegistryStore wraps a KV namespace.
func NewRegistryStore(kv KV) *RegistryStore {
	return &RegistryStore{kv: kv}
}

// Load reads the persisted registry entries. Missing record yields an
// empty slice; corrupt record yields an empty slice plus the error.
func (s *RegistryStore) Load() ([]PairedDevice, error) {
	data, found, err := s.kv.Load(devicesKey)
	if err != nil {
		return nil, fmt.Errorf("load paired devices: %w", err)
	}
	if !found {
		return nil, nil
	}

	var devices []PairedDevice
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("decode paired devices: %w", err)
	}
	return devices, nil
}

// Save flushes the full registry contents.
func (s *RegistryStore) Save(devices []PairedDevice) error {
	data, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("encode paired devices: %w", err)
	}
	if err := s.kv.Save(devicesKey, data); err != nil {
		return fmt.Errorf("save paired devices: %w", err)
	}
	return nil
}
