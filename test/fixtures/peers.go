// Package fixtures provides standardized test data shared by the
// integration and end-to-end suites: peer sets, error scenarios, and
// telemetry event sequences.
package fixtures

import (
	"github.com/securacv/btctl/internal/adapter"
	"github.com/securacv/btctl/internal/bluetooth"
)

// Well-known peer addresses used across suites.
const (
	PhoneAddress  = "AA:BB:CC:DD:EE:01"
	BadgeAddress  = "AA:BB:CC:DD:EE:02"
	WatchAddress  = "AA:BB:CC:DD:EE:03"
	UnknownTarget = "AA:BB:CC:DD:EE:99"
)

// DiscoverablePeers returns the standard scan script: one phone by GAP
// appearance, one SecuraCV peer by service UUID, one watch by name.
func DiscoverablePeers() []adapter.PeerDiscoveredEvent {
	return []adapter.PeerDiscoveredEvent{
		{Address: PhoneAddress, Name: "Pixel 9", RSSI: -48, Appearance: 0x0040, Connectable: true},
		{Address: BadgeAddress, Name: "SCV-Badge", RSSI: -60, Connectable: true, ServiceUUIDs: []string{bluetooth.ServiceUUID}},
		{Address: WatchAddress, Name: "Fitbit Versa", RSSI: -72, Connectable: true},
	}
}

// CrowdedPeers returns more peers than the scan result cap holds, RSSI
// descending, for eviction tests.
func CrowdedPeers(count int) []adapter.PeerDiscoveredEvent {
	peers := make([]adapter.PeerDiscoveredEvent, count)
	for i := range peers {
		peers[i] = adapter.PeerDiscoveredEvent{
			Address:     crowdAddress(i),
			Name:        "Crowd Device",
			RSSI:        -40 - i,
			Connectable: true,
		}
	}
	return peers
}

func crowdAddress(i int) string {
	const hex = "0123456789ABCDEF"
	return "CC:00:00:00:00:" + string(hex[(i>>4)&0xF]) + string(hex[i&0xF])
}
