package bluetooth

import (
	"fmt"
	"testing"
)

func TestScanCacheObserveAndUpdate(t *testing.T) {
	c := NewScanCache()
	addr := testAddr(1)

	c.Observe(ScannedDevice{Address: addr, Name: "peer", RSSI: -70, LastSeen: 100})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}

	// A second sighting updates in place rather than adding an entry.
	c.Observe(ScannedDevice{Address: addr, Name: "peer", RSSI: -55, LastSeen: 200})
	if c.Len() != 1 {
		t.Errorf("Len() = %d after re-observation, want 1", c.Len())
	}
	list := c.List()
	if list[0].RSSI != -55 || list[0].LastSeen != 200 {
		t.Errorf("Entry not updated in place: RSSI=%d LastSeen=%d", list[0].RSSI, list[0].LastSeen)
	}
}

func TestScanCacheIgnoresZeroAddress(t *testing.T) {
	c := NewScanCache()
	c.Observe(ScannedDevice{Name: "ghost", LastSeen: 100})
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for zero-address observation", c.Len())
	}
}

func TestScanCacheEvictsOldest(t *testing.T) {
	c := NewScanCache()

	// Fill to capacity; entry 0 is the oldest sighting.
	for i := 0; i < MaxScannedDevices; i++ {
		c.Observe(ScannedDevice{
			Address:  testAddr(i),
			Name:     fmt.Sprintf("peer-%d", i),
			LastSeen: int64(100 + i),
		})
	}

	c.Observe(ScannedDevice{Address: testAddr(99), Name: "newcomer", LastSeen: 9999})

	if c.Len() != MaxScannedDevices {
		t.Errorf("Len() = %d, want capacity %d", c.Len(), MaxScannedDevices)
	}
	for _, dev := range c.List() {
		if dev.Address == testAddr(0) {
			t.Error("Oldest entry should be evicted at capacity")
		}
	}
}

func TestScanCacheListOrdering(t *testing.T) {
	c := NewScanCache()
	c.Observe(ScannedDevice{Address: testAddr(1), LastSeen: 100})
	c.Observe(ScannedDevice{Address: testAddr(2), LastSeen: 300})
	c.Observe(ScannedDevice{Address: testAddr(3), LastSeen: 200})

	list := c.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(list))
	}
	if list[0].LastSeen != 300 || list[1].LastSeen != 200 || list[2].LastSeen != 100 {
		t.Errorf("List() not ordered most-recent first: %d, %d, %d",
			list[0].LastSeen, list[1].LastSeen, list[2].LastSeen)
	}
}

func TestScanCacheClear(t *testing.T) {
	c := NewScanCache()
	c.Observe(ScannedDevice{Address: testAddr(1), LastSeen: 100})
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
}
