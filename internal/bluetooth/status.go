package bluetooth

// PairingStatus is the externally visible slice of a pairing session. The
// PIN appears only once the session has displayed it.
type PairingStatus struct {
	State   PairingState    `json:"state"`
	Address HardwareAddress `json:"address,omitempty"`
	Name    string          `json:"name,omitempty"`
	PIN     string          `json:"pin,omitempty"`
}

// Status is a point-in-time snapshot of the whole subsystem, assembled for
// the northbound status operation (Architecture §2.4).
type Status struct {
	State       State          `json:"state"`
	Settings    Settings       `json:"settings"`
	Connection  ConnectionInfo `json:"connection"`
	Pairing     PairingStatus  `json:"pairing"`
	PairedCount int            `json:"pairedCount"`
	Scanning    bool           `json:"scanning"`
	ScanResults int            `json:"scanResults"`
	Stats       Stats          `json:"stats"`
}

// Status assembles the snapshot. Cumulative statistics fold in the
// in-progress advertising and connection spans so counters never appear
// to stall while a span is open.
func (c *Controller) Status() Status {
	now := c.clock.Now()

	stats := c.stats
	if !c.advSince.IsZero() {
		stats.AdvertisingMillis += now.Sub(c.advSince).Milliseconds()
	}
	conn := c.conn.Snapshot()
	if conn.Connected {
		stats.ConnectedMillis += now.UnixMilli() - conn.ConnectedAt
		stats.TotalBytesSent += conn.BytesSent
		stats.TotalBytesReceived += conn.BytesReceived
	}

	pairing := PairingStatus{State: c.session.State}
	if c.session.Active() {
		pairing.Address = c.session.Address
		pairing.Name = c.session.Name
		if c.session.PinDisplayed {
			pairing.PIN = c.session.PIN
		}
	}

	return Status{
		State:       c.state,
		Settings:    c.settings,
		Connection:  conn,
		Pairing:     pairing,
		PairedCount: c.registry.Len(),
		Scanning:    c.state == StateScanning,
		ScanResults: c.scan.Len(),
		Stats:       stats,
	}
}
