package bluetooth

import (
	"time"
)

// ConnectionTracker models the single-slot active connection. Populating
// an occupied slot is a programming error the controller never commits:
// the radio stack is peripheral-role with one link.
type ConnectionTracker struct {
	info ConnectionInfo
}

// NewConnectionTracker returns an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{}
}

// Active reports whether a peer link occupies the slot.
func (t *ConnectionTracker) Active() bool {
	return t.info.Connected
}

// Peer returns the connected peer address, zero when idle.
func (t *ConnectionTracker) Peer() HardwareAddress {
	return t.info.Address
}

// Establish populates the slot. The caller supplies the link info; a zero
// ConnectedAt is stamped from now, and LastActivity always restarts at now
// so the inactivity window opens fresh.
func (t *ConnectionTracker) Establish(info ConnectionInfo, now time.Time) {
	info.Connected = true
	if info.ConnectedAt == 0 {
		info.ConnectedAt = now.UnixMilli()
	}
	info.LastActivity = now.UnixMilli()
	t.info = info
}

// Touch records peer traffic, bumping byte counters and the activity stamp.
func (t *ConnectionTracker) Touch(bytesSent, bytesReceived uint64, now time.Time) {
	if !t.info.Connected {
		return
	}
	t.info.BytesSent += bytesSent
	t.info.BytesReceived += bytesReceived
	t.info.LastActivity = now.UnixMilli()
}

// IdleFor returns how long the link has been without activity.
func (t *ConnectionTracker) IdleFor(now time.Time) time.Duration {
	if !t.info.Connected {
		return 0
	}
	return time.Duration(now.UnixMilli()-t.info.LastActivity) * time.Millisecond
}

// Clear empties the slot and returns the final link info so the caller can
// fold byte counters and the connected span into cumulative statistics.
func (t *ConnectionTracker) Clear() ConnectionInfo {
	final := t.info
	t.info = ConnectionInfo{}
	return final
}

// Snapshot returns a copy of the current link info.
func (t *ConnectionTracker) Snapshot() ConnectionInfo {
	return t.info
}
