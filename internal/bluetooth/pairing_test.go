package bluetooth

import (
	"testing"
	"time"
)

func TestPairingSessionLifecycle(t *testing.T) {
	s := NewPairingSession()
	now := time.UnixMilli(1_000_000)

	if s.Active() {
		t.Error("Fresh session should not be active")
	}

	s.Start("123456", now)
	if s.State != PairingInitiated {
		t.Errorf("State = %s after Start, want initiated", s.State)
	}
	if !s.Active() {
		t.Error("Started session should be active")
	}

	addr := testAddr(1)
	s.AssociatePeer(addr, "Dave's iPhone", "")
	if s.Address != addr || s.Name != "Dave's iPhone" {
		t.Errorf("Peer not associated: %s %q", s.Address, s.Name)
	}
	if s.PIN != "123456" {
		t.Error("Empty passkey must keep the generated PIN")
	}

	s.MarkPinDisplayed()
	if s.State != PairingPinDisplayed || !s.PinDisplayed {
		t.Errorf("State = %s PinDisplayed=%v, want pinDisplayed/true", s.State, s.PinDisplayed)
	}

	s.BeginConfirming()
	if s.State != PairingConfirming {
		t.Errorf("State = %s, want confirming", s.State)
	}

	if !s.Matches("123456") {
		t.Error("Matching PIN rejected")
	}
	if s.Matches("654321") {
		t.Error("Wrong PIN accepted")
	}
	if s.Matches("") {
		t.Error("Empty PIN accepted")
	}

	s.Complete()
	if s.State != PairingComplete || !s.Confirmed {
		t.Errorf("State = %s Confirmed=%v, want complete/true", s.State, s.Confirmed)
	}
	if s.Active() {
		t.Error("Complete session should not count as active")
	}

	s.Reset()
	if s.State != PairingNone || s.PIN != "" || !s.Address.IsZero() {
		t.Error("Reset should drop all session material")
	}
}

func TestPairingSessionPasskeyReplacesPIN(t *testing.T) {
	s := NewPairingSession()
	s.Start("123456", time.UnixMilli(1_000_000))

	// The stack negotiated its own passkey; the operator must confirm the
	// code the peer actually displays.
	s.AssociatePeer(testAddr(1), "peer", "777888")
	if s.PIN != "777888" {
		t.Errorf("PIN = %q, want stack passkey", s.PIN)
	}
}

func TestPairingSessionFail(t *testing.T) {
	s := NewPairingSession()
	s.Start("123456", time.UnixMilli(1_000_000))
	s.Fail()
	if s.State != PairingFailed {
		t.Errorf("State = %s, want failed", s.State)
	}
	if s.Active() {
		t.Error("Failed session should not count as active")
	}
}

func TestPairingSessionExpired(t *testing.T) {
	s := NewPairingSession()
	start := time.UnixMilli(1_000_000)

	if s.Expired(start.Add(time.Hour), PairingTimeout) {
		t.Error("Inactive session should never report expired")
	}

	s.Start("123456", start)
	if s.Expired(start.Add(PairingTimeout-time.Second), PairingTimeout) {
		t.Error("Session expired before the timeout elapsed")
	}
	if !s.Expired(start.Add(PairingTimeout), PairingTimeout) {
		t.Error("Session should expire at the timeout boundary")
	}

	s.Complete()
	if s.Expired(start.Add(time.Hour), PairingTimeout) {
		t.Error("Terminal session should not report expired")
	}
}

func TestNewPIN(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		pin, err := NewPIN()
		if err != nil {
			t.Fatalf("NewPIN() failed: %v", err)
		}
		if len(pin) != 6 {
			t.Fatalf("PIN %q is not 6 digits", pin)
		}
		for _, ch := range pin {
			if ch < '0' || ch > '9' {
				t.Fatalf("PIN %q contains non-digit", pin)
			}
		}
		if pin[0] == '0' {
			t.Fatalf("PIN %q outside 100000..999999", pin)
		}
		seen[pin] = true
	}
	// 50 draws from 900000 values colliding into one PIN would mean a
	// broken generator.
	if len(seen) == 1 {
		t.Error("NewPIN() returned the same value 50 times")
	}
}
