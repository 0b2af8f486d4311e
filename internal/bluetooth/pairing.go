package bluetooth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// PairingSession holds the single in-flight pairing negotiation. At most
// one session is live; the controller rejects a second start while one is
// active and resets the session on completion, failure, cancellation, or
// timeout.
type PairingSession struct {
	State        PairingState
	Address      HardwareAddress
	Name         string
	PIN          string
	StartedAt    int64 // unix milliseconds
	PinDisplayed bool
	Confirmed    bool
}

// NewPairingSession returns an inactive session.
func NewPairingSession() *PairingSession {
	return &PairingSession{State: PairingNone}
}

// Active reports whether a negotiation is in flight. Complete and failed
// sessions count as inactive — the controller resets them to none in the
// same step that produced the terminal state.
func (s *PairingSession) Active() bool {
	switch s.State {
	case PairingInitiated, PairingPinDisplayed, PairingConfirming:
		return true
	default:
		return false
	}
}

// Start arms a fresh session with the given PIN.
func (s *PairingSession) Start(pin string, now time.Time) {
	*s = PairingSession{
		State:     PairingInitiated,
		PIN:       pin,
		StartedAt: now.UnixMilli(),
	}
}

// AssociatePeer binds the remote peer to the session once the stack
// reports it. A stack-negotiated passkey replaces the locally generated
// PIN so the operator confirms the code the peer actually displays.
func (s *PairingSession) AssociatePeer(addr HardwareAddress, name string, passkey string) {
	s.Address = addr
	if name != "" {
		s.Name = name
	}
	if passkey != "" {
		s.PIN = passkey
	}
}

// MarkPinDisplayed transitions to pinDisplayed.
func (s *PairingSession) MarkPinDisplayed() {
	s.State = PairingPinDisplayed
	s.PinDisplayed = true
}

// BeginConfirming transitions to confirming, awaiting the local operator.
func (s *PairingSession) BeginConfirming() {
	s.State = PairingConfirming
}

// Matches reports whether the submitted PIN equals the session PIN.
func (s *PairingSession) Matches(pin string) bool {
	return s.PIN != "" && s.PIN == pin
}

// Complete marks the terminal success state.
func (s *PairingSession) Complete() {
	s.State = PairingComplete
	s.Confirmed = true
}

// Fail marks the terminal failure state.
func (s *PairingSession) Fail() {
	s.State = PairingFailed
}

// Reset returns the session to none, dropping all peer material.
func (s *PairingSession) Reset() {
	*s = PairingSession{State: PairingNone}
}

// Expired reports whether the session passed the pairing timeout without
// reaching a terminal state. Only the tick consults this (BT-TIMING §3).
func (s *PairingSession) Expired(now time.Time, timeout time.Duration) bool {
	if !s.Active() {
		return false
	}
	return now.UnixMilli()-s.StartedAt >= timeout.Milliseconds()
}

// NewPIN generates a 6-digit pairing code in 100000..999999 from the
// system CSPRNG.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate pairing pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
