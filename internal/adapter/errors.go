// Package adapter defines the IRadioStack interface from Architecture §3.
//
//   - Architecture §4: "Normalized error codes: INVALID_RANGE, BUSY, UNAVAILABLE, INTERNAL"
//   - Architecture §4.1: "Deterministic mapping with diagnostic preservation"
//
// This package provides table-driven error mapping to normalize driver-specific
// error messages to standardized daemon error codes without heuristics.
package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized stack errors per Architecture §4
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrInternal     = errors.New("INTERNAL")
)

// DriverMap defines the error token mapping for a specific driver.
type DriverMap struct {
	Range       []string // Tokens that map to INVALID_RANGE
	Busy        []string // Tokens that map to BUSY
	Unavailable []string // Tokens that map to UNAVAILABLE
}

// DriverErrorMappings contains the deterministic error mapping tables for all drivers.
//
// BlueZ tokens are D-Bus error names (org.bluez.Error.*) with the prefix
// stripped by Contains matching; the org.freedesktop.DBus.Error.* transport
// failures land in Unavailable.
//
// How to Extend Safely:
//  1. Add new driver entries to this map with specific token arrays
//  2. Test each token → exact normalized error mapping
//  3. Unknown tokens automatically map to INTERNAL
//  4. Use NormalizeDriverErrorWithDriver(driverErr, payload, "driverID") for specific drivers
//  5. Fallback to "generic" mapping for unknown drivers
var DriverErrorMappings = map[string]DriverMap{
	"bluez": {
		Range: []string{
			"INVALIDARGUMENTS",
			"INVALIDVALUELENGTH",
			"INVALIDARGS",
			"OUT_OF_RANGE",
		},
		Busy: []string{
			"INPROGRESS",
			"BUSY",
			"ALREADYEXISTS",
			"LIMITREACHED",
			"NOTPERMITTED",
		},
		Unavailable: []string{
			"NOTREADY",
			"NOTPOWERED",
			"NOSUCHADAPTER",
			"NOTAVAILABLE",
			"NOTCONNECTED",
			"UNKNOWNOBJECT",
			"SERVICEUNKNOWN",
			"NOREPLY",
			"DISCONNECTED",
		},
	},
	"generic": {
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"INVALID_RANGE",
			"BAD_VALUE",
			"RANGE_ERROR",
		},
		Busy: []string{
			"BUSY",
			"RETRY",
			"RATE_LIMIT",
			"TOO_MANY_REQUESTS",
			"BACKOFF",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"POWERED_OFF",
			"OFFLINE",
			"NOT_READY",
			"NO_ADAPTER",
		},
	},
}

// StackError wraps a driver error with diagnostic details per Architecture §4.1
type StackError struct {
	Code     error       // Normalized daemon code
	Original error       // Driver error
	Details  interface{} // Driver payload (opaque)
}

func (e *StackError) Error() string {
	return fmt.Sprintf("%v (driver: %v)", e.Code, e.Original)
}

func (e *StackError) Unwrap() error {
	return e.Code
}

// NormalizeDriverError maps driver errors to Architecture §4 codes using table-driven matching.
func NormalizeDriverError(driverErr error, driverPayload interface{}) error {
	return NormalizeDriverErrorWithDriver(driverErr, driverPayload, "generic")
}

// NormalizeDriverErrorWithDriver maps driver errors using specific driver mapping tables.
func NormalizeDriverErrorWithDriver(driverErr error, driverPayload interface{}, driverID string) error {
	if driverErr == nil {
		return nil
	}

	msg := driverErr.Error()
	code := mapDriverErrorToCode(msg, driverID)

	return &StackError{
		Code:     code,
		Original: driverErr,
		Details:  driverPayload,
	}
}

// mapDriverErrorToCode maps a driver error message to a normalized error code using table-driven matching.
func mapDriverErrorToCode(msg string, driverID string) error {
	// Get driver mapping, fallback to generic if driver not found
	driverMap, exists := DriverErrorMappings[driverID]
	if !exists {
		driverMap = DriverErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	// Check for exact token matches in each category
	for _, token := range driverMap.Range {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrInvalidRange
		}
	}

	for _, token := range driverMap.Busy {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrBusy
		}
	}

	for _, token := range driverMap.Unavailable {
		if strings.Contains(upperMsg, strings.ToUpper(token)) {
			return ErrUnavailable
		}
	}

	// Unknown token maps to INTERNAL
	return ErrInternal
}
