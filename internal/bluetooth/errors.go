package bluetooth

import "errors"

// Normalized controller errors per Architecture §4. API handlers map these
// to HTTP responses with errors.Is; details travel in the wrapped message.
var (
	// ErrInvalidState rejects an operation not valid in the current
	// lifecycle or pairing state.
	ErrInvalidState = errors.New("INVALID_STATE")

	// ErrInvalidArgument rejects a malformed address, out-of-range transmit
	// power, or empty device name.
	ErrInvalidArgument = errors.New("INVALID_ARGUMENT")

	// ErrNotFound reports an address absent from the paired registry.
	ErrNotFound = errors.New("NOT_FOUND")

	// ErrAlreadyInProgress rejects a duplicate start of pairing or scan.
	ErrAlreadyInProgress = errors.New("ALREADY_IN_PROGRESS")

	// ErrNoActiveSession rejects a pairing reject with nothing active.
	ErrNoActiveSession = errors.New("NO_ACTIVE_SESSION")

	// ErrInvalidCredential reports a wrong pairing PIN.
	ErrInvalidCredential = errors.New("INVALID_CREDENTIAL")

	// ErrCapacityExceeded reports a paired registry full of trusted entries.
	ErrCapacityExceeded = errors.New("CAPACITY_EXCEEDED")

	// ErrUnavailable rejects an operation the radio or settings disallow.
	ErrUnavailable = errors.New("UNAVAILABLE")

	// ErrFatal reports an unrecoverable stack failure; the controller is in
	// the error state and accepts only Disable or Enable.
	ErrFatal = errors.New("FATAL")
)

// ErrorCode reduces an error to its normalized code for audit records and
// API error bodies. Unrecognized errors report INTERNAL.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyInProgress):
		return "ALREADY_IN_PROGRESS"
	case errors.Is(err, ErrNoActiveSession):
		return "NO_ACTIVE_SESSION"
	case errors.Is(err, ErrInvalidCredential):
		return "INVALID_CREDENTIAL"
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, ErrFatal):
		return "FATAL"
	default:
		return "INTERNAL"
	}
}
