package fixtures

import "net/http"

// ErrorScenario is one standardized failure condition: the driver
// simulation that induces it and the normalized code and HTTP status the
// northbound surface must report.
type ErrorScenario struct {
	Name        string
	Simulation  string // fake stack error simulation type
	Code        string // normalized code in the response envelope
	HTTPStatus  int
	Description string
}

// BusyDriver returns the scenario where the driver reports BUSY; the
// controller folds it into UNAVAILABLE without a state change.
func BusyDriver() ErrorScenario {
	return ErrorScenario{
		Name:        "Driver Busy",
		Simulation:  "BUSY",
		Code:        "UNAVAILABLE",
		HTTPStatus:  http.StatusServiceUnavailable,
		Description: "Driver busy with another operation",
	}
}

// UnavailableDriver returns the scenario where the adapter is not ready.
func UnavailableDriver() ErrorScenario {
	return ErrorScenario{
		Name:        "Driver Unavailable",
		Simulation:  "UNAVAILABLE",
		Code:        "UNAVAILABLE",
		HTTPStatus:  http.StatusServiceUnavailable,
		Description: "Adapter not ready or powered",
	}
}

// FatalDriver returns the scenario where the driver fails unrecoverably;
// the controller enters the error state and the command reports FATAL.
func FatalDriver() ErrorScenario {
	return ErrorScenario{
		Name:        "Driver Fatal",
		Simulation:  "INTERNAL",
		Code:        "FATAL",
		HTTPStatus:  http.StatusInternalServerError,
		Description: "Unrecoverable stack failure",
	}
}

// ErrorMapping returns the normalized code to HTTP status table the API
// layer must implement.
func ErrorMapping() map[string]int {
	return map[string]int{
		"INVALID_ARGUMENT":    http.StatusBadRequest,
		"INVALID_CREDENTIAL":  http.StatusForbidden,
		"NOT_FOUND":           http.StatusNotFound,
		"INVALID_STATE":       http.StatusConflict,
		"ALREADY_IN_PROGRESS": http.StatusConflict,
		"NO_ACTIVE_SESSION":   http.StatusConflict,
		"CAPACITY_EXCEEDED":   http.StatusConflict,
		"UNAVAILABLE":         http.StatusServiceUnavailable,
		"FATAL":               http.StatusInternalServerError,
		"INTERNAL":            http.StatusInternalServerError,
	}
}
