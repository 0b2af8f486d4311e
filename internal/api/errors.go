package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/securacv/btctl/internal/bluetooth"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError converts an error to an HTTP status code and JSON error
// body. Controller errors carry their normalized code as a sentinel
// (Architecture §4); anything unrecognized reports INTERNAL with the
// original message preserved in details.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	code := bluetooth.ErrorCode(err)

	message := messageForError(code, err)
	var details interface{}
	if code == "INTERNAL" {
		// Unrecognized errors stay generic; the raw text travels in details.
		message = summaryForCode(code)
		details = map[string]interface{}{"original": err.Error()}
	}

	return statusForCode(code), marshalErrorResponse(code, message, details)
}

// statusForCode maps a normalized error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest
	case "INVALID_CREDENTIAL":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_STATE", "ALREADY_IN_PROGRESS", "NO_ACTIVE_SESSION", "CAPACITY_EXCEEDED":
		return http.StatusConflict
	case "UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageForError extracts the human detail from a wrapped controller
// error ("CODE: detail"), falling back to a generic summary when the
// error is a bare sentinel.
func messageForError(code string, err error) string {
	msg := strings.TrimPrefix(err.Error(), code+": ")
	if msg == "" || msg == code {
		return summaryForCode(code)
	}
	return msg
}

func summaryForCode(code string) string {
	switch code {
	case "INVALID_ARGUMENT":
		return "Parameter value is malformed or outside the allowed range"
	case "INVALID_STATE":
		return "Operation is not valid in the current radio state"
	case "NOT_FOUND":
		return "Resource not found"
	case "ALREADY_IN_PROGRESS":
		return "An equivalent operation is already in progress"
	case "NO_ACTIVE_SESSION":
		return "No pairing session is active"
	case "INVALID_CREDENTIAL":
		return "Pairing credential did not match"
	case "CAPACITY_EXCEEDED":
		return "Paired device registry is full"
	case "UNAVAILABLE":
		return "Service is temporarily unavailable"
	case "FATAL":
		return "Radio stack failed; re-enable to recover"
	default:
		return "Internal server error"
	}
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details interface{}) []byte {
	response := Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: generateCorrelationID(),
	}

	jsonBytes, err := json.Marshal(response)
	if err != nil {
		fallback := map[string]interface{}{
			"result":        "error",
			"code":          "INTERNAL",
			"message":       "Failed to marshal error response",
			"correlationId": generateCorrelationID(),
		}
		jsonBytes, _ := json.Marshal(fallback)
		return jsonBytes
	}

	return jsonBytes
}
