package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/securacv/btctl/internal/bluetooth"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name           string
		inputError     error
		expectedStatus int
		expectedCode   string
		expectedMsg    string
	}{
		{
			name:           "nil error returns OK",
			inputError:     nil,
			expectedStatus: http.StatusOK,
			expectedCode:   "",
			expectedMsg:    "",
		},
		{
			name:           "INVALID_ARGUMENT maps to HTTP 400",
			inputError:     bluetooth.ErrInvalidArgument,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_ARGUMENT",
			expectedMsg:    "Parameter value is malformed or outside the allowed range",
		},
		{
			name:           "INVALID_STATE maps to HTTP 409",
			inputError:     bluetooth.ErrInvalidState,
			expectedStatus: http.StatusConflict,
			expectedCode:   "INVALID_STATE",
			expectedMsg:    "Operation is not valid in the current radio state",
		},
		{
			name:           "NOT_FOUND maps to HTTP 404",
			inputError:     bluetooth.ErrNotFound,
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
			expectedMsg:    "Resource not found",
		},
		{
			name:           "ALREADY_IN_PROGRESS maps to HTTP 409",
			inputError:     bluetooth.ErrAlreadyInProgress,
			expectedStatus: http.StatusConflict,
			expectedCode:   "ALREADY_IN_PROGRESS",
			expectedMsg:    "An equivalent operation is already in progress",
		},
		{
			name:           "NO_ACTIVE_SESSION maps to HTTP 409",
			inputError:     bluetooth.ErrNoActiveSession,
			expectedStatus: http.StatusConflict,
			expectedCode:   "NO_ACTIVE_SESSION",
			expectedMsg:    "No pairing session is active",
		},
		{
			name:           "INVALID_CREDENTIAL maps to HTTP 403",
			inputError:     bluetooth.ErrInvalidCredential,
			expectedStatus: http.StatusForbidden,
			expectedCode:   "INVALID_CREDENTIAL",
			expectedMsg:    "Pairing credential did not match",
		},
		{
			name:           "CAPACITY_EXCEEDED maps to HTTP 409",
			inputError:     bluetooth.ErrCapacityExceeded,
			expectedStatus: http.StatusConflict,
			expectedCode:   "CAPACITY_EXCEEDED",
			expectedMsg:    "Paired device registry is full",
		},
		{
			name:           "UNAVAILABLE maps to HTTP 503",
			inputError:     bluetooth.ErrUnavailable,
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "UNAVAILABLE",
			expectedMsg:    "Service is temporarily unavailable",
		},
		{
			name:           "FATAL maps to HTTP 500",
			inputError:     bluetooth.ErrFatal,
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "FATAL",
			expectedMsg:    "Radio stack failed; re-enable to recover",
		},
		{
			name:           "wrapped error keeps the detail text",
			inputError:     fmt.Errorf("%w: cannot scan while advertising", bluetooth.ErrInvalidState),
			expectedStatus: http.StatusConflict,
			expectedCode:   "INVALID_STATE",
			expectedMsg:    "cannot scan while advertising",
		},
		{
			name:           "unknown error maps to HTTP 500",
			inputError:     errors.New("unknown error"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL",
			expectedMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToAPIError(tt.inputError)

			if status != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, status)
			}

			if tt.inputError == nil {
				if body != nil {
					t.Errorf("Expected nil body for nil error, got %v", body)
				}
				return
			}

			var response map[string]interface{}
			if err := json.Unmarshal(body, &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}

			if response["result"] != "error" {
				t.Errorf("Expected result 'error', got %v", response["result"])
			}

			if response["code"] != tt.expectedCode {
				t.Errorf("Expected code %q, got %q", tt.expectedCode, response["code"])
			}

			if response["message"] != tt.expectedMsg {
				t.Errorf("Expected message %q, got %q", tt.expectedMsg, response["message"])
			}

			if response["correlationId"] == nil || response["correlationId"] == "" {
				t.Errorf("Expected correlationId to be present")
			}
		})
	}
}

func TestToAPIErrorPreservesUnknownDetail(t *testing.T) {
	status, body := ToAPIError(errors.New("dbus: connection refused"))

	if status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	details, ok := response["details"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected details object, got %v", response["details"])
	}
	if details["original"] != "dbus: connection refused" {
		t.Errorf("Expected original error in details, got %v", details["original"])
	}
}

func TestToAPIErrorWithAPIError(t *testing.T) {
	apiErr := &APIError{
		Code:       "CUSTOM_ERROR",
		Message:    "Custom error message",
		StatusCode: http.StatusTeapot,
		Details:    map[string]interface{}{"custom": "details"},
	}

	status, body := ToAPIError(apiErr)

	if status != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, status)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response["code"] != "CUSTOM_ERROR" {
		t.Errorf("Expected code CUSTOM_ERROR, got %v", response["code"])
	}

	if response["message"] != "Custom error message" {
		t.Errorf("Expected message 'Custom error message', got %v", response["message"])
	}
}

func TestMarshalErrorResponse(t *testing.T) {
	response := marshalErrorResponse("TEST_ERROR", "Test message", map[string]interface{}{"key": "value"})

	var parsed map[string]interface{}
	if err := json.Unmarshal(response, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	expectedFields := []string{"result", "code", "message", "details", "correlationId"}
	for _, field := range expectedFields {
		if parsed[field] == nil {
			t.Errorf("Expected field %q to be present", field)
		}
	}

	if parsed["result"] != "error" {
		t.Errorf("Expected result 'error', got %v", parsed["result"])
	}

	if parsed["code"] != "TEST_ERROR" {
		t.Errorf("Expected code 'TEST_ERROR', got %v", parsed["code"])
	}

	correlationID, ok := parsed["correlationId"].(string)
	if !ok || correlationID == "" {
		t.Errorf("Expected correlationId to be non-empty string, got %v", parsed["correlationId"])
	}
}

func TestNewAPIError(t *testing.T) {
	details := map[string]interface{}{"test": true}
	apiErr := NewAPIError("TEST_CODE", "Test message", http.StatusBadRequest, details)

	if apiErr.Code != "TEST_CODE" {
		t.Errorf("Expected code 'TEST_CODE', got %q", apiErr.Code)
	}

	if apiErr.Message != "Test message" {
		t.Errorf("Expected message 'Test message', got %q", apiErr.Message)
	}

	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, apiErr.StatusCode)
	}

	expectedErrorMsg := "TEST_CODE: Test message"
	if apiErr.Error() != expectedErrorMsg {
		t.Errorf("Expected error message %q, got %q", expectedErrorMsg, apiErr.Error())
	}
}

func TestErrorResponseJSONSchema(t *testing.T) {
	_, body := ToAPIError(bluetooth.ErrInvalidArgument)

	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	requiredFields := map[string]string{
		"result":        "error",
		"code":          "INVALID_ARGUMENT",
		"message":       "Parameter value is malformed or outside the allowed range",
		"correlationId": "", // just check it exists
	}

	for field, expectedValue := range requiredFields {
		actualValue, exists := response[field]
		if !exists {
			t.Errorf("Required field %q missing from response", field)
			continue
		}

		if expectedValue != "" && actualValue != expectedValue {
			t.Errorf("Field %q: expected %q, got %v", field, expectedValue, actualValue)
		}
	}
}
