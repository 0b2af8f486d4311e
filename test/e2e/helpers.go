// Package e2e exercises the daemon through its public HTTP surface:
// requests in, envelopes out. Tests here never reach into internal
// packages; the fake radio stack is driven only where a flow needs a
// peer on the air.
package e2e

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func httpGetJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned status %d", url, resp.StatusCode)
	}
	return decodeEnvelope(t, resp)
}

func httpPostJSON200(t *testing.T, url string, payload map[string]any) map[string]interface{} {
	t.Helper()
	body := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal JSON: %v", err)
		}
		body = string(raw)
	}

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s returned status %d", url, resp.StatusCode)
	}
	return decodeEnvelope(t, resp)
}

func httpPutJSON200(t *testing.T, url, payload string) map[string]interface{} {
	t.Helper()
	resp := httpDo(t, "PUT", url, payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT %s returned status %d", url, resp.StatusCode)
	}
	return decodeEnvelope(t, resp)
}

// httpDo issues an arbitrary method with a raw body and returns the
// response unread, for tests asserting on status codes.
func httpDo(t *testing.T, method, url, payload string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to build %s %s: %v", method, url, err)
	}
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var envelope map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
	return envelope
}

// mustHave asserts a dotted-path value inside a decoded envelope.
func mustHave(t *testing.T, data map[string]interface{}, path string, expected interface{}) {
	t.Helper()
	actual := getJSONPath(data, path)
	if actual != expected {
		t.Errorf("Expected %s to be %v, got %v", path, expected, actual)
	}
}

// getJSONPath walks "a.b.2.c" style paths through decoded JSON; numeric
// segments index into arrays.
func getJSONPath(data map[string]interface{}, path string) interface{} {
	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			current = node[segment]
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

// waitForJSONPath polls url until the dotted path equals want.
func waitForJSONPath(t *testing.T, url, path string, want interface{}, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last interface{}
	for time.Now().Before(deadline) {
		body := httpGetJSON(t, url)
		last = getJSONPath(body, path)
		if last == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s == %v at %s (last %v)", path, want, url, last)
}
