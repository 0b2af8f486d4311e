package harness

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// Client makes real HTTP requests against the harness server and decodes
// the response envelope. A non-empty token rides every request as a
// bearer credential.
type Client struct {
	t     *testing.T
	base  string
	token string
}

// Client returns an unauthenticated HTTP client for the server.
func (s *Server) Client(t *testing.T) *Client {
	return &Client{t: t, base: s.URL}
}

// AuthedClient returns a client sending the given bearer token.
func (s *Server) AuthedClient(t *testing.T, token string) *Client {
	return &Client{t: t, base: s.URL, token: token}
}

// Response is one decoded API exchange.
type Response struct {
	Status   int
	Envelope map[string]interface{}
}

// Do issues the request and decodes the envelope. A nil body sends no
// payload; anything else is marshaled as JSON.
func (c *Client) Do(method, path string, body interface{}) Response {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("Failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("Failed to read response body: %v", err)
	}

	envelope := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.t.Fatalf("%s %s returned non-JSON body %q: %v", method, path, raw, err)
		}
	}
	return Response{Status: resp.StatusCode, Envelope: envelope}
}

// Get issues a GET request.
func (c *Client) Get(path string) Response {
	c.t.Helper()
	return c.Do(http.MethodGet, path, nil)
}

// Post issues a POST request.
func (c *Client) Post(path string, body interface{}) Response {
	c.t.Helper()
	return c.Do(http.MethodPost, path, body)
}

// MustOK fails the test unless the response is 200 with result ok, then
// returns the data object.
func (c *Client) MustOK(resp Response) map[string]interface{} {
	c.t.Helper()
	if resp.Status != http.StatusOK {
		c.t.Fatalf("status = %d, want 200 (body %v)", resp.Status, resp.Envelope)
	}
	if result := resp.Envelope["result"]; result != "ok" {
		c.t.Fatalf("result = %v, want ok", result)
	}
	data, _ := resp.Envelope["data"].(map[string]interface{})
	return data
}

// MustError fails the test unless the response carries the given status
// and normalized error code.
func (c *Client) MustError(resp Response, status int, code string) {
	c.t.Helper()
	if resp.Status != status {
		c.t.Fatalf("status = %d, want %d (body %v)", resp.Status, status, resp.Envelope)
	}
	if result := resp.Envelope["result"]; result != "error" {
		c.t.Errorf("result = %v, want error", result)
	}
	if got := resp.Envelope["code"]; got != code {
		c.t.Errorf("code = %v, want %s", got, code)
	}
}
