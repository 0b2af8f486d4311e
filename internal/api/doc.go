// Package api implements the northbound HTTP gateway for btctld.
//
// The gateway exposes the radio lifecycle as HTTP/JSON commands under
// /api/v1, streams telemetry over SSE and WebSocket, and wraps every
// response in the unified result envelope. Authorization is by token
// scope when auth middleware is configured; the health and ready
// probes are always open.
//
// Architecture References:
//   - Architecture §4: error code to HTTP status mapping
//   - Architecture §5: event streams and replay
//   - Architecture §7: authentication and authorization
package api
