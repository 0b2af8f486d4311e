package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/securacv/btctl/internal/audit"
	"github.com/securacv/btctl/internal/auth"
)

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// API v1 base path
	apiV1 := "/api/v1"

	// Probe endpoints (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.HandleFunc(apiV1+"/ready", s.handleReady)

	// Method-scoped dispatchers apply auth themselves, so they register
	// the same way in both branches.
	mux.HandleFunc(apiV1+"/bluetooth/devices", s.handleDevices)
	mux.HandleFunc(apiV1+"/bluetooth/devices/", s.handleDeviceEndpoints)
	mux.HandleFunc(apiV1+"/bluetooth/settings", s.handleSettings)

	// If no auth middleware, register routes without protection
	if s.authMiddleware == nil {
		mux.HandleFunc(apiV1+"/bluetooth", s.handleStatus)
		mux.HandleFunc(apiV1+"/bluetooth/enable", s.handleEnable)
		mux.HandleFunc(apiV1+"/bluetooth/disable", s.handleDisable)
		mux.HandleFunc(apiV1+"/bluetooth/advertising/start", s.handleAdvertisingStart)
		mux.HandleFunc(apiV1+"/bluetooth/advertising/stop", s.handleAdvertisingStop)
		mux.HandleFunc(apiV1+"/bluetooth/scan/start", s.handleScanStart)
		mux.HandleFunc(apiV1+"/bluetooth/scan/stop", s.handleScanStop)
		mux.HandleFunc(apiV1+"/bluetooth/scan/results", s.handleScanResults)
		mux.HandleFunc(apiV1+"/bluetooth/pairing/start", s.handlePairingStart)
		mux.HandleFunc(apiV1+"/bluetooth/pairing/confirm", s.handlePairingConfirm)
		mux.HandleFunc(apiV1+"/bluetooth/pairing/reject", s.handlePairingReject)
		mux.HandleFunc(apiV1+"/bluetooth/pairing/cancel", s.handlePairingCancel)
		mux.HandleFunc(apiV1+"/bluetooth/disconnect", s.handleDisconnect)
		mux.HandleFunc(apiV1+"/telemetry", s.handleTelemetry)
		mux.HandleFunc(apiV1+"/events/ws", s.handleEventSocket)
		return
	}

	// Register routes with authentication and authorization
	// Status endpoint (viewer access)
	mux.HandleFunc(apiV1+"/bluetooth", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(s.handleStatus)))

	// Lifecycle endpoints (controller access)
	mux.HandleFunc(apiV1+"/bluetooth/enable", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleEnable)))
	mux.HandleFunc(apiV1+"/bluetooth/disable", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleDisable)))
	mux.HandleFunc(apiV1+"/bluetooth/advertising/start", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleAdvertisingStart)))
	mux.HandleFunc(apiV1+"/bluetooth/advertising/stop", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleAdvertisingStop)))

	// Scan endpoints (results are viewer access, control is controller access)
	mux.HandleFunc(apiV1+"/bluetooth/scan/start", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleScanStart)))
	mux.HandleFunc(apiV1+"/bluetooth/scan/stop", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleScanStop)))
	mux.HandleFunc(apiV1+"/bluetooth/scan/results", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(s.handleScanResults)))

	// Pairing endpoints (controller access)
	mux.HandleFunc(apiV1+"/bluetooth/pairing/start", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handlePairingStart)))
	mux.HandleFunc(apiV1+"/bluetooth/pairing/confirm", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handlePairingConfirm)))
	mux.HandleFunc(apiV1+"/bluetooth/pairing/reject", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handlePairingReject)))
	mux.HandleFunc(apiV1+"/bluetooth/pairing/cancel", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handlePairingCancel)))

	// Connection endpoint (controller access)
	mux.HandleFunc(apiV1+"/bluetooth/disconnect", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleDisconnect)))

	// Event streams (telemetry access)
	mux.HandleFunc(apiV1+"/telemetry", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeTelemetry)(s.handleTelemetry)))
	mux.HandleFunc(apiV1+"/events/ws", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeTelemetry)(s.handleEventSocket)))
}

// handleStatus handles GET /bluetooth
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	status, err := s.orchestrator.GetStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, status)
}

// handleEnable handles POST /bluetooth/enable
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.Enable(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"enabled": true})
}

// handleDisable handles POST /bluetooth/disable
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.Disable(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"enabled": false})
}

// handleAdvertisingStart handles POST /bluetooth/advertising/start
func (s *Server) handleAdvertisingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.StartAdvertising(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"advertising": true})
}

// handleAdvertisingStop handles POST /bluetooth/advertising/stop
func (s *Server) handleAdvertisingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.StopAdvertising(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"advertising": false})
}

// handleScanStart handles POST /bluetooth/scan/start.
// The body is optional; an omitted durationMs uses the configured
// default scan window.
func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	var req struct {
		DurationMs int64 `json:"durationMs"`
	}
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
				"Malformed JSON or unknown fields", nil)
			return
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
			return
		}
		if req.DurationMs < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT",
				"durationMs must not be negative", nil)
			return
		}
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	ctx := r.Context()
	if req.DurationMs > 0 {
		ctx = audit.WithParams(ctx, map[string]interface{}{"durationMs": req.DurationMs})
	}
	if err := s.orchestrator.StartScan(ctx, time.Duration(req.DurationMs)*time.Millisecond); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"scanning": true})
}

// handleScanStop handles POST /bluetooth/scan/stop
func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.StopScan(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"scanning": false})
}

// handleScanResults handles GET /bluetooth/scan/results
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	results, err := s.orchestrator.ScanResults(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"count": len(results), "results": results})
}

// handlePairingStart handles POST /bluetooth/pairing/start.
// The response carries the pairing status including the PIN the
// operator reads out to the peer.
func (s *Server) handlePairingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.StartPairing(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	status, err := s.orchestrator.GetStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, status.Pairing)
}

// handlePairingConfirm handles POST /bluetooth/pairing/confirm
func (s *Server) handlePairingConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	// Parse request (strict JSON)
	var req struct {
		PIN string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return
	}
	if req.PIN == "" {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "pin is required", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	// The PIN is a credential and stays out of the audit params.
	if err := s.orchestrator.ConfirmPairing(r.Context(), req.PIN); err != nil {
		writeDomainError(w, err)
		return
	}

	status, err := s.orchestrator.GetStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, status.Connection)
}

// handlePairingReject handles POST /bluetooth/pairing/reject
func (s *Server) handlePairingReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.RejectPairing(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"rejected": true})
}

// handlePairingCancel handles POST /bluetooth/pairing/cancel
func (s *Server) handlePairingCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.CancelPairing(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"cancelled": true})
}

// handleDisconnect handles POST /bluetooth/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.Disconnect(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"connected": false})
}

// handleDevices handles the paired device collection: GET lists, DELETE
// clears. Listing needs read scope, clearing needs control scope, so
// auth is applied per method here.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.authMiddleware != nil {
		switch r.Method {
		case http.MethodGet:
			s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(s.handleListDevices))(w, r)
		case http.MethodDelete:
			s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleClearDevices))(w, r)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only GET and DELETE methods are allowed", nil)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListDevices(w, r)
	case http.MethodDelete:
		s.handleClearDevices(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET and DELETE methods are allowed", nil)
	}
}

// handleListDevices handles GET /bluetooth/devices
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	devices, err := s.orchestrator.ListDevices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"count": len(devices), "devices": devices})
}

// handleClearDevices handles DELETE /bluetooth/devices
func (s *Server) handleClearDevices(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.ClearDevices(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"cleared": true})
}

// handleDeviceEndpoints handles all per-device endpoints. Every one of
// them mutates the registry, so a single controller-scope wrap covers
// the subtree.
func (s *Server) handleDeviceEndpoints(w http.ResponseWriter, r *http.Request) {
	if s.authMiddleware != nil {
		s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleDeviceAction))(w, r)
		return
	}
	s.handleDeviceAction(w, r)
}

// handleDeviceAction routes /bluetooth/devices/{address}[/action].
func (s *Server) handleDeviceAction(w http.ResponseWriter, r *http.Request) {
	address, action := parseDevicePath(r.URL.Path)
	if address == "" {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT",
			"Device address is required", nil)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodDelete {
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only DELETE method is allowed", nil)
			return
		}
		s.handleRemoveDevice(w, r, address)
	case "trust":
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only POST method is allowed", nil)
			return
		}
		s.handleSetTrusted(w, r, address)
	case "block":
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only POST method is allowed", nil)
			return
		}
		s.handleSetBlocked(w, r, address)
	default:
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found", nil)
	}
}

// handleRemoveDevice handles DELETE /bluetooth/devices/{address}
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request, address string) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	if err := s.orchestrator.RemoveDevice(r.Context(), address); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"removed": address})
}

// handleSetTrusted handles POST /bluetooth/devices/{address}/trust
func (s *Server) handleSetTrusted(w http.ResponseWriter, r *http.Request, address string) {
	// Parse request (strict JSON)
	var req struct {
		Trusted *bool `json:"trusted"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return
	}
	if req.Trusted == nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "trusted is required", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	ctx := audit.WithParams(r.Context(), map[string]interface{}{"trusted": *req.Trusted})
	if err := s.orchestrator.SetTrusted(ctx, address, *req.Trusted); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"address": address, "trusted": *req.Trusted})
}

// handleSetBlocked handles POST /bluetooth/devices/{address}/block
func (s *Server) handleSetBlocked(w http.ResponseWriter, r *http.Request, address string) {
	// Parse request (strict JSON)
	var req struct {
		Blocked *bool `json:"blocked"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return
	}
	if req.Blocked == nil {
		WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "blocked is required", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	ctx := audit.WithParams(r.Context(), map[string]interface{}{"blocked": *req.Blocked})
	if err := s.orchestrator.SetBlocked(ctx, address, *req.Blocked); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"address": address, "blocked": *req.Blocked})
}

// handleSettings handles the settings document: GET needs read scope,
// PUT needs control scope, so auth is applied per method here.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.authMiddleware != nil {
		switch r.Method {
		case http.MethodGet:
			s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(s.handleGetSettings))(w, r)
		case http.MethodPut:
			s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(s.handleUpdateSettings))(w, r)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only GET and PUT methods are allowed", nil)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSettings(w, r)
	case http.MethodPut:
		s.handleUpdateSettings(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET and PUT methods are allowed", nil)
	}
}

// handleGetSettings handles GET /bluetooth/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	settings, err := s.orchestrator.GetSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, settings)
}

// handleUpdateSettings handles PUT /bluetooth/settings. The body is
// decoded over the current record, so omitted fields keep their values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Service not available", nil)
		return
	}

	settings, err := s.orchestrator.GetSettings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return
	}

	ctx := audit.WithParams(r.Context(), map[string]interface{}{"settings": settings})
	if err := s.orchestrator.UpdateSettings(ctx, settings); err != nil {
		writeDomainError(w, err)
		return
	}

	WriteSuccess(w, settings)
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	// Subscribe blocks for the lifetime of the stream; errors happen
	// only before any event is written.
	ctx := r.Context()
	if err := s.telemetryHub.Subscribe(ctx, w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to telemetry stream", nil)
		return
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	uptime := 0.0
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	subsystems := s.checkSubsystemHealth()

	overallStatus := "ok"
	if !subsystems["telemetry"] || !subsystems["orchestrator"] {
		overallStatus = "degraded"
	}

	health := map[string]interface{}{
		"status":     overallStatus,
		"uptimeSec":  uptime,
		"version":    "1.0.0",
		"subsystems": subsystems,
	}

	if overallStatus == "ok" {
		WriteSuccess(w, health)
	} else {
		// 503 with the health map as details so probes see what failed.
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health)
	}
}

// handleReady handles GET /ready. Ready means the control loop answers
// queries; a radio in the error state is still ready (Architecture §5.4).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "NOT_READY",
			"Command orchestrator not available", nil)
		return
	}

	status, err := s.orchestrator.GetStatus(r.Context())
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "NOT_READY",
			"Command orchestrator is not answering", nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{"ready": true, "state": status.State})
}

// checkSubsystemHealth checks the health of all subsystems.
func (s *Server) checkSubsystemHealth() map[string]bool {
	subsystems := make(map[string]bool)

	subsystems["telemetry"] = s.telemetryHub != nil
	subsystems["orchestrator"] = s.orchestrator != nil

	// Auth is optional, so always considered healthy
	subsystems["auth"] = true

	return subsystems
}

// parseDevicePath splits /api/v1/bluetooth/devices/{address}[/action].
func parseDevicePath(path string) (address, action string) {
	const prefix = "/api/v1/bluetooth/devices/"
	if !strings.HasPrefix(path, prefix) {
		return "", ""
	}

	parts := strings.Split(path[len(prefix):], "/")
	switch len(parts) {
	case 1:
		return parts[0], ""
	case 2:
		return parts[0], parts[1]
	default:
		return parts[0], strings.Join(parts[1:], "/")
	}
}
