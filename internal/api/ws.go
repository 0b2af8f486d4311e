package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/securacv/btctl/internal/telemetry"
)

// wsWriteWait bounds each frame write so a wedged client cannot pin
// the pump.
const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon serves local operator consoles; origin is not a trust
	// boundary here, the bearer token is.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventSocket handles GET /events/ws. A numeric "since" query
// parameter replays buffered events after that ID, mirroring the SSE
// stream's Last-Event-ID resume.
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
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

	sinceID := int64(0)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if id, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			sinceID = id
		}
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	s.serveEventSocket(r.Context(), conn, sinceID)
}

// serveEventSocket runs the socket until the client goes away. It must
// not return while the pumps run: the hijacked connection's request
// context is cancelled the moment the handler returns.
func (s *Server) serveEventSocket(ctx context.Context, conn *websocket.Conn, sinceID int64) {
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Reader pump. Clients send nothing meaningful; reading surfaces
	// close frames promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Register the live tap before replaying so no event can fall into
	// the gap between replay and subscription.
	events := s.telemetryHub.Watch(ctx)

	ready := telemetry.Event{
		Type: telemetry.TypeReady,
		Data: s.telemetryHub.StateSnapshot(),
		Ts:   time.Now().UTC(),
	}
	if err := writeSocketEvent(conn, ready); err != nil {
		return
	}

	var maxReplayed int64
	for _, ev := range s.telemetryHub.EventsSince(sinceID) {
		if err := writeSocketEvent(conn, ev); err != nil {
			return
		}
		if ev.ID > maxReplayed {
			maxReplayed = ev.ID
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// The tap may hand back events the replay already sent.
			if ev.ID != 0 && ev.ID <= maxReplayed {
				continue
			}
			if err := writeSocketEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func writeSocketEvent(conn *websocket.Conn, ev telemetry.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}
