package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/securacv/btctl/internal/config"
)

// Event types carried on the stream. The orchestrator publishes the domain
// types; ready and heartbeat are protocol events owned by the hub.
const (
	TypeReady      = "ready"
	TypeState      = "state"
	TypeConnection = "connection"
	TypePairing    = "pairing"
	TypeScan       = "scan"
	TypeFault      = "fault"
	TypeHeartbeat  = "heartbeat"
)

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Ts   time.Time              `json:"ts"`
}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Request *http.Request
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Events  chan Event
	mu      sync.Mutex // Protect Writer access
}

// Hub fans telemetry events out to SSE clients and WebSocket taps and keeps
// a bounded replay buffer for Last-Event-ID resume.
//
// LOCK ORDERING (if multiple locks are ever used):
// 1. h.mu (Hub's RWMutex) - protects clients, taps, snapshot, heartbeat state
// 2. EventBuffer.mu (buffer mutex) - protects buffer internals
// 3. Client.mu (per-client mutex) - serializes writes to one client
//
// Client event channels are never closed; delivery stops when the client
// context is cancelled, so a publisher holding a stale client reference can
// never write to a closed channel. Tap channels are closed, but only after
// removal from the taps map, which publishers read under h.mu.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	taps    map[string]chan Event

	nextID int64 // Monotonic event IDs (atomic counter)

	// Replay buffer for Last-Event-ID resume
	buffer *EventBuffer

	// Snapshot source for ready events
	snapshot func() map[string]interface{}

	// Configuration
	config *config.TimingConfig

	// Heartbeat ticker
	heartbeatTicker *time.Ticker
	stopHeartbeat   chan bool

	// Synchronization for shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a new telemetry hub with the specified configuration.
func NewHub(timingConfig *config.TimingConfig) *Hub {
	hub := &Hub{
		clients: make(map[string]*Client),
		taps:    make(map[string]chan Event),
		buffer:  NewEventBuffer(timingConfig.EventBufferSize, timingConfig.EventBufferRetention),
		config:  timingConfig,
		done:    make(chan struct{}),
	}

	return hub
}

// SetSnapshotSource registers the callback that produces the status snapshot
// carried by ready events. Call before serving subscribers.
func (h *Hub) SetSnapshotSource(source func() map[string]interface{}) {
	h.mu.Lock()
	h.snapshot = source
	h.mu.Unlock()
}

// StateSnapshot returns the current status snapshot, or an empty map when no
// snapshot source is registered.
func (h *Hub) StateSnapshot() map[string]interface{} {
	h.mu.RLock()
	source := h.snapshot
	h.mu.RUnlock()

	if source == nil {
		return map[string]interface{}{}
	}
	return source()
}

// Subscribe handles SSE client subscription with Last-Event-ID resume support.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	// Create client context
	clientCtx, cancel := context.WithCancel(ctx)

	clientID := uuid.NewString()

	// Parse Last-Event-ID header for resume
	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	// Create client
	client := &Client{
		ID:      clientID,
		Writer:  w,
		Request: r,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Events:  make(chan Event, 100), // Buffer for client events
	}

	// Register client
	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	// Send initial ready event
	if err := h.sendReadyEvent(client); err != nil {
		h.unregisterClient(clientID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	// Replay buffered events if Last-Event-ID provided
	if lastEventID > 0 {
		if err := h.replayEvents(client, lastEventID); err != nil {
			h.unregisterClient(clientID)
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	// Start heartbeat if this is the first consumer
	h.mu.Lock()
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	// Handle client events (blocks until client disconnects)
	h.handleClient(client)

	return nil
}

// Watch registers a direct event channel for in-process consumers such as
// the WebSocket bridge. The channel is closed when ctx is cancelled or the
// hub stops; a consumer that falls behind loses events rather than blocking
// publishers.
func (h *Hub) Watch(ctx context.Context) <-chan Event {
	ch := make(chan Event, 100)
	id := uuid.NewString()

	h.mu.Lock()
	h.taps[id] = ch
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		select {
		case <-ctx.Done():
		case <-h.done:
		}

		h.mu.Lock()
		delete(h.taps, id)
		if len(h.clients) == 0 && len(h.taps) == 0 {
			h.stopHeartbeatLocked()
		}
		h.mu.Unlock()

		// Publishers only touch taps under h.mu, so closing after removal
		// cannot race a send.
		close(ch)
	}()

	return ch
}

// Publish fans an event out to every connected consumer. Events receive a
// monotonic ID when they carry none; all events except heartbeats enter the
// replay buffer. Heartbeats are liveness signals and are never replayed.
func (h *Hub) Publish(event Event) error {
	if event.Ts.IsZero() {
		event.Ts = time.Now().UTC()
	}

	// Assign event ID if not set
	if event.ID == 0 {
		event.ID = h.nextEventID()
	}

	// Buffer the event for Last-Event-ID resume
	if event.Type != TypeHeartbeat {
		h.buffer.AddEvent(event)
	}

	// Snapshot clients and feed taps under the read lock
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	for _, tap := range h.taps {
		select {
		case tap <- event:
		default:
			// Drop rather than block on a lagging in-process consumer
		}
	}
	h.mu.RUnlock()

	// Send to all clients without holding the lock
	for _, client := range clients {
		select {
		case <-client.Context.Done():
			// Client context cancelled, skip this client
			continue
		case <-h.done:
			// Hub is shutting down, don't send
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop event if client is slow to prevent blocking
		}
	}

	return nil
}

// EventsSince returns buffered events with IDs greater than lastID. The
// WebSocket bridge uses it to resume a reconnecting client.
func (h *Hub) EventsSince(lastID int64) []Event {
	return h.buffer.GetEventsAfter(lastID)
}

// sendReadyEvent sends the initial ready event carrying a status snapshot.
func (h *Hub) sendReadyEvent(client *Client) error {
	readyEvent := Event{
		ID:   h.nextEventID(),
		Type: TypeReady,
		Ts:   time.Now().UTC(),
		Data: map[string]interface{}{
			"snapshot": h.StateSnapshot(),
		},
	}

	return h.sendEventToClient(client, readyEvent)
}

// replayEvents replays buffered events for a client based on Last-Event-ID.
func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	events := h.buffer.GetEventsAfter(lastEventID)

	for _, event := range events {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}

	return nil
}

// sendEventToClient sends a single event to a client via SSE.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	// Protect Writer access with mutex to prevent race conditions
	client.mu.Lock()
	defer client.mu.Unlock()

	// Format as SSE
	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	// Serialize data as JSON
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", string(data)); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	// Flush the response immediately
	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}

// handleClient manages a client connection and event delivery.
func (h *Hub) handleClient(client *Client) {
	defer h.unregisterClient(client.ID)

	for {
		// Check cancellation before selecting so a done client never races
		// a pending event send
		select {
		case <-client.Context.Done():
			return
		default:
		}

		timeout := time.NewTimer(100 * time.Millisecond)
		select {
		case <-client.Context.Done():
			timeout.Stop()
			return
		case <-timeout.C:
			// Loop continues, rechecks context
			continue
		case event := <-client.Events:
			timeout.Stop()
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

// unregisterClient removes a client from the hub.
func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		client.Cancel()
		delete(h.clients, clientID)

		// Stop heartbeat if no consumers remain
		if len(h.clients) == 0 && len(h.taps) == 0 {
			h.stopHeartbeatLocked()
		}
	}
}

// nextEventID returns the next monotonic event ID.
func (h *Hub) nextEventID() int64 {
	return atomic.AddInt64(&h.nextID, 1)
}

// startHeartbeat starts the heartbeat ticker.
func (h *Hub) startHeartbeat() {
	// Caller must hold h.mu and verify h.heartbeatTicker == nil

	interval := h.config.HeartbeatInterval
	jitter := h.config.HeartbeatJitter

	// Add jitter to prevent thundering herd
	actualInterval := interval + time.Duration(float64(jitter)*0.5)

	h.heartbeatTicker = time.NewTicker(actualInterval)
	h.stopHeartbeat = make(chan bool)

	// Store references to avoid race conditions
	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// stopHeartbeatLocked stops the heartbeat ticker. Caller must hold h.mu.
func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// sendHeartbeat sends a heartbeat event to all consumers.
func (h *Hub) sendHeartbeat() {
	heartbeatEvent := Event{
		Type: TypeHeartbeat,
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	}

	h.Publish(heartbeatEvent)
}

// Stop stops the telemetry hub and cleans up resources.
func (h *Hub) Stop() {
	// Signal shutdown first
	close(h.done)

	// Cancel all client contexts and stop the heartbeat
	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
	}
	h.stopHeartbeatLocked()
	h.mu.Unlock()

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Clean shutdown
	case <-time.After(5 * time.Second):
		// Force cleanup after timeout - goroutines may be stuck
	}

	// Drop any clients whose handlers have not observed the cancel yet
	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
}

// EventBuffer maintains a bounded buffer of recent events for resume.
// Entries age out after the retention window even when capacity remains.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []Event
	stamps    []time.Time
	capacity  int
	retention time.Duration
	nextID    int64
}

// NewEventBuffer creates an event buffer holding at most capacity events,
// each for at most retention. Zero retention disables the age bound.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	return &EventBuffer{
		events:    make([]Event, 0, capacity),
		stamps:    make([]time.Time, 0, capacity),
		capacity:  capacity,
		retention: retention,
		nextID:    1,
	}
}

// AddEvent adds an event to the buffer, evicting expired and overflow
// entries from the head.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.pruneLocked(now)

	// Assign ID if not set
	if event.ID == 0 {
		event.ID = b.nextID
		b.nextID++
	}

	b.events = append(b.events, event)
	b.stamps = append(b.stamps, now)

	// Maintain capacity
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
		b.stamps = b.stamps[1:]
	}
}

// pruneLocked drops entries older than the retention window. Caller must
// hold b.mu for writing.
func (b *EventBuffer) pruneLocked(now time.Time) {
	if b.retention <= 0 {
		return
	}
	for len(b.stamps) > 0 && now.Sub(b.stamps[0]) > b.retention {
		b.events = b.events[1:]
		b.stamps = b.stamps[1:]
	}
}

// GetEventsAfter returns events after the specified ID that are still
// inside the retention window.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now()
	var result []Event
	for i, event := range b.events {
		if event.ID <= lastID {
			continue
		}
		if b.retention > 0 && now.Sub(b.stamps[i]) > b.retention {
			continue
		}
		result = append(result, event)
	}

	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
