package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/utils"
)

// EventsStreamHandler streams bus events to WebSocket clients
type EventsStreamHandler struct {
	eventBus     *events.Bus
	log          zerolog.Logger
	bufferSize   int
	heartbeat    time.Duration
	writeTimeout time.Duration
}

// streamMessage is one frame sent to the client
type streamMessage struct {
	Type      string           `json:"type"`
	Module    string           `json:"module,omitempty"`
	Timestamp string           `json:"timestamp"`
	Data      events.EventData `json:"data,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:     eventBus,
		log:          log.With().Str("component", "events_stream").Logger(),
		bufferSize:   100,
		heartbeat:    30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// ServeHTTP handles GET /api/events/ws. The optional types query parameter
// is a comma-separated list of event types to receive.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	typesFilter := r.URL.Query().Get("types")
	types, ok := parseEventTypes(typesFilter)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown event type in filter: " + typesFilter}, h.log)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx when they go away
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Str("types_filter", typesFilter).Msg("Client connected to event stream")

	eventChan := make(chan *events.Event, h.bufferSize)
	unsubscribe := h.eventBus.Subscribe(func(event *events.Event) {
		// Non-blocking send (drop if channel full)
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}, types...)
	defer unsubscribe()

	if err := h.write(ctx, conn, streamMessage{
		Type:      "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   "Connected to event stream",
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-eventChan:
			err := h.write(ctx, conn, streamMessage{
				Type:      string(event.Type),
				Module:    event.Module,
				Timestamp: event.Timestamp.Format(time.RFC3339),
				Data:      event.Data,
			})
			if err != nil {
				return
			}

		case <-heartbeat.C:
			err := h.write(ctx, conn, streamMessage{
				Type:      "heartbeat",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		h.log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write to event stream")
		conn.Close(websocket.StatusInternalError, "write failed")
		return err
	}
	return nil
}

// parseEventTypes turns a comma-separated filter into event types. An empty
// filter subscribes to everything.
func parseEventTypes(filter string) ([]events.EventType, bool) {
	names := utils.ParseCSV(filter)
	if len(names) == 0 {
		return nil, true
	}

	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}

	types := make([]events.EventType, 0, len(names))
	for _, name := range names {
		t := events.EventType(name)
		if !known[t] {
			return nil, false
		}
		types = append(types, t)
	}
	return types, true
}
