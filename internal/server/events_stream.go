package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/events"
	"github.com/aristath/augur/internal/utils"
)

const (
	eventBufferSize   = 100
	heartbeatInterval = 30 * time.Second
)

// EventsStreamHandler streams bus events to clients as Server-Sent Events.
type EventsStreamHandler struct {
	eventBus  *events.Bus
	log       zerolog.Logger
	heartbeat time.Duration
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:  eventBus,
		log:       log.With().Str("component", "events_stream").Logger(),
		heartbeat: heartbeatInterval,
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
// The optional "types" query parameter is a comma separated event type filter.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	typesFilter := r.URL.Query().Get("types")
	eventTypes := events.AllEventTypes
	if names := utils.ParseCSV(typesFilter); names != nil {
		eventTypes = make([]events.EventType, 0, len(names))
		for _, name := range names {
			eventTypes = append(eventTypes, events.EventType(name))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.log.Info().Str("types_filter", typesFilter).Msg("Client connected to event stream")

	eventChan := make(chan *events.Event, eventBufferSize)
	handler := func(event *events.Event) {
		// Never block the emitter; slow clients lose events
		select {
		case eventChan <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	for _, eventType := range eventTypes {
		unsubscribe := h.eventBus.Subscribe(eventType, handler)
		defer unsubscribe()
	}

	h.send(w, flusher, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-eventChan:
			h.send(w, flusher, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})

		case <-heartbeat.C:
			h.send(w, flusher, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
	}
}

func (h *EventsStreamHandler) send(w http.ResponseWriter, flusher http.Flusher, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
