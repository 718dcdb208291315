package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/meridian/newsgraph/internal/events"
)

// EventsStreamHandler streams pipeline and maintenance events to
// operators over SSE and websocket.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan events.Event]map[events.EventType]bool
}

// NewEventsStreamHandler creates the stream handler and hooks it to the bus
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	h := &EventsStreamHandler{
		bus:         bus,
		log:         log.With().Str("component", "events_stream").Logger(),
		subscribers: make(map[chan events.Event]map[events.EventType]bool),
	}
	bus.SubscribeAll(h.fanout)
	return h
}

// fanout delivers one event to every connected stream without blocking
// the publisher; slow consumers drop events.
func (h *EventsStreamHandler) fanout(evt events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, allowed := range h.subscribers {
		if allowed != nil && !allowed[evt.Type] {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventsStreamHandler) subscribe(typesFilter string) chan events.Event {
	var allowed map[events.EventType]bool
	if typesFilter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}
	ch := make(chan events.Event, 64)
	h.mu.Lock()
	h.subscribers[ch] = allowed
	h.mu.Unlock()
	return ch
}

func (h *EventsStreamHandler) unsubscribe(ch chan events.Event) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

// ServeSSE handles GET /api/events/stream
func (h *EventsStreamHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.subscribe(r.URL.Query().Get("types"))
	defer h.unsubscribe(ch)

	h.log.Info().Msg("SSE client connected")
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("SSE client disconnected")
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case evt := <-ch:
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}

// ServeWebSocket handles GET /api/events/ws
func (h *EventsStreamHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // auth middleware already ran
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ch := h.subscribe(r.URL.Query().Get("types"))
	defer h.unsubscribe(ch)

	h.log.Info().Msg("Websocket client connected")
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				h.log.Info().Err(err).Msg("Websocket client disconnected")
				return
			}
		}
	}
}
