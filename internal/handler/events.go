package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/channelpay/tonconnect-server-go/internal/errors"
	"github.com/channelpay/tonconnect-server-go/internal/events"
	"github.com/channelpay/tonconnect-server-go/internal/sse"
)

// EventsHandler streams payment events for one principal over SSE. It is an
// HTTP alternative to subscribing to the Redis channel directly: the same
// envelopes, relayed as they are published.
type EventsHandler struct {
	broker *sse.Broker
}

func NewEventsHandler(broker *sse.Broker) *EventsHandler {
	return &EventsHandler{broker: broker}
}

// GET /v1/events/{kind}/{userID}
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, userID, err := principal(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := h.broker.Subscribe(kind, userID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("kind", kind.String()).
		Str("user_id", userID).
		Msg("sse connection established")

	if _, err := fmt.Fprintf(w, "event: connected\ndata: {\"kind\":%q,\"userId\":%q}\n\n", kind.String(), userID); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("kind", kind.String()).
				Str("user_id", userID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("kind", kind.String()).
				Str("user_id", userID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("kind", kind.String()).
					Str("user_id", userID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
