package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sermonscribe/internal/api/response"
	"github.com/kiranshivaraju/sermonscribe/internal/broadcast"
	"github.com/kiranshivaraju/sermonscribe/pkg/models"
)

// Subscriber hands out live event subscriptions.
type Subscriber interface {
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/events. It
// streams events as server-sent events until the client disconnects. The
// optional content_id query parameter limits the stream to one record;
// heartbeats are always sent.
func NewEventsHandler(events Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter uuid.UUID
		if raw := r.URL.Query().Get("content_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				response.Invalid(w, "content_id must be a valid UUID", nil)
				return
			}
			filter = id
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Streaming unsupported", nil)
			return
		}

		sub := events.Subscribe()
		defer events.Unsubscribe(sub)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if filter != uuid.Nil && ev.Kind != models.EventKindHeartbeat && ev.ContentID != filter {
					continue
				}
				if err := writeEvent(w, ev); err != nil {
					slog.Debug("event stream closed", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
