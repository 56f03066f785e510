package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/fieldsync/api/responses"
	"github.com/angelmondragon/fieldsync/internal/events"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

const (
	streamBuffer    = 32
	streamHeartbeat = 25 * time.Second
)

type streamMessage struct {
	event string
	data  any
}

// EventStream forwards the signed-in rep's events as server-sent events.
// Publishing never blocks on a slow client; events beyond the buffer are dropped.
func EventStream(bus *events.Bus, logg *logger.Logger) http.HandlerFunc {
	return eventStream(bus, logg, streamHeartbeat)
}

func eventStream(bus *events.Bus, logg *logger.Logger, heartbeat time.Duration) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		msgs := make(chan streamMessage, streamBuffer)
		offer := func(msg streamMessage) {
			select {
			case msgs <- msg:
			default:
				logg.Warn(logg.WithField(r.Context(), "event", msg.event), "event stream buffer full; dropping")
			}
		}
		unsubscribe := []func(){
			bus.VisitStatusChanged.Subscribe(func(_ context.Context, ev events.VisitStatusChanged) {
				if ev.UserID == userID {
					offer(streamMessage{event: events.TopicVisitStatusChanged, data: ev})
				}
			}),
			bus.VisitDataChanged.Subscribe(func(_ context.Context, ev events.VisitDataChanged) {
				if ev.UserID == userID {
					offer(streamMessage{event: events.TopicVisitDataChanged, data: ev})
				}
			}),
			bus.OrderSyncFailed.Subscribe(func(_ context.Context, ev events.OrderSyncFailed) {
				if ev.UserID == userID {
					offer(streamMessage{event: events.TopicOrderSyncFailed, data: ev})
				}
			}),
		}
		defer func() {
			for _, fn := range unsubscribe {
				fn()
			}
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg := <-msgs:
				payload, err := json.Marshal(msg.data)
				if err != nil {
					logg.Error(r.Context(), "encode stream event", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.event, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
