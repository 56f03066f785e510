package controllers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/fieldsync/api/middleware"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/pkg/enums"
)

func TestEventStreamForwardsOwnEvents(t *testing.T) {
	bus := events.NewBus(nil)
	stream := eventStream(bus, nil, 20*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, r.WithContext(middleware.WithUserID(r.Context(), "u1")))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		if !lines.Scan() {
			t.Fatalf("stream closed early: %v", lines.Err())
		}
		return lines.Text()
	}
	if got := next(); got != ": connected" {
		t.Fatalf("expected connected comment, got %q", got)
	}

	bus.VisitStatusChanged.Publish(ctx, events.VisitStatusChanged{UserID: "u2", Date: "2024-05-01", RetailerID: "r9", Status: enums.VisitStatusProductive})
	bus.VisitStatusChanged.Publish(ctx, events.VisitStatusChanged{UserID: "u1", Date: "2024-05-01", RetailerID: "r1", Status: enums.VisitStatusProductive})

	var event, data string
	sawPing := false
	for event == "" || data == "" || !sawPing {
		line := next()
		switch {
		case line == ": ping":
			sawPing = true
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != events.TopicVisitStatusChanged {
		t.Fatalf("unexpected event %q", event)
	}
	if !strings.Contains(data, `"retailerId":"r1"`) || strings.Contains(data, "r9") {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestEventStreamRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	EventStream(events.NewBus(nil), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEventStreamUnsubscribesOnDisconnect(t *testing.T) {
	bus := events.NewBus(nil)
	ctx, cancel := context.WithCancel(middleware.WithUserID(context.Background(), "u1"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		eventStream(bus, nil, time.Hour).ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for bus.VisitDataChanged.Subscribers() == 0 {
		select {
		case <-deadline:
			t.Fatal("stream never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	if n := bus.VisitDataChanged.Subscribers(); n != 0 {
		t.Fatalf("expected subscribers removed, got %d", n)
	}
}
