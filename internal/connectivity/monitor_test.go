package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubPinger struct {
	err   atomic.Value
	calls atomic.Int32
}

func (s *stubPinger) Ping(context.Context) error {
	s.calls.Add(1)
	if v := s.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func TestOnlineRequiresBothIndicators(t *testing.T) {
	pinger := &stubPinger{}
	m := NewMonitor(MonitorParams{Pinger: pinger})
	ctx := context.Background()
	if !m.Online() {
		t.Fatal("monitor should start online")
	}

	m.SetReported(ctx, false)
	if m.Online() {
		t.Fatal("reported offline must win")
	}
	m.SetReported(ctx, true)

	pinger.err.Store(errors.New("dial tcp: timeout"))
	if m.Probe(ctx) {
		t.Fatal("failed ping should report unreachable")
	}
	if m.Online() {
		t.Fatal("unreachable backend must win")
	}
	status := m.Status()
	if status.Reachable || !status.Reported || status.LastProbe.IsZero() {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunProbesUntilCancelled(t *testing.T) {
	pinger := &stubPinger{}
	m := NewMonitor(MonitorParams{Pinger: pinger, ProbeInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(time.Second)
	for pinger.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("expected repeated probes")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestProbeWithoutPinger(t *testing.T) {
	m := NewMonitor(MonitorParams{})
	if !m.Probe(context.Background()) {
		t.Fatal("no pinger keeps the last known state")
	}
}
