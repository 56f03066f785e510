// Package connectivity tracks whether the device should attempt network writes.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/fieldsync/pkg/logger"
)

// Pinger is the backend health check the probe calls.
type Pinger interface {
	Ping(ctx context.Context) error
}

type MonitorParams struct {
	Pinger        Pinger
	Logger        *logger.Logger
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Monitor combines the connectivity the shell reports with the result of the
// last backend probe. Both start out online.
type Monitor struct {
	pinger   Pinger
	logg     *logger.Logger
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	reported  bool
	reachable bool
	lastProbe time.Time
}

func NewMonitor(params MonitorParams) *Monitor {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	interval := params.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := params.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{
		pinger:    params.Pinger,
		logg:      logg,
		interval:  interval,
		timeout:   timeout,
		reported:  true,
		reachable: true,
	}
}

// Online reports whether both indicators agree the network is usable.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reported && m.reachable
}

// SetReported records the shell's view of connectivity.
func (m *Monitor) SetReported(ctx context.Context, online bool) {
	m.mu.Lock()
	changed := m.reported != online
	m.reported = online
	m.mu.Unlock()
	if changed {
		m.logg.Info(m.logg.WithField(ctx, "online", online), "reported connectivity changed")
	}
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Online    bool      `json:"online"`
	Reported  bool      `json:"reported"`
	Reachable bool      `json:"reachable"`
	LastProbe time.Time `json:"lastProbe,omitempty"`
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Online:    m.reported && m.reachable,
		Reported:  m.reported,
		Reachable: m.reachable,
		LastProbe: m.lastProbe,
	}
}

// Probe pings the backend once and records whether it answered.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.pinger == nil {
		return m.Status().Reachable
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.pinger.Ping(probeCtx)
	reachable := err == nil

	m.mu.Lock()
	changed := m.reachable != reachable
	m.reachable = reachable
	m.lastProbe = time.Now().UTC()
	m.mu.Unlock()

	if changed {
		logCtx := m.logg.WithField(ctx, "reachable", reachable)
		if reachable {
			m.logg.Info(logCtx, "backend reachable again")
		} else {
			m.logg.Warn(logCtx, "backend unreachable")
		}
	}
	return reachable
}

// Run probes on every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.pinger == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
