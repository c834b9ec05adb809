package netmon

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProbeFunc reports whether the remote collaborator is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// DialProbe probes connectivity by opening a TCP connection to addr.
func DialProbe(addr string, timeout time.Duration) ProbeFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// Monitor observes connectivity transitions and exposes an online/offline
// signal with change notifications. Subscribers receive only transitions,
// never repeated states.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *zerolog.Logger

	online atomic.Bool
	mu     sync.Mutex
	subs   []chan bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a monitor. A nil probe leaves the state under manual control
// via SetOnline; the monitor starts out online.
func New(probe ProbeFunc, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
	m.online.Store(true)
	return m
}

// Online returns the last observed connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline overrides the connectivity state and notifies subscribers on a
// transition. The background prober will overwrite it on its next tick.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.Info().Bool("online", online).Msg("connectivity changed")

	m.mu.Lock()
	subs := append([]chan bool(nil), m.subs...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			// Slow subscriber; it will observe the state via Online().
		}
	}
}

// Subscribe returns a channel receiving connectivity transitions.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Start launches the background prober. No-op when the probe is nil or the
// monitor is already running.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.probe(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetOnline(m.probe(ctx))
			}
		}
	}()
}

// Stop terminates the prober and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
