package connectivity

import (
	"context"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Prober answers whether the environment currently has a usable route to
// the backend. The stock implementation dials the API host; tests and
// embedders substitute their own signal.
type Prober interface {
	Online(ctx context.Context) bool
}

// DialProber probes by opening a TCP connection to a host:port.
type DialProber struct {
	Address string
	Timeout time.Duration
}

func (p DialProber) Online(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// NewDialProber derives a prober from the backend base URL.
func NewDialProber(baseURL string) DialProber {
	addr := "nasiya.takedaservice.uz:443"
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host := u.Host
		if u.Port() == "" {
			if u.Scheme == "http" {
				host += ":80"
			} else {
				host += ":443"
			}
		}
		addr = host
	}
	return DialProber{Address: addr, Timeout: 3 * time.Second}
}

type Config struct {
	Interval time.Duration
}

// ConfigFromEnv reads the probe interval from env vars.
func ConfigFromEnv() Config {
	interval := 15 * time.Second
	if v := os.Getenv("PROBE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}
	return Config{Interval: interval}
}

// State is the monitor's read-only projection. LastOnlineTransition is
// stamped only when the environment comes (back) online; going offline
// leaves it untouched.
type State struct {
	IsOnline             bool       `json:"is_online"`
	LastOnlineTransition *time.Time `json:"last_online_transition,omitempty"`
}

// Monitor mirrors the environment's reachability signal into application
// state. It validates nothing; it is a pass-through with a timestamp.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	prober  Prober
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	state   State
	subs    map[int]chan State
	nextSub int
	stop    chan struct{}
}

// NewMonitor reads the initial state synchronously from the prober, like a
// construction-time navigator.onLine check.
func NewMonitor(cfg Config, prober Prober, clock clockwork.Clock, logger *zap.SugaredLogger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Monitor{
		cfg:    cfg,
		prober: prober,
		clock:  clock,
		logger: logger,
		subs:   make(map[int]chan State),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if prober.Online(ctx) {
		now := clock.Now()
		m.state = State{IsOnline: true, LastOnlineTransition: &now}
	}
	return m
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a transition observer; the returned func
// unsubscribes.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan State, 4)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Start begins polling the prober. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := m.clock.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.Chan():
				probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
				online := m.prober.Online(probeCtx)
				cancel()
				m.apply(online)
			}
		}
	}()
}

// Stop ends polling. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// apply records a probe result, stamping the transition time only on the
// offline-to-online edge.
func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == m.state.IsOnline {
		return
	}
	if online {
		now := m.clock.Now()
		m.state.IsOnline = true
		m.state.LastOnlineTransition = &now
		m.logger.Infow("back online")
	} else {
		m.state.IsOnline = false
		m.logger.Warnw("gone offline")
	}
	for _, ch := range m.subs {
		select {
		case ch <- m.state:
		default:
		}
	}
}
