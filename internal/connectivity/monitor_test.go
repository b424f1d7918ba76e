package connectivity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// fakeProber is a settable environment signal.
type fakeProber struct {
	mu     sync.Mutex
	online bool
}

func (p *fakeProber) set(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

func (p *fakeProber) Online(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func newTestMonitor(t *testing.T, online bool) (*Monitor, *fakeProber, *clockwork.FakeClock) {
	t.Helper()
	prober := &fakeProber{online: online}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	m := NewMonitor(Config{Interval: 15 * time.Second}, prober, clock, zap.NewNop().Sugar())
	return m, prober, clock
}

func TestInitialStateReadSynchronously(t *testing.T) {
	m, _, clock := newTestMonitor(t, true)
	state := m.State()
	if !state.IsOnline {
		t.Fatal("initial state offline with reachable environment")
	}
	if state.LastOnlineTransition == nil || !state.LastOnlineTransition.Equal(clock.Now()) {
		t.Fatalf("initial transition = %v", state.LastOnlineTransition)
	}

	m2, _, _ := newTestMonitor(t, false)
	state = m2.State()
	if state.IsOnline {
		t.Fatal("initial state online with unreachable environment")
	}
	if state.LastOnlineTransition != nil {
		t.Fatal("offline construction stamped a transition")
	}
}

func TestOfflineTransitionKeepsTimestamp(t *testing.T) {
	m, prober, _ := newTestMonitor(t, true)
	before := m.State().LastOnlineTransition

	prober.set(false)
	m.apply(false)

	state := m.State()
	if state.IsOnline {
		t.Fatal("still online after offline signal")
	}
	if state.LastOnlineTransition == nil || !state.LastOnlineTransition.Equal(*before) {
		t.Fatalf("offline transition touched the timestamp: %v", state.LastOnlineTransition)
	}
}

func TestOnlineTransitionUpdatesBothFields(t *testing.T) {
	m, prober, clock := newTestMonitor(t, true)
	first := *m.State().LastOnlineTransition

	prober.set(false)
	m.apply(false)
	clock.Advance(time.Minute)
	prober.set(true)
	m.apply(true)

	state := m.State()
	if !state.IsOnline {
		t.Fatal("not online after online signal")
	}
	if !state.LastOnlineTransition.After(first) {
		t.Fatalf("transition not restamped: %v", state.LastOnlineTransition)
	}
	if !state.LastOnlineTransition.Equal(clock.Now()) {
		t.Fatalf("transition = %v, want %v", state.LastOnlineTransition, clock.Now())
	}
}

func TestRepeatedSignalDoesNotRestamp(t *testing.T) {
	m, _, clock := newTestMonitor(t, true)
	first := *m.State().LastOnlineTransition

	clock.Advance(time.Minute)
	m.apply(true)

	if !m.State().LastOnlineTransition.Equal(first) {
		t.Fatal("steady online signal restamped the transition")
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	m, _, _ := newTestMonitor(t, true)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.apply(false)
	select {
	case state := <-ch:
		if state.IsOnline {
			t.Fatal("transition snapshot still online")
		}
	case <-time.After(time.Second):
		t.Fatal("no transition published")
	}
}

func TestStartStopPolling(t *testing.T) {
	m, prober, clock := newTestMonitor(t, true)
	ctx := context.Background()
	m.Start(ctx)
	defer m.Stop()
	m.Start(ctx) // idempotent

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("poll ticker never registered: %v", err)
	}

	prober.set(false)
	clock.Advance(16 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for m.State().IsOnline {
		if time.Now().After(deadline) {
			t.Fatal("poll never observed the offline environment")
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.Stop()
	m.Stop() // idempotent
}
