// Package connmon derives the client's three-state connectivity status
// from a raw reachability signal and the sync engine's cycle activity.
// Raw up flips are debounced behind a settle window; down flips take
// effect immediately so no new submissions start on a dead link.
package connmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/till/internal/models"
)

// Signal is a raw platform-level connectivity event.
type Signal int

const (
	// SignalDown reports the link as unreachable.
	SignalDown Signal = iota
	// SignalUp reports the link as reachable (possibly noisy).
	SignalUp
	// SignalResume is an app-lifecycle resume event. It bypasses the
	// settle window so a reconciliation cycle can run right away.
	SignalResume
)

// Snapshot is one observable state change, delivered to subscribers.
type Snapshot struct {
	State  models.ConnectionState
	Counts models.QueueCounts
}

// Counter supplies live queue totals for observability. Satisfied by
// *queue.Queue.
type Counter interface {
	Counts() (models.QueueCounts, error)
}

// Monitor is the connectivity state machine.
type Monitor struct {
	mu          sync.Mutex
	reachable   bool
	cycleActive bool
	state       models.ConnectionState
	settle      time.Duration
	settleTimer *time.Timer
	counter     Counter
	subs        []chan Snapshot
}

// New creates a monitor in the offline state.
func New(counter Counter, settleWindow time.Duration) *Monitor {
	return &Monitor{
		state:   models.StateOffline,
		settle:  settleWindow,
		counter: counter,
	}
}

// Run consumes raw signals until the context is cancelled or the channel
// closes. It is safe to call Signal-processing methods concurrently with
// Run; state transitions are serialized by the monitor's lock.
func (m *Monitor) Run(ctx context.Context, signals <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.Handle(sig)
		}
	}
}

// Handle applies one raw signal to the state machine.
func (m *Monitor) Handle(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch sig {
	case SignalDown:
		// Fail fast: syncing on a dead link only wastes retries
		m.cancelSettleLocked()
		if m.reachable {
			m.reachable = false
			slog.Debug("connmon: link down")
		}
		m.recomputeLocked()

	case SignalUp:
		if m.reachable || m.settleTimer != nil {
			return
		}
		if m.settle <= 0 {
			m.reachable = true
			m.recomputeLocked()
			return
		}
		// Only report online after the signal has been stable for the
		// settle window, to avoid oscillating on flaky links
		m.settleTimer = time.AfterFunc(m.settle, m.settleFired)

	case SignalResume:
		m.cancelSettleLocked()
		if !m.reachable {
			m.reachable = true
			slog.Debug("connmon: resume, link assumed up")
		}
		m.recomputeLocked()
	}
}

func (m *Monitor) settleFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settleTimer == nil {
		return // cancelled by a down flip
	}
	m.settleTimer = nil
	m.reachable = true
	slog.Debug("connmon: link up, settled")
	m.recomputeLocked()
}

func (m *Monitor) cancelSettleLocked() {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}

// SetCycleActive is called by the sync engine at cycle start and end.
// The syncing state is only shown while online with a non-empty queue.
func (m *Monitor) SetCycleActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleActive = active
	m.recomputeLocked()
}

// Status returns the current derived connectivity state.
func (m *Monitor) Status() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online reports whether the link is currently considered reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Counts returns live queue totals.
func (m *Monitor) Counts() models.QueueCounts {
	if m.counter == nil {
		return models.QueueCounts{}
	}
	c, err := m.counter.Counts()
	if err != nil {
		slog.Warn("connmon: counts", "err", err)
		return models.QueueCounts{}
	}
	return c
}

// Subscribe returns a channel of state snapshots. Slow subscribers drop
// updates rather than blocking the state machine.
func (m *Monitor) Subscribe() <-chan Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, 16)
	m.subs = append(m.subs, ch)
	return ch
}

// recomputeLocked derives the public state and notifies subscribers on change.
func (m *Monitor) recomputeLocked() {
	next := models.StateOffline
	if m.reachable {
		next = models.StateOnlineIdle
		if m.cycleActive && m.snapshotCounts().Total() > 0 {
			next = models.StateSyncing
		}
	}

	if next == m.state {
		return
	}
	m.state = next
	slog.Debug("connmon: state", "state", next)

	snap := Snapshot{State: next, Counts: m.snapshotCounts()}
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// snapshotCounts fetches counts without touching monitor state (the
// counter reads the store, not monitor state).
func (m *Monitor) snapshotCounts() models.QueueCounts {
	if m.counter == nil {
		return models.QueueCounts{}
	}
	c, _ := m.counter.Counts()
	return c
}
