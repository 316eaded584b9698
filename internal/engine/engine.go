// Package engine drives replay of queued transactions to the remote
// authority. At most one cycle runs at a time; triggering a cycle while
// one is in flight is a no-op. Each transaction is held under a per-id
// lock for the whole submit-and-resolve step so no two mutations ever
// race on the same record.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/till/internal/checksum"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/remote"
	"github.com/marcus/till/internal/store"
)

// Submitter submits one transaction to the remote authority.
// Satisfied by *remote.Client.
type Submitter interface {
	Submit(ctx context.Context, tx *models.PendingTransaction) (*remote.SubmitResult, error)
}

// Monitor is the engine's view of the connection monitor.
type Monitor interface {
	Online() bool
	SetCycleActive(bool)
}

// Policy holds the engine's cycle parameters.
type Policy struct {
	BatchQuota    int
	SubmitTimeout time.Duration
}

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	Selected  int
	Done      int
	Corrupted int
	Rejected  int
	Failed    int
	Stopped   bool // cycle ended early on an offline transition
}

// Engine replays pending transactions when connectivity allows.
type Engine struct {
	queue     *queue.Queue
	store     *store.Store
	submitter Submitter
	monitor   Monitor
	policy    Policy

	running atomic.Bool
	idLocks sync.Map // transaction id -> *sync.Mutex
}

// New creates a sync engine.
func New(q *queue.Queue, s *store.Store, submitter Submitter, monitor Monitor, policy Policy) *Engine {
	return &Engine{
		queue:     q,
		store:     s,
		submitter: submitter,
		monitor:   monitor,
		policy:    policy,
	}
}

// RunCycle executes one replay cycle. Invoking it while a cycle is
// already running returns immediately with a nil stats pointer, so the
// periodic timer and the online-transition trigger can both call it
// without coordination.
func (e *Engine) RunCycle(ctx context.Context) (*CycleStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer e.running.Store(false)

	if !e.monitor.Online() {
		return &CycleStats{}, nil
	}

	e.monitor.SetCycleActive(true)
	// Completion is always reported, however many items succeeded
	defer e.monitor.SetCycleActive(false)

	stats := &CycleStats{}

	// Transactions left syncing by a crash or an offline transition are
	// reconciled first: resubmission is safe because the id doubles as
	// the idempotency key, so an already-applied submit comes back as a
	// duplicate, not a second effect.
	leftovers, err := e.queue.ListByStatus(models.SyncSyncing)
	if err != nil {
		return stats, fmt.Errorf("list syncing leftovers: %w", err)
	}

	batch, err := e.queue.PeekBatch(e.policy.BatchQuota)
	if err != nil {
		return stats, fmt.Errorf("peek batch: %w", err)
	}

	work := append(leftovers, batch...)
	stats.Selected = len(work)
	if len(work) == 0 {
		return stats, nil
	}

	slog.Debug("engine: cycle start", "selected", stats.Selected, "leftovers", len(leftovers))

	for i := range work {
		if ctx.Err() != nil {
			stats.Stopped = true
			break
		}
		// No new submissions once an offline transition is observed;
		// anything already submitted resolves or times out on its own
		if !e.monitor.Online() {
			stats.Stopped = true
			slog.Debug("engine: offline mid-cycle, stopping")
			break
		}
		e.replay(ctx, &work[i], stats)
	}

	slog.Debug("engine: cycle end",
		"done", stats.Done, "failed", stats.Failed,
		"rejected", stats.Rejected, "corrupted", stats.Corrupted,
		"stopped", stats.Stopped)
	return stats, nil
}

// replay performs the submit-and-resolve step for one transaction.
func (e *Engine) replay(ctx context.Context, tx *models.PendingTransaction, stats *CycleStats) {
	unlock := e.lockID(tx.ID)
	defer unlock()

	// Re-verify integrity immediately before replay: a mismatch means the
	// stored payload rotted between enqueue and now. Terminal, never
	// retried, never deleted.
	if !checksum.Verify(tx.Payload, tx.Checksum) {
		msg := "payload checksum mismatch, storage corruption suspected"
		if err := e.queue.MarkTerminal(tx.ID, msg, models.ErrorCorruption); err != nil {
			slog.Warn("engine: mark corrupted", "id", tx.ID, "err", err)
		}
		e.record(tx, "corrupted", msg)
		stats.Corrupted++
		return
	}

	if err := e.queue.MarkSyncing(tx.ID); err != nil {
		slog.Warn("engine: mark syncing", "id", tx.ID, "err", err)
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.policy.SubmitTimeout)
	result, err := e.submitter.Submit(submitCtx, tx)
	cancel()

	if err != nil {
		// Transport failure or timeout: retryable with backoff up to the cap
		if markErr := e.queue.MarkError(tx.ID, err.Error()); markErr != nil {
			slog.Warn("engine: mark error", "id", tx.ID, "err", markErr)
		}
		e.record(tx, "transport_failure", err.Error())
		stats.Failed++
		return
	}

	switch result.Outcome {
	case remote.OutcomeAccepted:
		if err := e.queue.MarkDone(tx.ID); err != nil {
			slog.Warn("engine: mark done", "id", tx.ID, "err", err)
			return
		}
		e.record(tx, "done", result.Reason)
		stats.Done++

	case remote.OutcomeRejected:
		// Explicit rejection: terminal, surfaced, never auto-retried
		if err := e.queue.MarkTerminal(tx.ID, result.Reason, models.ErrorRejected); err != nil {
			slog.Warn("engine: mark rejected", "id", tx.ID, "err", err)
		}
		e.record(tx, "rejected", result.Reason)
		stats.Rejected++

	default:
		slog.Warn("engine: unknown outcome", "id", tx.ID, "outcome", result.Outcome)
	}
}

// lockID acquires the logical per-id lock and returns its release func.
func (e *Engine) lockID(id string) func() {
	v, _ := e.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		e.idLocks.Delete(id)
	}
}

// record appends a replay outcome to the history region. History is
// observability only; failures here never fail the cycle.
func (e *Engine) record(tx *models.PendingTransaction, outcome, detail string) {
	entry := models.HistoryEntry{
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		Outcome:       outcome,
		Detail:        detail,
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("engine: encode history", "id", tx.ID, "err", err)
		return
	}
	// Keys sort chronologically so history reads back in replay order
	key := entry.Timestamp.Format(time.RFC3339Nano) + "-" + tx.ID
	if err := e.store.Put(store.RegionHistory, key, data); err != nil {
		slog.Warn("engine: record history", "id", tx.ID, "err", err)
	}
}
