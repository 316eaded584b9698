package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/remote"
	"github.com/marcus/till/internal/store"
)

// fakeRemote scripts per-call submission outcomes and records order.
type fakeRemote struct {
	mu        sync.Mutex
	submitted []models.Kind
	ids       []string
	results   map[string]*remote.SubmitResult
	errs      map[string]error
	onSubmit  func(n int) // invoked with the 1-based call number
}

func (f *fakeRemote) Submit(ctx context.Context, tx *models.PendingTransaction) (*remote.SubmitResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, tx.Kind)
	f.ids = append(f.ids, tx.ID)
	n := len(f.ids)
	f.mu.Unlock()

	if f.onSubmit != nil {
		f.onSubmit(n)
	}
	if err, ok := f.errs[tx.ID]; ok {
		return nil, err
	}
	if res, ok := f.results[tx.ID]; ok {
		return res, nil
	}
	return &remote.SubmitResult{Outcome: remote.OutcomeAccepted}, nil
}

// fakeMonitor is an engine-facing monitor with a switchable link.
type fakeMonitor struct {
	mu     sync.Mutex
	online bool
	active bool
}

func (m *fakeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) SetCycleActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

func (m *fakeMonitor) setOnline(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = v
}

func newTestEngine(t *testing.T, submitter Submitter, monitor Monitor) (*Engine, *queue.Queue, *store.Store) {
	t.Helper()
	s, err := store.Initialize(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := queue.New(s, queue.Policy{
		RetryCap:    5,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
		BatchQuota:  25,
	})
	eng := New(q, s, submitter, monitor, Policy{BatchQuota: 25, SubmitTimeout: time.Second})
	return eng, q, s
}

func enqueueSale(t *testing.T, q *queue.Queue) string {
	t.Helper()
	id, err := q.EnqueueSale(models.SalePayload{
		ClientName:    "Walk-in",
		Items:         []models.LineItem{{SKU: "ABC-1", Quantity: 1, UnitPrice: 5}},
		PaymentMethod: "cash",
		Total:         5,
	})
	require.NoError(t, err)
	return id
}

func TestRunCycleDrainsQueue(t *testing.T) {
	fake := &fakeRemote{}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: true})

	enqueueSale(t, q)
	enqueueSale(t, q)

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Selected)
	assert.Equal(t, 2, stats.Done)

	counts, err := q.Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
}

func TestRunCycleSalesBeforeStock(t *testing.T) {
	fake := &fakeRemote{}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: true})

	// Stock adjustment enqueued first; the sale must still replay first
	_, err := q.EnqueueStockAdjustment(models.StockAdjustmentPayload{ProductID: "p1", Delta: -1, Reason: "damage"})
	require.NoError(t, err)
	enqueueSale(t, q)

	_, err = eng.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.submitted, 2)
	assert.Equal(t, models.KindSale, fake.submitted[0])
	assert.Equal(t, models.KindStockAdjustment, fake.submitted[1])
}

func TestRunCycleOfflineIsNoop(t *testing.T) {
	fake := &fakeRemote{}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: false})

	enqueueSale(t, q)

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Selected)
	assert.Empty(t, fake.submitted)
}

func TestRunCycleSingleFlight(t *testing.T) {
	monitor := &fakeMonitor{online: true}
	release := make(chan struct{})
	started := make(chan struct{})
	fake := &fakeRemote{
		onSubmit: func(n int) {
			if n == 1 {
				close(started)
				<-release
			}
		},
	}
	eng, q, _ := newTestEngine(t, fake, monitor)
	enqueueSale(t, q)

	done := make(chan struct{})
	go func() {
		eng.RunCycle(context.Background())
		close(done)
	}()

	<-started
	// A second trigger while the first cycle is mid-submit is a no-op
	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats)

	close(release)
	<-done
}

func TestRunCycleCorruptionIsTerminal(t *testing.T) {
	fake := &fakeRemote{}
	eng, q, s := newTestEngine(t, fake, &fakeMonitor{online: true})

	id := enqueueSale(t, q)

	// Flip one byte of the stored payload behind the queue's back
	tx, err := q.Get(id)
	require.NoError(t, err)
	tx.Payload = []byte(`{"client_name":"Tampered","items":[],"payment_method":"cash","total":0}`)
	data, merr := json.Marshal(tx)
	require.NoError(t, merr)
	require.NoError(t, s.Put(store.RegionPending, id, data))

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Corrupted)
	assert.Empty(t, fake.submitted, "corrupted payload must never reach the remote")

	// Kept for review, never deleted
	after, err := q.Get(id)
	require.NoError(t, err)
	assert.True(t, after.Terminal())
	assert.Equal(t, models.ErrorCorruption, after.ErrorClass)

	// A later cycle does not pick it up again
	stats, err = eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Selected)
}

func TestRunCycleRejectionIsTerminal(t *testing.T) {
	fake := &fakeRemote{results: map[string]*remote.SubmitResult{}}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: true})

	id := enqueueSale(t, q)
	fake.results[id] = &remote.SubmitResult{Outcome: remote.OutcomeRejected, Reason: "invalid sku"}

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)

	after, err := q.Get(id)
	require.NoError(t, err)
	assert.True(t, after.Terminal())
	assert.Equal(t, models.ErrorRejected, after.ErrorClass)
	assert.Equal(t, "invalid sku", after.ErrorMessage)
	assert.Equal(t, 0, after.RetryCount, "rejection must not count as a retry")
}

func TestRunCycleTransportFailureRetries(t *testing.T) {
	fake := &fakeRemote{errs: map[string]error{}}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: true})

	id := enqueueSale(t, q)
	fake.errs[id] = errors.New("connection refused")

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	after, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncError, after.SyncStatus)
	assert.Equal(t, 1, after.RetryCount)
	assert.False(t, after.Terminal())
	assert.Equal(t, models.ErrorTransport, after.ErrorClass)
}

func TestRunCycleStopsOnOfflineTransition(t *testing.T) {
	monitor := &fakeMonitor{online: true}
	fake := &fakeRemote{
		onSubmit: func(n int) {
			if n == 1 {
				monitor.setOnline(false)
			}
		},
	}
	eng, q, _ := newTestEngine(t, fake, monitor)

	enqueueSale(t, q)
	enqueueSale(t, q)
	enqueueSale(t, q)

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Stopped)
	assert.Len(t, fake.submitted, 1, "no new submissions after the offline flip")
}

func TestRunCycleReconcilesSyncingLeftovers(t *testing.T) {
	fake := &fakeRemote{results: map[string]*remote.SubmitResult{}}
	eng, q, _ := newTestEngine(t, fake, &fakeMonitor{online: true})

	// Simulate a crash mid-submit: the record is stuck in syncing
	id := enqueueSale(t, q)
	require.NoError(t, q.MarkSyncing(id))

	// The remote already applied it; resubmission under the same
	// idempotency key answers duplicate-accepted
	fake.results[id] = &remote.SubmitResult{Outcome: remote.OutcomeAccepted, Reason: "duplicate"}

	stats, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Selected)
	assert.Equal(t, 1, stats.Done)
	require.Len(t, fake.ids, 1)
	assert.Equal(t, id, fake.ids[0], "leftover must replay under its original idempotency key")

	counts, err := q.Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
}

func TestRunCycleRecordsHistory(t *testing.T) {
	fake := &fakeRemote{}
	eng, q, s := newTestEngine(t, fake, &fakeMonitor{online: true})

	id := enqueueSale(t, q)

	_, err := eng.RunCycle(context.Background())
	require.NoError(t, err)

	entries, err := ReadHistory(s, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].TransactionID)
	assert.Equal(t, "done", entries[0].Outcome)
}
