// Package queue owns the lifecycle of pending transactions: durable
// enqueue, status transitions, retry bookkeeping, and priority-ordered
// retrieval for the sync engine.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/till/internal/checksum"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

// Policy holds the retry and batching parameters for the queue.
type Policy struct {
	RetryCap    int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	BatchQuota  int
}

// Queue manages pending transactions on top of the persistent store
type Queue struct {
	store  *store.Store
	policy Policy
}

// New creates a queue over the given store.
func New(s *store.Store, p Policy) *Queue {
	return &Queue{store: s, policy: p}
}

// EnqueueSale durably records a sale and returns its id. Once this
// returns, the caller may treat the sale as recorded even if the device
// never goes online again.
func (q *Queue) EnqueueSale(p models.SalePayload) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal sale: %w", err)
	}
	return q.enqueue(models.KindSale, payload)
}

// EnqueueStockAdjustment durably records a stock adjustment and returns its id.
func (q *Queue) EnqueueStockAdjustment(p models.StockAdjustmentPayload) (string, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal stock adjustment: %w", err)
	}
	return q.enqueue(models.KindStockAdjustment, payload)
}

func (q *Queue) enqueue(kind models.Kind, payload json.RawMessage) (string, error) {
	digest, err := checksum.Compute(payload)
	if err != nil {
		return "", fmt.Errorf("stamp checksum: %w", err)
	}

	tx := models.PendingTransaction{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		Priority:   models.PriorityFor(kind),
		SyncStatus: models.SyncPending,
		Checksum:   digest,
	}

	if err := q.save(&tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Get returns the transaction with the given id.
func (q *Queue) Get(id string) (*models.PendingTransaction, error) {
	data, err := q.store.Get(store.RegionPending, id)
	if err != nil {
		return nil, err
	}
	var tx models.PendingTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return &tx, nil
}

// PeekBatch returns replay-eligible transactions ordered by priority class
// then creation time. The limit applies per priority class per call, not
// to the whole batch, so a backlog of sales cannot starve stock
// adjustments across consecutive cycles.
func (q *Queue) PeekBatch(limit int) ([]models.PendingTransaction, error) {
	all, err := q.list()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	byClass := make(map[models.Priority][]models.PendingTransaction)
	for _, tx := range all {
		if !q.eligible(&tx, now) {
			continue
		}
		byClass[tx.Priority] = append(byClass[tx.Priority], tx)
	}

	classes := make([]models.Priority, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	var batch []models.PendingTransaction
	for _, c := range classes {
		txs := byClass[c]
		sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
		if limit > 0 && len(txs) > limit {
			txs = txs[:limit]
		}
		batch = append(batch, txs...)
	}
	return batch, nil
}

// eligible reports whether a transaction may be selected for replay now.
// Pending transactions always qualify. Errored ones qualify only below
// the retry cap, once their backoff delay has elapsed, and never when
// terminal (corruption, rejection, cap exceeded).
func (q *Queue) eligible(tx *models.PendingTransaction, now time.Time) bool {
	switch tx.SyncStatus {
	case models.SyncPending:
		return true
	case models.SyncError:
		if tx.Terminal() || tx.RetryCount >= q.policy.RetryCap {
			return false
		}
		if tx.LastAttempt == nil {
			return true
		}
		return !now.Before(tx.LastAttempt.Add(q.backoff(tx.RetryCount)))
	default:
		return false
	}
}

// backoff returns the re-selection delay after the given number of failed
// attempts: base doubled per retry, capped at the maximum interval.
func (q *Queue) backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	d := q.policy.BackoffBase
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= q.policy.BackoffMax {
			return q.policy.BackoffMax
		}
	}
	if d > q.policy.BackoffMax {
		return q.policy.BackoffMax
	}
	return d
}

// MarkSyncing transitions a transaction to syncing and stamps the attempt time.
func (q *Queue) MarkSyncing(id string) error {
	tx, err := q.Get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx.SyncStatus = models.SyncSyncing
	tx.LastAttempt = &now
	return q.save(tx)
}

// MarkDone deletes the transaction record after confirmed remote acceptance.
func (q *Queue) MarkDone(id string) error {
	return q.store.Delete(store.RegionPending, id)
}

// MarkError records a failed transport attempt: increments retryCount,
// sets the message, and flags the transaction terminal once the retry cap
// is reached.
func (q *Queue) MarkError(id, message string) error {
	tx, err := q.Get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx.SyncStatus = models.SyncError
	tx.RetryCount++
	tx.ErrorMessage = message
	tx.LastAttempt = &now
	if tx.RetryCount >= q.policy.RetryCap {
		tx.ErrorClass = models.ErrorRetryExhausted
	} else {
		tx.ErrorClass = models.ErrorTransport
	}
	return q.save(tx)
}

// MarkTerminal flags a transaction as permanently failed without touching
// retryCount: used for corruption and remote rejections, which auto-retry
// can never fix. The record is kept for manual review, never deleted here.
func (q *Queue) MarkTerminal(id, message string, class models.ErrorClass) error {
	tx, err := q.Get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx.SyncStatus = models.SyncError
	tx.ErrorMessage = message
	tx.ErrorClass = class
	tx.LastAttempt = &now
	return q.save(tx)
}

// ListErrors returns transactions in terminal error state for manual handling.
func (q *Queue) ListErrors() ([]models.PendingTransaction, error) {
	all, err := q.list()
	if err != nil {
		return nil, err
	}
	var out []models.PendingTransaction
	for _, tx := range all {
		if tx.SyncStatus == models.SyncError && (tx.Terminal() || tx.RetryCount >= q.policy.RetryCap) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByStatus returns all transactions currently in the given status.
func (q *Queue) ListByStatus(status models.SyncStatus) ([]models.PendingTransaction, error) {
	all, err := q.list()
	if err != nil {
		return nil, err
	}
	var out []models.PendingTransaction
	for _, tx := range all {
		if tx.SyncStatus == status {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Counts returns live per-status totals for the connection monitor.
func (q *Queue) Counts() (models.QueueCounts, error) {
	all, err := q.list()
	if err != nil {
		return models.QueueCounts{}, err
	}
	var c models.QueueCounts
	for _, tx := range all {
		switch tx.SyncStatus {
		case models.SyncPending:
			c.Pending++
		case models.SyncSyncing:
			c.Syncing++
		case models.SyncError:
			c.Error++
		}
	}
	return c, nil
}

// Resubmit clones a terminal transaction into a fresh one with a new id,
// new checksum, and zero retryCount, then removes the old record. This is
// the only way a transaction's retry bookkeeping "resets": by replacement,
// never in place.
func (q *Queue) Resubmit(id string) (string, error) {
	tx, err := q.Get(id)
	if err != nil {
		return "", err
	}
	if tx.SyncStatus != models.SyncError {
		return "", fmt.Errorf("transaction %s is not in error state", id)
	}

	newID, err := q.enqueue(tx.Kind, tx.Payload)
	if err != nil {
		return "", fmt.Errorf("resubmit %s: %w", id, err)
	}
	if err := q.store.Delete(store.RegionPending, id); err != nil {
		return "", fmt.Errorf("remove replaced transaction %s: %w", id, err)
	}
	return newID, nil
}

// Acknowledge removes a terminal transaction after explicit user review.
func (q *Queue) Acknowledge(id string) error {
	tx, err := q.Get(id)
	if err != nil {
		return err
	}
	if tx.SyncStatus != models.SyncError {
		return fmt.Errorf("transaction %s is not in error state", id)
	}
	return q.store.Delete(store.RegionPending, id)
}

func (q *Queue) list() ([]models.PendingTransaction, error) {
	values, err := q.store.ListValues(store.RegionPending)
	if err != nil {
		return nil, err
	}
	txs := make([]models.PendingTransaction, 0, len(values))
	for _, v := range values {
		var tx models.PendingTransaction
		if err := json.Unmarshal(v, &tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (q *Queue) save(tx *models.PendingTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}
	return q.store.Put(store.RegionPending, tx.ID, data)
}
