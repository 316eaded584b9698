package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/marcus/till/internal/checksum"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

func testPolicy() Policy {
	return Policy{
		RetryCap:    5,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
		BatchQuota:  25,
	}
}

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, testPolicy()), s
}

func sampleSale() models.SalePayload {
	return models.SalePayload{
		ClientName:    "Walk-in",
		Items:         []models.LineItem{{SKU: "ABC-1", Quantity: 2, UnitPrice: 9.99}},
		PaymentMethod: "cash",
		Total:         19.98,
	}
}

func TestEnqueueSale(t *testing.T) {
	q, _ := newTestQueue(t)

	id, err := q.EnqueueSale(sampleSale())
	if err != nil {
		t.Fatalf("EnqueueSale failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty transaction id")
	}

	tx, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tx.Kind != models.KindSale {
		t.Errorf("Kind = %s, want sale", tx.Kind)
	}
	if tx.SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", tx.SyncStatus)
	}
	if tx.Priority != models.PrioritySale {
		t.Errorf("Priority = %d, want %d", tx.Priority, models.PrioritySale)
	}
	if tx.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", tx.RetryCount)
	}
	if !checksum.Verify(tx.Payload, tx.Checksum) {
		t.Error("stored checksum does not verify against stored payload")
	}
	if tx.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestEnqueueStockAdjustment(t *testing.T) {
	q, _ := newTestQueue(t)

	id, err := q.EnqueueStockAdjustment(models.StockAdjustmentPayload{
		ProductID: "sku-9", Delta: -3, Reason: "damage",
	})
	if err != nil {
		t.Fatalf("EnqueueStockAdjustment failed: %v", err)
	}

	tx, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tx.Priority != models.PriorityStock {
		t.Errorf("Priority = %d, want %d", tx.Priority, models.PriorityStock)
	}
}

func TestPeekBatchPriorityOrder(t *testing.T) {
	q, _ := newTestQueue(t)

	// Enqueue a stock adjustment first, then a sale: the sale must still
	// come out first because its priority class is lower-numbered.
	stockID, err := q.EnqueueStockAdjustment(models.StockAdjustmentPayload{ProductID: "p1", Delta: 1, Reason: "recount"})
	if err != nil {
		t.Fatalf("enqueue stock failed: %v", err)
	}
	saleID, err := q.EnqueueSale(sampleSale())
	if err != nil {
		t.Fatalf("enqueue sale failed: %v", err)
	}

	batch, err := q.PeekBatch(25)
	if err != nil {
		t.Fatalf("PeekBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != saleID {
		t.Errorf("first = %s, want sale %s", batch[0].ID, saleID)
	}
	if batch[1].ID != stockID {
		t.Errorf("second = %s, want stock %s", batch[1].ID, stockID)
	}
}

func TestPeekBatchFIFOWithinClass(t *testing.T) {
	q, s := newTestQueue(t)

	first, _ := q.EnqueueSale(sampleSale())
	second, _ := q.EnqueueSale(sampleSale())

	// Force distinct creation times in case both land on the same tick
	tx, _ := q.Get(second)
	tx.CreatedAt = tx.CreatedAt.Add(time.Millisecond)
	data, _ := json.Marshal(tx)
	s.Put(store.RegionPending, second, data)

	batch, err := q.PeekBatch(25)
	if err != nil {
		t.Fatalf("PeekBatch failed: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != first || batch[1].ID != second {
		t.Errorf("batch not in creation order")
	}
}

func TestPeekBatchQuotaPerClass(t *testing.T) {
	q, _ := newTestQueue(t)

	for i := 0; i < 4; i++ {
		if _, err := q.EnqueueSale(sampleSale()); err != nil {
			t.Fatalf("enqueue sale failed: %v", err)
		}
	}
	if _, err := q.EnqueueStockAdjustment(models.StockAdjustmentPayload{ProductID: "p", Delta: 1, Reason: "recount"}); err != nil {
		t.Fatalf("enqueue stock failed: %v", err)
	}

	// Limit 2 applies per class: 2 sales + 1 stock, so a sales backlog
	// cannot starve the stock class.
	batch, err := q.PeekBatch(2)
	if err != nil {
		t.Fatalf("PeekBatch failed: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	if batch[2].Kind != models.KindStockAdjustment {
		t.Error("stock adjustment missing from quota-limited batch")
	}
}

func TestMarkErrorRetryAccounting(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())

	for i := 1; i <= 4; i++ {
		if err := q.MarkError(id, "connection refused"); err != nil {
			t.Fatalf("MarkError failed: %v", err)
		}
		tx, _ := q.Get(id)
		if tx.RetryCount != i {
			t.Fatalf("RetryCount = %d after %d failures", tx.RetryCount, i)
		}
		if tx.Terminal() {
			t.Fatalf("terminal after %d failures, cap is 5", i)
		}
	}

	// Fifth failure reaches the cap
	if err := q.MarkError(id, "connection refused"); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}
	tx, _ := q.Get(id)
	if tx.RetryCount != 5 {
		t.Errorf("RetryCount = %d, want 5", tx.RetryCount)
	}
	if !tx.Terminal() {
		t.Error("not terminal at retry cap")
	}
	if tx.ErrorClass != models.ErrorRetryExhausted {
		t.Errorf("ErrorClass = %s, want retry_exhausted", tx.ErrorClass)
	}

	// Terminal transactions are kept, never deleted, and never selected
	batch, _ := q.PeekBatch(25)
	if len(batch) != 0 {
		t.Error("terminal transaction selected for replay")
	}
	errs, _ := q.ListErrors()
	if len(errs) != 1 {
		t.Errorf("ListErrors returned %d, want 1", len(errs))
	}
}

func TestBackoffGatesReselection(t *testing.T) {
	q, s := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())

	if err := q.MarkError(id, "timeout"); err != nil {
		t.Fatalf("MarkError failed: %v", err)
	}

	// One failure: backoff is the 2s base, so the transaction is not
	// immediately eligible again.
	batch, _ := q.PeekBatch(25)
	if len(batch) != 0 {
		t.Error("errored transaction selected before backoff elapsed")
	}

	// Backdate the attempt past the backoff window
	tx, _ := q.Get(id)
	past := time.Now().UTC().Add(-time.Minute)
	tx.LastAttempt = &past
	data, _ := json.Marshal(tx)
	s.Put(store.RegionPending, id, data)

	batch, _ = q.PeekBatch(25)
	if len(batch) != 1 {
		t.Error("errored transaction not selected after backoff elapsed")
	}
}

func TestBackoffCurve(t *testing.T) {
	q, _ := newTestQueue(t)

	cases := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 5 * time.Minute}, // capped
	}
	for _, c := range cases {
		if got := q.backoff(c.retries); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.retries, got, c.want)
		}
	}
}

func TestMarkTerminalKeepsRetryCount(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())

	if err := q.MarkTerminal(id, "checksum mismatch", models.ErrorCorruption); err != nil {
		t.Fatalf("MarkTerminal failed: %v", err)
	}

	tx, _ := q.Get(id)
	if tx.RetryCount != 0 {
		t.Errorf("MarkTerminal changed RetryCount to %d", tx.RetryCount)
	}
	if !tx.Terminal() {
		t.Error("corruption-classed transaction not terminal")
	}

	batch, _ := q.PeekBatch(25)
	if len(batch) != 0 {
		t.Error("corrupted transaction selected for replay")
	}
}

func TestMarkSyncingAndDone(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())

	if err := q.MarkSyncing(id); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}
	tx, _ := q.Get(id)
	if tx.SyncStatus != models.SyncSyncing {
		t.Errorf("SyncStatus = %s, want syncing", tx.SyncStatus)
	}
	if tx.LastAttempt == nil {
		t.Error("LastAttempt not stamped")
	}

	if err := q.MarkDone(id); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if _, err := q.Get(id); err == nil {
		t.Error("transaction still present after MarkDone")
	}
}

func TestResubmit(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())
	q.MarkTerminal(id, "rejected: invalid sku", models.ErrorRejected)

	newID, err := q.Resubmit(id)
	if err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if newID == id {
		t.Error("Resubmit reused the old id")
	}

	if _, err := q.Get(id); err == nil {
		t.Error("old record still present after resubmit")
	}

	fresh, err := q.Get(newID)
	if err != nil {
		t.Fatalf("Get resubmitted failed: %v", err)
	}
	if fresh.SyncStatus != models.SyncPending {
		t.Errorf("resubmitted status = %s, want pending", fresh.SyncStatus)
	}
	if fresh.RetryCount != 0 {
		t.Errorf("resubmitted RetryCount = %d, want 0", fresh.RetryCount)
	}
	if fresh.ErrorClass != "" || fresh.ErrorMessage != "" {
		t.Error("resubmitted transaction carried over error state")
	}
}

func TestResubmitRequiresErrorState(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())

	if _, err := q.Resubmit(id); err == nil {
		t.Error("Resubmit accepted a pending transaction")
	}
}

func TestAcknowledge(t *testing.T) {
	q, _ := newTestQueue(t)
	id, _ := q.EnqueueSale(sampleSale())
	q.MarkTerminal(id, "rejected", models.ErrorRejected)

	if err := q.Acknowledge(id); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if _, err := q.Get(id); err == nil {
		t.Error("transaction still present after Acknowledge")
	}
}

func TestCounts(t *testing.T) {
	q, _ := newTestQueue(t)

	a, _ := q.EnqueueSale(sampleSale())
	q.EnqueueSale(sampleSale())
	b, _ := q.EnqueueSale(sampleSale())

	q.MarkSyncing(a)
	q.MarkError(b, "timeout")

	counts, err := q.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Pending != 1 || counts.Syncing != 1 || counts.Error != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if counts.Total() != 3 {
		t.Errorf("Total = %d, want 3", counts.Total())
	}
}
