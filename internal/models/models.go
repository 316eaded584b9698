package models

import (
	"encoding/json"
	"time"
)

// SyncStatus represents the replay state of a pending transaction
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// Kind represents the business type of a pending transaction
type Kind string

const (
	KindSale            Kind = "sale"
	KindStockAdjustment Kind = "stock_adjustment"
)

// Priority is the replay priority class of a transaction.
// Lower values replay first. Class 3 is reserved for future low-priority kinds.
type Priority int

const (
	PrioritySale  Priority = 1
	PriorityStock Priority = 2
	PriorityLow   Priority = 3
)

// PriorityFor returns the fixed priority class for a transaction kind.
func PriorityFor(kind Kind) Priority {
	switch kind {
	case KindSale:
		return PrioritySale
	case KindStockAdjustment:
		return PriorityStock
	default:
		return PriorityLow
	}
}

// ErrorClass classifies why a transaction is in error state.
// Transport failures are retryable up to the cap; the rest are terminal.
type ErrorClass string

const (
	ErrorTransport      ErrorClass = "transport"
	ErrorCorruption     ErrorClass = "corruption"
	ErrorRejected       ErrorClass = "rejected"
	ErrorRetryExhausted ErrorClass = "retry_exhausted"
)

// ConnectionState represents the derived connectivity status
type ConnectionState string

const (
	StateOffline    ConnectionState = "offline"
	StateOnlineIdle ConnectionState = "online-idle"
	StateSyncing    ConnectionState = "syncing"
)

// LineItem is a single sold item within a sale payload
type LineItem struct {
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// SalePayload is the business data of a sale transaction
type SalePayload struct {
	ClientName    string     `json:"client_name"`
	ClientTaxID   string     `json:"client_tax_id,omitempty"`
	Items         []LineItem `json:"items"`
	PaymentMethod string     `json:"payment_method"`
	Total         float64    `json:"total"`
}

// StockAdjustmentPayload is the business data of a stock adjustment
type StockAdjustmentPayload struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id,omitempty"`
	Delta      int    `json:"delta"`
	Reason     string `json:"reason"`
}

// PendingTransaction is a unit of offline work awaiting replay to the server.
// The ID doubles as the idempotency key toward the remote authority and is
// never reused. Payload is the kind-specific business data as raw JSON.
type PendingTransaction struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	Priority     Priority        `json:"priority"`
	SyncStatus   SyncStatus      `json:"sync_status"`
	RetryCount   int             `json:"retry_count"`
	Checksum     string          `json:"checksum"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorClass   ErrorClass      `json:"error_class,omitempty"`
	LastAttempt  *time.Time      `json:"last_attempt,omitempty"`
}

// Terminal reports whether no further automatic action will be taken for
// this transaction. Terminal transactions require manual resolution.
func (t *PendingTransaction) Terminal() bool {
	if t.SyncStatus != SyncError {
		return false
	}
	switch t.ErrorClass {
	case ErrorCorruption, ErrorRejected, ErrorRetryExhausted:
		return true
	}
	return false
}

// CachedEntity is a read-side projection of remote reference data.
// Entries are replaced wholesale; a refresh with an equal or lower version
// than the stored one is discarded.
type CachedEntity struct {
	Key      string          `json:"key"`
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
	Version  int64           `json:"version"`
}

// BackupType distinguishes automatic from caller-invoked snapshots
type BackupType string

const (
	BackupAuto   BackupType = "auto"
	BackupManual BackupType = "manual"
)

// LocalBackup is an immutable full-store snapshot
type LocalBackup struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      BackupType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// QueueCounts holds live per-status transaction totals for observability
type QueueCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Error   int `json:"error"`
}

// Total returns the number of transactions in any in-flight state.
func (c QueueCounts) Total() int {
	return c.Pending + c.Syncing + c.Error
}

// HistoryEntry records the outcome of one replay attempt
type HistoryEntry struct {
	TransactionID string    `json:"transaction_id"`
	Kind          Kind      `json:"kind"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
