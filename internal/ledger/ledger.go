// Package ledger tracks which external transaction ids have already been
// reconciled, per tenant, across runs.
//
// The ledger is the single source of truth preventing double application of a
// payment: an entry is written only after a confirmed balance mutation, and
// entries are never deleted by this subsystem.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// Entry records one reconciled external transaction.
type Entry struct {
	TenantID      string          `json:"tenantId"`
	ExternalTxnID string          `json:"externalTxnId"`
	InvoiceID     string          `json:"invoiceId"`
	AppliedAmount decimal.Decimal `json:"appliedAmount"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks entry invariants before a write.
func (e *Entry) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("ledger entry tenant id cannot be empty")
	}
	if e.ExternalTxnID == "" {
		return fmt.Errorf("ledger entry external txn id cannot be empty")
	}
	if e.InvoiceID == "" {
		return fmt.Errorf("ledger entry invoice id cannot be empty")
	}
	if e.AppliedAmount.IsNegative() {
		return fmt.Errorf("ledger entry applied amount cannot be negative")
	}
	return nil
}

// Ledger is the dedup store contract. Implementations must make Record
// idempotent: recording an id that already exists is not an error.
type Ledger interface {
	// Has reports whether the external transaction id was already
	// reconciled for the tenant.
	Has(ctx context.Context, tenantID, externalTxnID string) (bool, error)

	// Record persists an entry. Called only after a confirmed balance
	// mutation.
	Record(ctx context.Context, entry Entry) error
}

func entryKey(tenantID, externalTxnID string) string {
	return tenantID + "\x1f" + externalTxnID
}

// MemoryLedger is an in-process Ledger for tests and ephemeral runs.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Entry)}
}

// Has implements Ledger.
func (l *MemoryLedger) Has(_ context.Context, tenantID, externalTxnID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[entryKey(tenantID, externalTxnID)]
	return ok, nil
}

// Record implements Ledger. The first write wins; repeated records of the
// same id are ignored.
func (l *MemoryLedger) Record(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return recerrors.Wrap(err, recerrors.CategoryStore, recerrors.CodeLedgerError, "invalid ledger entry")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := entryKey(entry.TenantID, entry.ExternalTxnID)
	if _, exists := l.entries[key]; !exists {
		l.entries[key] = entry
	}
	return nil
}

// Len returns the number of recorded entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// FileLedger persists entries as a JSON file so reconciliation stays
// idempotent across CLI invocations. Writes go through a temp file and
// rename, so a crash mid-write cannot corrupt the ledger.
type FileLedger struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// NewFileLedger loads (or initializes) a ledger file.
func NewFileLedger(path string) (*FileLedger, error) {
	l := &FileLedger{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, recerrors.FileError(recerrors.CodeFilePermission, path, err)
	}
	if len(data) == 0 {
		return l, nil
	}

	var stored []Entry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, recerrors.Wrap(err, recerrors.CategoryStore, recerrors.CodeLedgerError,
			fmt.Sprintf("ledger file %s is corrupt", path)).
			WithSuggestion("restore the ledger file from backup; deleting it breaks idempotency")
	}
	for _, entry := range stored {
		l.entries[entryKey(entry.TenantID, entry.ExternalTxnID)] = entry
	}
	return l, nil
}

// Has implements Ledger.
func (l *FileLedger) Has(_ context.Context, tenantID, externalTxnID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[entryKey(tenantID, externalTxnID)]
	return ok, nil
}

// Record implements Ledger, flushing to disk on every write so a committed
// allocation is durable before the row is reported.
func (l *FileLedger) Record(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return recerrors.Wrap(err, recerrors.CategoryStore, recerrors.CodeLedgerError, "invalid ledger entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := entryKey(entry.TenantID, entry.ExternalTxnID)
	if _, exists := l.entries[key]; exists {
		return nil
	}
	l.entries[key] = entry
	return l.flushLocked()
}

func (l *FileLedger) flushLocked() error {
	stored := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		stored = append(stored, entry)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return recerrors.Wrap(err, recerrors.CategoryStore, recerrors.CodeLedgerError, "failed to encode ledger")
	}

	tmp := l.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return recerrors.FileError(recerrors.CodeFilePermission, l.path, err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return recerrors.FileError(recerrors.CodeFilePermission, tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return recerrors.FileError(recerrors.CodeFilePermission, l.path, err)
	}
	return nil
}
