package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testEntry(tenant, txnID string) Entry {
	return Entry{
		TenantID:      tenant,
		ExternalTxnID: txnID,
		InvoiceID:     "inv-1",
		AppliedAmount: decimal.NewFromInt(500),
		Timestamp:     time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	has, err := l.Has(ctx, "t1", "MM1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Error("empty ledger should not contain MM1")
	}

	if err := l.Record(ctx, testEntry("t1", "MM1")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	has, _ = l.Has(ctx, "t1", "MM1")
	if !has {
		t.Error("recorded entry not found")
	}

	// Same id under a different tenant is a different entry.
	has, _ = l.Has(ctx, "t2", "MM1")
	if has {
		t.Error("tenant scoping broken")
	}
}

func TestMemoryLedgerRecordIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	entry := testEntry("t1", "MM1")
	if err := l.Record(ctx, entry); err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	if err := l.Record(ctx, entry); err != nil {
		t.Fatalf("repeated record must not error: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", l.Len())
	}
}

func TestMemoryLedgerValidatesEntries(t *testing.T) {
	l := NewMemoryLedger()
	err := l.Record(context.Background(), Entry{TenantID: "t1"})
	if err == nil {
		t.Error("expected validation error for incomplete entry")
	}
}

func TestFileLedgerPersistsAcrossLoads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := NewFileLedger(path)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	if err := l.Record(ctx, testEntry("t1", "MM1")); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := l.Record(ctx, testEntry("t1", "MM2")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// A fresh load must see both entries.
	reloaded, err := NewFileLedger(path)
	if err != nil {
		t.Fatalf("failed to reload ledger: %v", err)
	}
	for _, id := range []string{"MM1", "MM2"} {
		has, err := reloaded.Has(ctx, "t1", id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !has {
			t.Errorf("entry %s lost across reload", id)
		}
	}
}

func TestFileLedgerMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	l, err := NewFileLedger(path)
	if err != nil {
		t.Fatalf("missing file should initialize empty, got %v", err)
	}
	has, _ := l.Has(context.Background(), "t1", "MM1")
	if has {
		t.Error("fresh ledger should be empty")
	}
}

func TestEntryValidate(t *testing.T) {
	entry := testEntry("t1", "MM1")
	if err := entry.Validate(); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}

	bad := entry
	bad.AppliedAmount = decimal.NewFromInt(-5)
	if err := bad.Validate(); err == nil {
		t.Error("negative applied amount should fail validation")
	}
}
