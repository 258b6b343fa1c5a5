// Package store defines the invoice store collaborator: the authoritative
// owner of invoice balances. The reconciliation core only reads open invoices
// at the top of a run and requests balance mutations through ApplyPayment.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// InvoiceStore is the contract the reconciliation core requires of the
// invoice system.
type InvoiceStore interface {
	// LoadOpenInvoices returns the tenant's invoices with outstanding
	// balance > 0, loaded once per run.
	LoadOpenInvoices(ctx context.Context, tenantID string) ([]models.InvoiceCandidate, error)

	// ApplyPayment atomically reduces an invoice's outstanding balance and
	// records the payment. It must fail, leaving the balance untouched,
	// if the reduction would make the balance negative or the invoice was
	// modified concurrently.
	ApplyPayment(ctx context.Context, tenantID, invoiceID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// ErrBalanceConflict is returned by ApplyPayment when the reduction cannot be
// applied atomically (insufficient balance or unknown invoice).
var ErrBalanceConflict = fmt.Errorf("balance reduction conflicts with current invoice state")

type invoiceRow struct {
	candidate models.InvoiceCandidate
}

// MemoryInvoiceStore is a mutex-guarded in-process InvoiceStore used by tests
// and the CSV-fixture CLI mode. It enforces the same atomic non-negative
// primitive the Postgres store does.
type MemoryInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*invoiceRow // keyed by tenantID \x1f invoiceID
}

// NewMemoryInvoiceStore creates a store seeded with the given invoices.
func NewMemoryInvoiceStore(invoices []models.InvoiceCandidate) *MemoryInvoiceStore {
	s := &MemoryInvoiceStore{invoices: make(map[string]*invoiceRow, len(invoices))}
	for _, inv := range invoices {
		s.invoices[invoiceKey(inv.TenantID, inv.InvoiceID)] = &invoiceRow{candidate: inv}
	}
	return s
}

func invoiceKey(tenantID, invoiceID string) string {
	return tenantID + "\x1f" + invoiceID
}

// LoadOpenInvoices implements InvoiceStore. Returned candidates are copies;
// the caller cannot mutate store state through them.
func (s *MemoryInvoiceStore) LoadOpenInvoices(_ context.Context, tenantID string) ([]models.InvoiceCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []models.InvoiceCandidate
	for _, row := range s.invoices {
		if row.candidate.TenantID == tenantID && row.candidate.Outstanding.IsPositive() {
			open = append(open, row.candidate)
		}
	}
	return open, nil
}

// ApplyPayment implements InvoiceStore.
func (s *MemoryInvoiceStore) ApplyPayment(_ context.Context, tenantID, invoiceID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, recerrors.StoreError(recerrors.CodeStoreError, "apply_payment",
			fmt.Errorf("payment amount must be positive, got %s", amount.String()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.invoices[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return decimal.Zero, ErrBalanceConflict
	}
	if row.candidate.Outstanding.LessThan(amount) {
		return decimal.Zero, ErrBalanceConflict
	}

	row.candidate.Outstanding = row.candidate.Outstanding.Sub(amount)
	return row.candidate.Outstanding, nil
}

// Balance returns an invoice's current outstanding balance, for tests and
// fixture inspection.
func (s *MemoryInvoiceStore) Balance(tenantID, invoiceID string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.invoices[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return decimal.Zero, false
	}
	return row.candidate.Outstanding, true
}
