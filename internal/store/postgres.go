package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// PostgresInvoiceStore backs InvoiceStore with an invoices table. The
// balance mutation is a single conditional UPDATE, so two concurrent runs
// cannot both apply a full payment against the same outstanding balance: the
// second one fails the `outstanding >= amount` guard and surfaces as a
// posting failure.
type PostgresInvoiceStore struct {
	pool *pgxpool.Pool
}

// NewPostgresInvoiceStore wraps an existing connection pool.
func NewPostgresInvoiceStore(pool *pgxpool.Pool) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{pool: pool}
}

// Connect opens a pgx pool for the given database URL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, recerrors.StoreError(recerrors.CodeStoreError, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, recerrors.StoreError(recerrors.CodeStoreError, "ping", err)
	}
	return pool, nil
}

// LoadOpenInvoices implements InvoiceStore.
func (s *PostgresInvoiceStore) LoadOpenInvoices(ctx context.Context, tenantID string) ([]models.InvoiceCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT invoice_id, tenant_id, reference, COALESCE(phone, ''), outstanding, issue_date
		 FROM invoices
		 WHERE tenant_id = $1 AND outstanding > 0
		 ORDER BY issue_date, invoice_id`,
		tenantID,
	)
	if err != nil {
		return nil, recerrors.StoreError(recerrors.CodeStoreError, "load_open_invoices", err)
	}
	defer rows.Close()

	var invoices []models.InvoiceCandidate
	for rows.Next() {
		var c models.InvoiceCandidate
		if err := rows.Scan(&c.InvoiceID, &c.TenantID, &c.Reference, &c.Phone, &c.Outstanding, &c.IssueDate); err != nil {
			return nil, recerrors.StoreError(recerrors.CodeStoreError, "scan_invoice", err)
		}
		invoices = append(invoices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, recerrors.StoreError(recerrors.CodeStoreError, "load_open_invoices", err)
	}
	return invoices, nil
}

// ApplyPayment implements InvoiceStore: the balance reduction and the payment
// record are committed in one transaction scoped to the invoice row.
func (s *PostgresInvoiceStore) ApplyPayment(ctx context.Context, tenantID, invoiceID string, amount decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return decimal.Zero, recerrors.StoreError(recerrors.CodeStoreError, "begin_tx", err)
	}
	defer tx.Rollback(ctx)

	var newBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE invoices
		 SET outstanding = outstanding - $3
		 WHERE tenant_id = $1 AND invoice_id = $2 AND outstanding >= $3
		 RETURNING outstanding`,
		tenantID, invoiceID, amount,
	).Scan(&newBalance)
	if err == pgx.ErrNoRows {
		// Unknown invoice or insufficient balance: the guard refused
		// the mutation atomically.
		return decimal.Zero, ErrBalanceConflict
	}
	if err != nil {
		return decimal.Zero, recerrors.StoreError(recerrors.CodeStoreError, "reduce_balance", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO invoice_payments (tenant_id, invoice_id, amount, posted_at)
		 VALUES ($1, $2, $3, NOW())`,
		tenantID, invoiceID, amount,
	)
	if err != nil {
		return decimal.Zero, recerrors.StoreError(recerrors.CodeStoreError, "record_payment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, recerrors.StoreError(recerrors.CodeStoreError, "commit", err)
	}
	return newBalance, nil
}
