package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// PostgresLedger stores dedup entries in a reconciliation_ledger table with a
// (tenant_id, external_txn_id) primary key. The insert uses ON CONFLICT DO
// NOTHING so concurrent runs recording the same id stay idempotent.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wraps an existing connection pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Has implements Ledger.
func (l *PostgresLedger) Has(ctx context.Context, tenantID, externalTxnID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM reconciliation_ledger
			WHERE tenant_id = $1 AND external_txn_id = $2
		)`,
		tenantID, externalTxnID,
	).Scan(&exists)
	if err != nil {
		return false, recerrors.StoreError(recerrors.CodeLedgerError, "ledger_has", err)
	}
	return exists, nil
}

// Record implements Ledger.
func (l *PostgresLedger) Record(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return recerrors.Wrap(err, recerrors.CategoryStore, recerrors.CodeLedgerError, "invalid ledger entry")
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO reconciliation_ledger
			(tenant_id, external_txn_id, invoice_id, applied_amount, reconciled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, external_txn_id) DO NOTHING`,
		entry.TenantID, entry.ExternalTxnID, entry.InvoiceID, entry.AppliedAmount, entry.Timestamp,
	)
	if err != nil {
		return recerrors.StoreError(recerrors.CodeLedgerError, "ledger_record", err)
	}
	return nil
}
