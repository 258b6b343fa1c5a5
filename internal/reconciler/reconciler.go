// Package reconciler drives a reconciliation run end to end: it walks the
// normalized statement row by row, consults the dedup ledger, asks the
// matching engine for a decision, and applies allocations through the
// invoice store.
//
// Rows are processed strictly in statement order. A failure on one row
// never aborts the run; only an invalid batch (rejected upstream by the
// parser) does.
package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/ledger"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/matcher"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/parsers"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/reporter"
	"github.com/Wheezy72/nuru-ERP-sub001/internal/store"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/logger"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// Row result reasons surfaced in reports.
const (
	ReasonAlreadyReconciled = "already_reconciled"
	ReasonParseError        = "parse_error"
	ReasonPostingFailed     = "posting_failed"
)

// RunRequest describes one reconciliation run.
type RunRequest struct {
	TenantID  string
	Statement *parsers.Statement
	DryRun    bool
}

// Validate checks that the request is usable.
func (r *RunRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return recerrors.ConfigError(recerrors.CodeMissingConfig, "tenant", nil)
	}
	if r.Statement == nil {
		return recerrors.ConfigError(recerrors.CodeMissingConfig, "statement", nil)
	}
	return nil
}

// Reconciler coordinates matching and allocation for a tenant's statements.
type Reconciler struct {
	invoices store.InvoiceStore
	ledger   ledger.Ledger
	config   *matcher.MatchingConfig
	logger   logger.Logger
}

// NewReconciler creates a reconciler over the given store and ledger. A nil
// config falls back to defaults.
func NewReconciler(invoices store.InvoiceStore, dedup ledger.Ledger, config *matcher.MatchingConfig) (*Reconciler, error) {
	if invoices == nil {
		return nil, recerrors.ConfigError(recerrors.CodeMissingConfig, "invoice store", nil)
	}
	if dedup == nil {
		return nil, recerrors.ConfigError(recerrors.CodeMissingConfig, "dedup ledger", nil)
	}
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid matching configuration")
	}

	return &Reconciler{
		invoices: invoices,
		ledger:   dedup,
		config:   config.Clone(),
		logger:   logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// Run executes one reconciliation pass over the request's statement and
// returns the full report. In dry-run mode no balance is modified and no
// ledger entry is written, but matching still consumes balances from the
// run's local view so the report mirrors a live run.
func (r *Reconciler) Run(ctx context.Context, req RunRequest) (*reporter.RunReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	r.logger.WithFields(logger.Fields{
		"tenant_id": req.TenantID,
		"rows":      len(req.Statement.Rows),
		"dry_run":   req.DryRun,
	}).Info("Starting reconciliation run")

	candidates, err := r.invoices.LoadOpenInvoices(ctx, req.TenantID)
	if err != nil {
		return nil, recerrors.StoreError(recerrors.CodeStoreError, "load_open_invoices", err)
	}

	index := matcher.NewCandidateIndex(candidates)
	engine := matcher.NewMatchingEngine(index, r.config)

	agg := reporter.NewAggregator(req.TenantID, req.DryRun)
	progress := logger.NewProgressTracker(r.logger, "reconcile", int64(len(req.Statement.Rows)), 5*time.Second)

	// Transaction ids already handled within this run. Maintained in both
	// modes so a dry run reports duplicates the same way a live run would.
	seen := make(map[string]bool)

	for _, row := range req.Statement.Rows {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "reconciliation run cancelled")
		}

		agg.Add(r.processRow(ctx, req, engine, seen, row))
		progress.Increment()
	}
	progress.Done()

	report := agg.Finalize()
	r.logger.WithFields(logger.Fields{
		"run_id":      report.RunID,
		"matched":     report.Summary.Matched,
		"skipped":     report.Summary.Skipped,
		"unmatched":   report.Summary.Unmatched,
		"ambiguous":   report.Summary.Ambiguous,
		"errors":      report.Summary.Errors,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Reconciliation run complete")

	return report, nil
}

// processRow resolves a single statement row to its reported outcome.
func (r *Reconciler) processRow(ctx context.Context, req RunRequest, engine *matcher.MatchingEngine, seen map[string]bool, row parsers.Row) reporter.RowResult {
	result := reporter.RowResult{
		RowNumber:     row.RowNumber,
		Amount:        decimal.Zero,
		AppliedAmount: decimal.Zero,
		Simulated:     req.DryRun,
	}

	if row.Err != nil {
		result.Status = reporter.StatusError
		result.Reason = ReasonParseError
		r.logger.WithError(row.Err).WithField("row", row.RowNumber).Warn("Row failed to parse")
		return result
	}

	record := row.Record
	result.ExternalTxnID = record.ExternalID
	result.Amount = record.Amount

	// Cross-run and in-run idempotency share one reported reason.
	if seen[record.ExternalID] {
		result.Status = reporter.StatusSkipped
		result.Reason = ReasonAlreadyReconciled
		return result
	}
	reconciled, err := r.ledger.Has(ctx, req.TenantID, record.ExternalID)
	if err != nil {
		result.Status = reporter.StatusError
		result.Reason = ReasonPostingFailed
		r.logger.WithError(err).WithField("row", row.RowNumber).Error("Ledger lookup failed")
		return result
	}
	if reconciled {
		seen[record.ExternalID] = true
		result.Status = reporter.StatusSkipped
		result.Reason = ReasonAlreadyReconciled
		return result
	}

	decision := engine.Match(record)
	switch decision.Outcome {
	case models.OutcomeUnmatched:
		result.Status = reporter.StatusUnmatched
		result.Reason = decision.Reason
		return result
	case models.OutcomeAmbiguous:
		result.Status = reporter.StatusAmbiguous
		result.Reason = decision.Reason
		result.CandidateIDs = decision.CandidateIDs
		return result
	}

	return r.allocate(ctx, req, engine, seen, record, decision, result)
}

// allocate applies a matched payment to its invoice and records the ledger
// entry. The applied amount never exceeds the invoice's remaining balance in
// this run's local view; any excess is reported as overpayment.
func (r *Reconciler) allocate(ctx context.Context, req RunRequest, engine *matcher.MatchingEngine, seen map[string]bool, record *models.TransactionRecord, decision models.MatchDecision, result reporter.RowResult) reporter.RowResult {
	candidate := engine.Index().Get(decision.InvoiceID)
	if candidate == nil {
		// The engine only matches invoices it indexed; a miss here means
		// the index and engine disagree and the row must not post.
		result.Status = reporter.StatusError
		result.Reason = ReasonPostingFailed
		r.logger.WithField("invoice_id", decision.InvoiceID).Error("Matched invoice missing from index")
		return result
	}

	alloc := r.post(ctx, req, candidate, record)
	if !alloc.Applied {
		result.Status = reporter.StatusError
		result.Reason = alloc.Reason
		return result
	}

	// Later rows in this run see the reduced balance in both modes.
	engine.Index().ConsumeBalance(candidate.InvoiceID, alloc.Amount)
	seen[record.ExternalID] = true

	result.Status = reporter.StatusMatched
	result.InvoiceID = alloc.InvoiceID
	result.MatchBasis = string(decision.Basis)
	result.AppliedAmount = alloc.Amount
	result.NewBalance = alloc.NewBalance
	result.Overpayment = alloc.Overpayment
	return result
}

// post performs the balance mutation and the ledger write for one matched
// row, in that order. A dry run skips both but computes the same amounts.
func (r *Reconciler) post(ctx context.Context, req RunRequest, candidate *models.InvoiceCandidate, record *models.TransactionRecord) models.AllocationResult {
	applied := decimal.Min(record.Amount, candidate.Outstanding)
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	overpayment := record.Amount.Sub(applied)
	newBalance := candidate.Outstanding.Sub(applied)

	if !req.DryRun && applied.IsPositive() {
		balance, err := r.invoices.ApplyPayment(ctx, req.TenantID, candidate.InvoiceID, applied)
		if err != nil {
			r.logger.WithError(err).WithFields(logger.Fields{
				"invoice_id": candidate.InvoiceID,
				"applied":    applied,
			}).Error("Posting failed")
			return models.Rejected(ReasonPostingFailed)
		}
		newBalance = balance
	}

	if !req.DryRun {
		entry := ledger.Entry{
			TenantID:      req.TenantID,
			ExternalTxnID: record.ExternalID,
			InvoiceID:     candidate.InvoiceID,
			AppliedAmount: applied,
			Timestamp:     time.Now().UTC(),
		}
		if err := r.ledger.Record(ctx, entry); err != nil {
			r.logger.WithError(err).WithField("txn_id", record.ExternalID).Error("Ledger write failed")
			return models.Rejected(ReasonPostingFailed)
		}
	}

	return models.Applied(candidate.InvoiceID, applied, newBalance, overpayment)
}
