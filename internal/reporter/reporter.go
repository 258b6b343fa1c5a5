// Package reporter accumulates per-row reconciliation outcomes into an
// ordered report and renders it for the caller.
//
// Every input row, however malformed, appears exactly once in the output, in
// original statement order. Supported output formats:
//   - console: human-readable tabular output
//   - json: structured output for programmatic consumption
//   - csv: spreadsheet-friendly output
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RowStatus classifies the outcome of one statement row.
type RowStatus string

const (
	StatusMatched   RowStatus = "matched"
	StatusSkipped   RowStatus = "skipped"
	StatusUnmatched RowStatus = "unmatched"
	StatusAmbiguous RowStatus = "ambiguous"
	StatusError     RowStatus = "error"
)

// RowResult is the reported outcome for one statement row.
type RowResult struct {
	RowNumber     int             `json:"rowNumber"`
	ExternalTxnID string          `json:"externalTxnId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        RowStatus       `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	InvoiceID     string          `json:"invoiceId,omitempty"`
	MatchBasis    string          `json:"matchBasis,omitempty"`
	CandidateIDs  []string        `json:"candidateIds,omitempty"`
	AppliedAmount decimal.Decimal `json:"appliedAmount"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	Overpayment   decimal.Decimal `json:"overpaymentAmount"`
	Simulated     bool            `json:"simulated"`
}

// Summary holds the aggregate counts for a run.
type Summary struct {
	TotalRows        int             `json:"totalRows"`
	Matched          int             `json:"matched"`
	Skipped          int             `json:"skipped"`
	Unmatched        int             `json:"unmatched"`
	Ambiguous        int             `json:"ambiguous"`
	Errors           int             `json:"errors"`
	TotalApplied     decimal.Decimal `json:"totalApplied"`
	TotalOverpayment decimal.Decimal `json:"totalOverpayment"`
}

// RunReport is the full result of one reconciliation run. It is produced
// fresh per run; persisting it is the caller's concern.
type RunReport struct {
	RunID       uuid.UUID   `json:"runId"`
	TenantID    string      `json:"tenantId"`
	GeneratedAt time.Time   `json:"generatedAt"`
	DryRun      bool        `json:"dryRun"`
	Rows        []RowResult `json:"rows"`
	Summary     Summary     `json:"summary"`
}

// Aggregator collects row results in statement order.
type Aggregator struct {
	tenantID string
	dryRun   bool
	rows     []RowResult
}

// NewAggregator creates an aggregator for one run.
func NewAggregator(tenantID string, dryRun bool) *Aggregator {
	return &Aggregator{tenantID: tenantID, dryRun: dryRun}
}

// Add appends one row result. Add order is report order.
func (a *Aggregator) Add(row RowResult) {
	a.rows = append(a.rows, row)
}

// Finalize computes the summary and returns the report.
func (a *Aggregator) Finalize() *RunReport {
	summary := Summary{
		TotalRows:        len(a.rows),
		TotalApplied:     decimal.Zero,
		TotalOverpayment: decimal.Zero,
	}
	for _, row := range a.rows {
		switch row.Status {
		case StatusMatched:
			summary.Matched++
			summary.TotalApplied = summary.TotalApplied.Add(row.AppliedAmount)
			summary.TotalOverpayment = summary.TotalOverpayment.Add(row.Overpayment)
		case StatusSkipped:
			summary.Skipped++
		case StatusUnmatched:
			summary.Unmatched++
		case StatusAmbiguous:
			summary.Ambiguous++
		case StatusError:
			summary.Errors++
		}
	}

	return &RunReport{
		RunID:       uuid.New(),
		TenantID:    a.tenantID,
		GeneratedAt: time.Now().UTC(),
		DryRun:      a.dryRun,
		Rows:        a.rows,
		Summary:     summary,
	}
}

// OutputFormat selects a report renderer.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// Render writes the report in the requested format.
func Render(w io.Writer, report *RunReport, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, report)
	case FormatCSV:
		return renderCSV(w, report)
	case FormatConsole:
		return renderConsole(w, report)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderJSON(w io.Writer, report *RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func renderCSV(w io.Writer, report *RunReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"row_number", "external_txn_id", "amount", "status", "reason",
		"invoice_id", "match_basis", "candidate_ids",
		"applied_amount", "new_balance", "overpayment_amount", "simulated",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range report.Rows {
		record := []string{
			fmt.Sprintf("%d", row.RowNumber),
			row.ExternalTxnID,
			row.Amount.String(),
			string(row.Status),
			row.Reason,
			row.InvoiceID,
			row.MatchBasis,
			strings.Join(row.CandidateIDs, ";"),
			row.AppliedAmount.String(),
			row.NewBalance.String(),
			row.Overpayment.String(),
			fmt.Sprintf("%t", row.Simulated),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func renderConsole(w io.Writer, report *RunReport) error {
	var b strings.Builder

	b.WriteString("RECONCILIATION REPORT\n")
	b.WriteString(strings.Repeat("=", 72) + "\n")
	fmt.Fprintf(&b, "Run:       %s\n", report.RunID)
	fmt.Fprintf(&b, "Tenant:    %s\n", report.TenantID)
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if report.DryRun {
		b.WriteString("Mode:      DRY RUN (no balances were modified)\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%-6s %-16s %-12s %-10s %-12s %-12s %s\n",
		"ROW", "TXN ID", "AMOUNT", "STATUS", "APPLIED", "OVERPAY", "DETAIL")
	b.WriteString(strings.Repeat("-", 96) + "\n")

	for _, row := range report.Rows {
		detail := row.InvoiceID
		if row.Reason != "" {
			detail = row.Reason
		}
		if len(row.CandidateIDs) > 0 {
			detail = "candidates: " + strings.Join(row.CandidateIDs, ", ")
		}
		fmt.Fprintf(&b, "%-6d %-16s %-12s %-10s %-12s %-12s %s\n",
			row.RowNumber,
			row.ExternalTxnID,
			row.Amount.StringFixed(2),
			row.Status,
			row.AppliedAmount.StringFixed(2),
			row.Overpayment.StringFixed(2),
			detail)
	}

	b.WriteString("\nSUMMARY\n")
	b.WriteString(strings.Repeat("-", 28) + "\n")
	fmt.Fprintf(&b, "Total rows:       %d\n", report.Summary.TotalRows)
	fmt.Fprintf(&b, "Matched:          %d\n", report.Summary.Matched)
	fmt.Fprintf(&b, "Skipped:          %d\n", report.Summary.Skipped)
	fmt.Fprintf(&b, "Unmatched:        %d\n", report.Summary.Unmatched)
	fmt.Fprintf(&b, "Ambiguous:        %d\n", report.Summary.Ambiguous)
	fmt.Fprintf(&b, "Errors:           %d\n", report.Summary.Errors)
	fmt.Fprintf(&b, "Total applied:    %s\n", report.Summary.TotalApplied.StringFixed(2))
	fmt.Fprintf(&b, "Total overpaid:   %s\n", report.Summary.TotalOverpayment.StringFixed(2))

	_, err := io.WriteString(w, b.String())
	return err
}
