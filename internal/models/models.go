// Package models defines the data types owned by a reconciliation run:
// statement transaction records, invoice candidates, match decisions and
// allocation results, together with the normalization helpers shared by the
// parser and the matcher.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one parsed line from a mobile-money statement export.
// Records are immutable once parsed.
type TransactionRecord struct {
	ExternalID string          `json:"externalTxnId"`
	Amount     decimal.Decimal `json:"amount"`
	AccountRef string          `json:"accountRef,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
}

// NewTransactionRecord creates a TransactionRecord with a trimmed external id.
func NewTransactionRecord(externalID string, amount decimal.Decimal, accountRef, phone string, ts time.Time) *TransactionRecord {
	return &TransactionRecord{
		ExternalID: strings.TrimSpace(externalID),
		Amount:     amount,
		AccountRef: strings.TrimSpace(accountRef),
		Phone:      strings.TrimSpace(phone),
		Timestamp:  ts,
	}
}

// Validate enforces the record invariants: a non-empty external id and a
// strictly positive amount.
func (t *TransactionRecord) Validate() error {
	if strings.TrimSpace(t.ExternalID) == "" {
		return fmt.Errorf("external transaction id cannot be empty")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive, got %s", t.Amount.String())
	}
	return nil
}

// String returns a compact representation for logs.
func (t *TransactionRecord) String() string {
	return fmt.Sprintf("TransactionRecord{ID: %s, Amount: %s, Ref: %s, Phone: %s}",
		t.ExternalID, t.Amount.String(), t.AccountRef, t.Phone)
}

// MarshalJSON renders the amount as a string so precision survives transport.
func (t *TransactionRecord) MarshalJSON() ([]byte, error) {
	type Alias TransactionRecord
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		*Alias
	}{
		Amount: t.Amount.String(),
		Alias:  (*Alias)(t),
	})
}

// InvoiceCandidate is a read projection of an open invoice used for matching.
// The candidate index owns these for the duration of one run; the
// authoritative balance lives in the invoice store.
type InvoiceCandidate struct {
	InvoiceID   string          `json:"invoiceId"`
	TenantID    string          `json:"tenantId"`
	Reference   string          `json:"reference"`
	Phone       string          `json:"phone,omitempty"`
	Outstanding decimal.Decimal `json:"outstanding"`
	IssueDate   time.Time       `json:"issueDate"`
}

// Validate checks candidate invariants.
func (c *InvoiceCandidate) Validate() error {
	if strings.TrimSpace(c.InvoiceID) == "" {
		return fmt.Errorf("invoice id cannot be empty")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if c.Outstanding.IsNegative() {
		return fmt.Errorf("outstanding balance cannot be negative, got %s", c.Outstanding.String())
	}
	return nil
}

// String returns a compact representation for logs.
func (c *InvoiceCandidate) String() string {
	return fmt.Sprintf("InvoiceCandidate{ID: %s, Ref: %s, Outstanding: %s}",
		c.InvoiceID, c.Reference, c.Outstanding.String())
}

// MatchBasis records which staged rule produced a match, for auditability.
type MatchBasis string

const (
	BasisExactReference   MatchBasis = "exact-reference"
	BasisPhoneAmount      MatchBasis = "phone+amount"
	BasisAmountOnlyUnique MatchBasis = "amount-only-unique"
)

// ReasonMultipleCandidates marks a decision where a matching stage found
// more than one plausible invoice.
const ReasonMultipleCandidates = "multiple_candidates"

// MatchOutcome is the discriminator of a MatchDecision.
type MatchOutcome string

const (
	OutcomeMatched   MatchOutcome = "matched"
	OutcomeAmbiguous MatchOutcome = "ambiguous"
	OutcomeUnmatched MatchOutcome = "unmatched"
)

// MatchDecision is the tagged result of matching one transaction. Exactly one
// of the payload fields is meaningful depending on Outcome:
// InvoiceID+Basis for Matched, CandidateIDs for Ambiguous, Reason for
// Unmatched. Consumers must switch on Outcome rather than probe fields, so
// Ambiguous is never silently treated as Unmatched.
type MatchDecision struct {
	Outcome      MatchOutcome `json:"outcome"`
	InvoiceID    string       `json:"invoiceId,omitempty"`
	Basis        MatchBasis   `json:"basis,omitempty"`
	CandidateIDs []string     `json:"candidateIds,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// Matched creates a decision for a single-candidate match.
func Matched(invoiceID string, basis MatchBasis) MatchDecision {
	return MatchDecision{Outcome: OutcomeMatched, InvoiceID: invoiceID, Basis: basis}
}

// Ambiguous creates a decision carrying all competing candidates. Ambiguous
// rows require human review and are never auto-resolved.
func Ambiguous(candidateIDs []string) MatchDecision {
	return MatchDecision{
		Outcome:      OutcomeAmbiguous,
		CandidateIDs: candidateIDs,
		Reason:       ReasonMultipleCandidates,
	}
}

// Unmatched creates a decision for a transaction with no candidate.
func Unmatched(reason string) MatchDecision {
	return MatchDecision{Outcome: OutcomeUnmatched, Reason: reason}
}

// AllocationResult is the outcome of applying a matched transaction to an
// invoice balance.
type AllocationResult struct {
	Applied     bool            `json:"applied"`
	InvoiceID   string          `json:"invoiceId,omitempty"`
	Amount      decimal.Decimal `json:"appliedAmount"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Overpayment decimal.Decimal `json:"overpaymentAmount"`
	Reason      string          `json:"reason,omitempty"`
}

// Applied creates a successful allocation result. Overpayment is never
// negative; a zero NewBalance means the invoice is settled.
func Applied(invoiceID string, amount, newBalance, overpayment decimal.Decimal) AllocationResult {
	return AllocationResult{
		Applied:     true,
		InvoiceID:   invoiceID,
		Amount:      amount,
		NewBalance:  newBalance,
		Overpayment: overpayment,
	}
}

// Rejected creates a failed allocation result.
func Rejected(reason string) AllocationResult {
	return AllocationResult{Applied: false, Reason: reason}
}

// NormalizeReference canonicalizes an account reference for exact matching:
// trim, uppercase, strip everything that is not a letter or digit.
func NormalizeReference(ref string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(ref)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone canonicalizes an MSISDN: keep digits only and strip one
// leading international prefix so "+254712..." and "0712..." style values
// compare equal when the rest of the digits agree.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	return digits
}

// AmountBucket returns the amount rounded to the minor currency unit as a
// stable map key for the outstanding-amount index.
func AmountBucket(amount decimal.Decimal) string {
	return amount.Round(2).StringFixed(2)
}

// ParseAmount parses a decimal amount from statement text, tolerating
// currency symbols and thousand separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// ParseTimestamp attempts to parse a statement timestamp using the formats
// mobile-money exports are known to use. An empty string parses to the zero
// time without error; timestamps are optional on records.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02/01/2006 15:04:05",
		"02/01/2006",
		"02-01-2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp '%s': %w", s, lastErr)
}

// AmountsEqualWithin reports whether two amounts differ by at most an
// absolute tolerance.
func AmountsEqualWithin(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
