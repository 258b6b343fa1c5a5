// Package recerrors defines the error taxonomy shared by the reconciliation
// pipeline and the CLI.
//
// Every error raised by the pipeline is a *ReconcileError carrying a category,
// a stable code, an optional suggestion for the operator and a context map.
// Per-row conditions (parse failures, ambiguous matches, posting failures) are
// recovered locally by the run loop; only CodeInvalidBatch aborts a run.
package recerrors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups error codes by the layer that produced them.
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryMatching      ErrorCategory = "matching"
	CategoryAllocation    ErrorCategory = "allocation"
	CategoryStore         ErrorCategory = "store"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode identifies a specific error condition within a category.
type ErrorCode string

const (
	// Statement-level codes.
	CodeInvalidBatch ErrorCode = "invalid_batch"
	CodeParseError   ErrorCode = "parse_error"

	// Per-row matching codes.
	CodeNoCandidate    ErrorCode = "no_candidate"
	CodeAmbiguousMatch ErrorCode = "ambiguous_match"

	// Per-row allocation codes.
	CodeAlreadyReconciled ErrorCode = "already_reconciled"
	CodePostingFailed     ErrorCode = "posting_failed"

	// Outer-layer codes.
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeStoreError     ErrorCode = "store_error"
	CodeLedgerError    ErrorCode = "ledger_error"
	CodeUnexpected     ErrorCode = "unexpected_error"
)

// Context carries structured detail attached to an error.
type Context map[string]interface{}

// ReconcileError is the error type used across the module.
type ReconcileError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Cause
}

// ExitCode maps the error category to a process exit code for the CLI.
func (e *ReconcileError) ExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryMatching, CategoryAllocation, CategoryInternal:
		return 5
	case CategoryStore:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a key/value pair to the error.
func (e *ReconcileError) WithContext(key string, value interface{}) *ReconcileError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches an operator-facing hint.
func (e *ReconcileError) WithSuggestion(suggestion string) *ReconcileError {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a ReconcileError with a captured stack trace.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcileError {
	return &ReconcileError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap attaches category and code to an existing error.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcileError {
	if err == nil {
		return nil
	}
	return &ReconcileError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// InvalidBatch reports input that cannot be treated as a statement at all.
// It is the only error that aborts a run before any row is processed.
func InvalidBatch(reason string, err error) *ReconcileError {
	msg := fmt.Sprintf("statement cannot be parsed: %s", reason)
	var result *ReconcileError
	if err != nil {
		result = Wrap(err, CategoryParse, CodeInvalidBatch, msg)
	} else {
		result = New(CategoryParse, CodeInvalidBatch, msg)
	}
	return result.WithSuggestion("check that the upload is a delimited statement export with a header row")
}

// RowParseError reports a malformed statement row. The row is reported and the
// run continues.
func RowParseError(rowNumber int, field, value, reason string) *ReconcileError {
	return New(CategoryParse, CodeParseError,
		fmt.Sprintf("row %d: %s ('%s'=%q)", rowNumber, reason, field, value)).
		WithContext("row", rowNumber).
		WithContext("field", field).
		WithContext("value", value)
}

// FileError reports a problem opening or reading an input file.
func FileError(code ErrorCode, path string, err error) *ReconcileError {
	var msg, suggestion string
	switch code {
	case CodeFileNotFound:
		msg = fmt.Sprintf("file not found: %s", path)
		suggestion = "check that the file path is correct and the file exists"
	case CodeFilePermission:
		msg = fmt.Sprintf("permission denied: %s", path)
		suggestion = "check file permissions"
	default:
		msg = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}
	var result *ReconcileError
	if err != nil {
		result = Wrap(err, CategoryFile, code, msg)
	} else {
		result = New(CategoryFile, code, msg)
	}
	return result.WithSuggestion(suggestion).WithContext("file_path", path)
}

// ConfigError reports an invalid or missing configuration value.
func ConfigError(code ErrorCode, setting string, value interface{}) *ReconcileError {
	var msg string
	switch code {
	case CodeMissingConfig:
		msg = fmt.Sprintf("missing required configuration: %s", setting)
	default:
		msg = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
	}
	return New(CategoryConfiguration, code, msg).
		WithContext("setting", setting).
		WithContext("value", value)
}

// StoreError reports a failure talking to the invoice store or the ledger.
func StoreError(code ErrorCode, operation string, err error) *ReconcileError {
	msg := fmt.Sprintf("store operation %s failed", operation)
	var result *ReconcileError
	if err != nil {
		result = Wrap(err, CategoryStore, code, msg)
	} else {
		result = New(CategoryStore, code, msg)
	}
	return result.WithContext("operation", operation)
}

// PostingFailed reports a rejected balance mutation. No ledger entry is
// written for the row, so retrying the whole row later is safe.
func PostingFailed(invoiceID string, err error) *ReconcileError {
	return Wrap(err, CategoryAllocation, CodePostingFailed,
		fmt.Sprintf("payment could not be posted to invoice %s", invoiceID)).
		WithSuggestion("the invoice may have been modified concurrently; re-run reconciliation for this statement").
		WithContext("invoice_id", invoiceID)
}

// IsReconcileError reports whether err is a *ReconcileError.
func IsReconcileError(err error) bool {
	_, ok := err.(*ReconcileError)
	return ok
}

// AsReconcileError extracts a *ReconcileError from an error chain.
func AsReconcileError(err error) (*ReconcileError, bool) {
	var recErr *ReconcileError
	if errors.As(err, &recErr) {
		return recErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	recErr, ok := AsReconcileError(err)
	return ok && recErr.Code == code
}

// Summarize renders a short multi-error description, used when several rows
// fail for the same statement.
func Summarize(errs []*ReconcileError) string {
	if len(errs) == 0 {
		return "no errors"
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}
	byCategory := make(map[ErrorCategory]int)
	for _, e := range errs {
		byCategory[e.Category]++
	}
	var parts []string
	for category, count := range byCategory {
		parts = append(parts, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", len(errs), strings.Join(parts, ", "))
}
