// Package parsers turns raw statement exports into a uniform sequence of
// transaction records.
//
// The normalizer is deliberately tolerant: header names vary between
// mobile-money portals, so recognized aliases are mapped onto canonical
// columns case-insensitively, and rows that cannot be parsed are emitted as
// pre-failed entries instead of aborting the run. The only hard failure is an
// input that cannot be treated as a statement at all (empty, or missing both
// a transaction-id and an amount column).
package parsers

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/logger"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// Canonical statement columns.
const (
	colTxnID     = "txn_id"
	colAmount    = "amount"
	colReference = "reference"
	colPhone     = "phone"
	colDate      = "date"
)

// headerAliases maps normalized header cells onto canonical columns.
// Normalization lowercases and strips non-alphanumerics, so "Receipt No."
// and "receipt_no" land on the same key.
var headerAliases = map[string]string{
	"transactionid": colTxnID,
	"transaction":   colTxnID,
	"txnid":         colTxnID,
	"trxid":         colTxnID,
	"receiptno":     colTxnID,
	"receipt":       colTxnID,

	"amount": colAmount,
	"value":  colAmount,
	"paidin": colAmount,

	"accountreference": colReference,
	"accountref":       colReference,
	"reference":        colReference,
	"ref":              colReference,
	"invoiceref":       colReference,
	"invoicereference": colReference,

	"phone":       colPhone,
	"phoneno":     colPhone,
	"phonenumber": colPhone,
	"msisdn":      colPhone,

	"date":     colDate,
	"time":     colDate,
	"datetime": colDate,
}

// Row pairs a parsed record with its original 1-based row number. Exactly one
// of Record and Err is set; a non-nil Err marks a pre-failed row that the
// engine reports without matching.
type Row struct {
	RowNumber int
	Record    *models.TransactionRecord
	Err       error
}

// Statement is the normalized form of one statement export. Rows preserve
// input order; the header counts as row 1.
type Statement struct {
	Columns map[string]int
	Rows    []Row
}

// RecordCount returns the number of rows that parsed successfully.
func (s *Statement) RecordCount() int {
	n := 0
	for _, row := range s.Rows {
		if row.Err == nil {
			n++
		}
	}
	return n
}

// ParseStatement normalizes a raw delimited statement blob. The first
// non-empty line is the header; recognized aliases are mapped onto canonical
// columns. Rows that fail to parse are emitted as pre-failed entries. The
// returned error is non-nil only for an invalid batch.
func ParseStatement(raw string) (*Statement, error) {
	log := logger.GetGlobalLogger().WithComponent("statement_parser")

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	headerIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, recerrors.InvalidBatch("input is empty", nil)
	}

	headerFields, err := splitLine(lines[headerIdx])
	if err != nil {
		return nil, recerrors.InvalidBatch("header row is not valid delimited text", err)
	}

	columns := mapHeader(headerFields)
	if _, ok := columns[colTxnID]; !ok {
		return nil, recerrors.InvalidBatch("no transaction id column recognized in header", nil).
			WithContext("header", headerFields)
	}
	if _, ok := columns[colAmount]; !ok {
		return nil, recerrors.InvalidBatch("no amount column recognized in header", nil).
			WithContext("header", headerFields)
	}

	log.WithFields(logger.Fields{
		"columns":    columns,
		"data_lines": len(lines) - headerIdx - 1,
	}).Debug("Parsed statement header")

	statement := &Statement{Columns: columns}

	// The header is row 1; every physical line after it advances the
	// counter, so reported row numbers line up with the source file.
	rowNumber := 1
	for _, line := range lines[headerIdx+1:] {
		rowNumber++
		if strings.TrimSpace(line) == "" {
			continue
		}
		statement.Rows = append(statement.Rows, parseRow(line, rowNumber, columns))
	}

	return statement, nil
}

// parseRow converts one data line into a Row, downgrading any failure into a
// pre-failed entry.
func parseRow(line string, rowNumber int, columns map[string]int) Row {
	fields, err := splitLine(line)
	if err != nil {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, "line", line, "malformed delimited row")}
	}

	externalID := fieldAt(fields, columns, colTxnID)
	if externalID == "" {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, colTxnID, "", "missing transaction id")}
	}

	amountText := fieldAt(fields, columns, colAmount)
	if amountText == "" {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, colAmount, "", "missing amount")}
	}
	amount, err := models.ParseAmount(amountText)
	if err != nil {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, colAmount, amountText, "non-numeric amount")}
	}
	if !amount.IsPositive() {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, colAmount, amountText, "amount must be positive")}
	}

	// Timestamps are optional on records; an unparseable one is dropped
	// rather than failing the row.
	ts, _ := models.ParseTimestamp(fieldAt(fields, columns, colDate))

	record := models.NewTransactionRecord(
		externalID,
		amount,
		fieldAt(fields, columns, colReference),
		fieldAt(fields, columns, colPhone),
		ts,
	)
	if err := record.Validate(); err != nil {
		return Row{RowNumber: rowNumber, Err: recerrors.RowParseError(rowNumber, "record", record.ExternalID, err.Error())}
	}

	return Row{RowNumber: rowNumber, Record: record}
}

// splitLine tokenizes one physical line as a CSV record.
func splitLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	fields, err := reader.Read()
	if err != nil && err != io.EOF {
		return nil, err
	}
	return fields, nil
}

// mapHeader resolves header cells to canonical columns. The first occurrence
// of a canonical column wins.
func mapHeader(fields []string) map[string]int {
	columns := make(map[string]int)
	for i, field := range fields {
		canonical, ok := headerAliases[normalizeHeaderCell(field)]
		if !ok {
			continue
		}
		if _, taken := columns[canonical]; !taken {
			columns[canonical] = i
		}
	}
	return columns
}

func normalizeHeaderCell(cell string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(cell)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fieldAt(fields []string, columns map[string]int, column string) string {
	idx, ok := columns[column]
	if !ok || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}
