package store

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/Wheezy72/nuru-ERP-sub001/internal/models"
	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// LoadInvoiceFixture reads an invoices CSV into a MemoryInvoiceStore. The
// expected header is: invoice_id, tenant_id, reference, phone, outstanding,
// issue_date. Used by the CLI when reconciling against a file export instead
// of a live database.
func LoadInvoiceFixture(path string) (*MemoryInvoiceStore, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, recerrors.FileError(recerrors.CodeFileNotFound, path, err)
		}
		return nil, recerrors.FileError(recerrors.CodeFilePermission, path, err)
	}
	defer f.Close()

	return parseInvoiceFixture(f, path)
}

func parseInvoiceFixture(r io.Reader, path string) (*MemoryInvoiceStore, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, recerrors.Wrap(err, recerrors.CategoryFile, recerrors.CodeStoreError,
			"invoice fixture has no header row").WithContext("file_path", path)
	}

	cols := make(map[string]int, len(header))
	for i, cell := range header {
		cols[strings.ToLower(strings.TrimSpace(cell))] = i
	}
	for _, required := range []string{"invoice_id", "tenant_id", "outstanding"} {
		if _, ok := cols[required]; !ok {
			return nil, recerrors.New(recerrors.CategoryFile, recerrors.CodeStoreError,
				"invoice fixture is missing the "+required+" column").
				WithContext("file_path", path).
				WithContext("header", header)
		}
	}

	cell := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var invoices []models.InvoiceCandidate
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, recerrors.Wrap(err, recerrors.CategoryFile, recerrors.CodeStoreError,
				"invoice fixture has a malformed row").
				WithContext("file_path", path).
				WithContext("line", line)
		}

		outstanding, err := models.ParseAmount(cell(record, "outstanding"))
		if err != nil {
			return nil, recerrors.Wrap(err, recerrors.CategoryFile, recerrors.CodeStoreError,
				"invoice fixture has a non-numeric outstanding balance").
				WithContext("file_path", path).
				WithContext("line", line)
		}
		issueDate, _ := models.ParseTimestamp(cell(record, "issue_date"))

		candidate := models.InvoiceCandidate{
			InvoiceID:   cell(record, "invoice_id"),
			TenantID:    cell(record, "tenant_id"),
			Reference:   cell(record, "reference"),
			Phone:       cell(record, "phone"),
			Outstanding: outstanding,
			IssueDate:   issueDate,
		}
		if err := candidate.Validate(); err != nil {
			return nil, recerrors.Wrap(err, recerrors.CategoryFile, recerrors.CodeStoreError,
				"invoice fixture row failed validation").
				WithContext("file_path", path).
				WithContext("line", line)
		}
		invoices = append(invoices, candidate)
	}

	return NewMemoryInvoiceStore(invoices), nil
}
