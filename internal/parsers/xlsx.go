package parsers

import (
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Wheezy72/nuru-ERP-sub001/pkg/recerrors"
)

// ParseStatementXLSX reads the first sheet of an XLSX statement export and
// runs it through the same normalizer as delimited text. Some mobile-money
// portals only offer spreadsheet downloads.
func ParseStatementXLSX(path string) (*Statement, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, recerrors.FileError(recerrors.CodeFileNotFound, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, recerrors.InvalidBatch("workbook has no sheets", nil).
			WithContext("file_path", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, recerrors.InvalidBatch("unable to read worksheet rows", err).
			WithContext("file_path", path).
			WithContext("sheet", sheets[0])
	}

	// Re-encode each row as a CSV line so the quoting rules and the row
	// numbering match the text path exactly.
	var b strings.Builder
	for _, cells := range rows {
		b.WriteString(encodeCSVLine(cells))
		b.WriteByte('\n')
	}

	return ParseStatement(b.String())
}

func encodeCSVLine(cells []string) string {
	quoted := make([]string, len(cells))
	for i, cell := range cells {
		if strings.ContainsAny(cell, ",\"\n") {
			quoted[i] = `"` + strings.ReplaceAll(cell, `"`, `""`) + `"`
		} else {
			quoted[i] = cell
		}
	}
	return strings.Join(quoted, ",")
}
