package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fiscaldata/reconciler_backend/models"
)

// Expected workbook columns, matched case-insensitively against the header
// row of the first sheet.
var spreadsheetColumns = []string{"provider_id", "invoice_number", "issue_date", "total_value", "tax_value"}

// ParseSpreadsheet reads the tax-authority export workbook and maps each
// data row to a SOURCE_A staged document. A malformed row is recorded with
// its row number and skipped; parsing continues.
func ParseSpreadsheet(r io.Reader) ([]models.StagedDocument, []rowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("workbook is empty")
	}

	colIndex, err := mapHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}

	var docs []models.StagedDocument
	var rejected []rowError
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		input := DocumentInput{
			SourceSystem:  string(models.SourceSystemA),
			ProviderId:    cell(row, col(colIndex, "provider_id")),
			InvoiceNumber: cell(row, col(colIndex, "invoice_number")),
			IssueDate:     cell(row, col(colIndex, "issue_date")),
			TotalValue:    cell(row, col(colIndex, "total_value")),
			TaxValue:      cell(row, col(colIndex, "tax_value")),
		}
		if input.ProviderId == "" && input.InvoiceNumber == "" && input.TotalValue == "" {
			continue // blank row
		}
		input.Payload, _ = json.Marshal(row)

		doc, err := input.toStagedDocument()
		if err != nil {
			rejected = append(rejected, rowError{Index: rowNum, Error: err.Error()})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rejected, nil
}

func mapHeader(header []string) (map[string]int, error) {
	colIndex := make(map[string]int, len(spreadsheetColumns))
	for i, name := range header {
		colIndex[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"provider_id", "invoice_number", "total_value"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("workbook is missing column %q", required)
		}
	}
	return colIndex, nil
}

func col(colIndex map[string]int, name string) int {
	if idx, ok := colIndex[name]; ok {
		return idx
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
