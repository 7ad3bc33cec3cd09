package ingest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/fiscaldata/reconciler_backend/models"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseSpreadsheet(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"provider_id", "invoice_number", "issue_date", "total_value", "tax_value"},
		{"900123456", "FAC-001", "2026-08-01", "100.00", "19.00"},
		{"900123456", "FAC-002", "2026-08-02", "250.50", ""},
	})

	docs, rejected, err := ParseSpreadsheet(buf)
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, docs, 2)

	require.Equal(t, models.SourceSystemA, docs[0].SourceSystem)
	require.Equal(t, "900123456", docs[0].ProviderId)
	require.Equal(t, "FAC-001", docs[0].InvoiceNumber)
	require.Equal(t, "100", docs[0].TotalValue.String())
	require.Equal(t, "19", docs[0].TaxValue.String())
	require.Equal(t, models.DocumentStatusPending, docs[0].Status)
}

func TestParseSpreadsheet_RecordsBadRowsAndContinues(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"provider_id", "invoice_number", "issue_date", "total_value"},
		{"900123456", "FAC-001", "2026-08-01", "not-a-number"},
		{"", "FAC-002", "2026-08-01", "10.00"}, // missing provider
		{"900123456", "FAC-003", "2026-08-01", "10.00"},
	})

	docs, rejected, err := ParseSpreadsheet(buf)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "FAC-003", docs[0].InvoiceNumber)

	require.Len(t, rejected, 2)
	require.Equal(t, 2, rejected[0].Index)
	require.Equal(t, 3, rejected[1].Index)
}

func TestParseSpreadsheet_MissingColumn(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"provider_id", "issue_date", "total_value"},
		{"900123456", "2026-08-01", "10.00"},
	})

	_, _, err := ParseSpreadsheet(buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invoice_number")
}

func TestParseSpreadsheet_SkipsBlankRows(t *testing.T) {
	buf := buildWorkbook(t, [][]interface{}{
		{"provider_id", "invoice_number", "total_value"},
		{"900123456", "FAC-001", "10.00"},
		{"", "", ""},
	})

	docs, rejected, err := ParseSpreadsheet(buf)
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, docs, 1)
}
