package erpsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fiscaldata/reconciler_backend/models"
)

type erpInvoice struct {
	ID            string      `json:"id"`
	ProviderId    string      `json:"provider_id"`
	InvoiceNumber string      `json:"invoice_number"`
	IssueDate     string      `json:"issue_date"`
	TotalAmount   json.Number `json:"total_amount"`
	TaxAmount     json.Number `json:"tax_amount"`
	Status        string      `json:"status"`
	UpdatedAt     string      `json:"updated_at"`
}

// toStagedDocument maps one ERP invoice to a SOURCE_B staged document,
// keeping the upstream record verbatim as the original payload.
func (inv erpInvoice) toStagedDocument(runId uint) (models.StagedDocument, error) {
	if inv.ProviderId == "" || inv.InvoiceNumber == "" {
		return models.StagedDocument{}, fmt.Errorf("invoice %q missing provider or number", inv.ID)
	}

	total, err := decimal.NewFromString(inv.TotalAmount.String())
	if err != nil {
		return models.StagedDocument{}, fmt.Errorf("invoice %q has invalid total: %w", inv.ID, err)
	}
	tax := decimal.Zero
	if inv.TaxAmount != "" {
		tax, err = decimal.NewFromString(inv.TaxAmount.String())
		if err != nil {
			return models.StagedDocument{}, fmt.Errorf("invoice %q has invalid tax: %w", inv.ID, err)
		}
	}

	var issueDate time.Time
	if inv.IssueDate != "" {
		issueDate, err = time.Parse("2006-01-02", inv.IssueDate)
		if err != nil {
			issueDate, err = time.Parse(time.RFC3339, inv.IssueDate)
			if err != nil {
				return models.StagedDocument{}, fmt.Errorf("invoice %q has invalid issue date: %w", inv.ID, err)
			}
		}
	}

	payload, _ := json.Marshal(inv)
	run := runId
	return models.StagedDocument{
		SourceSystem:    models.SourceSystemB,
		ProviderId:      inv.ProviderId,
		InvoiceNumber:   inv.InvoiceNumber,
		IssueDate:       issueDate,
		TotalValue:      total,
		TaxValue:        tax,
		OriginalPayload: payload,
		Status:          models.DocumentStatusPending,
		RunId:           &run,
	}, nil
}
