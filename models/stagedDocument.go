package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StagedDocument is one invoice record from one source, pending or having
// completed reconciliation. Producers insert; only the matching engine
// mutates status.
type StagedDocument struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	SourceSystem  SourceSystem    `gorm:"uniqueIndex:idx_staged_doc_identity,priority:1;size:20;not null" json:"source_system"`
	ProviderId    string          `gorm:"uniqueIndex:idx_staged_doc_identity,priority:2;size:50;not null" json:"provider_id"`
	InvoiceNumber string          `gorm:"uniqueIndex:idx_staged_doc_identity,priority:3;size:100;not null" json:"invoice_number"`
	IssueDate     time.Time       `json:"issue_date"`
	TotalValue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_value"`
	TaxValue      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_value"`
	// OriginalPayload keeps the producer's record verbatim for audit.
	OriginalPayload []byte         `gorm:"type:json" json:"original_payload"`
	Status          DocumentStatus `gorm:"index;size:40;not null;default:PENDING" json:"status"`
	RunId           *uint          `gorm:"index" json:"run_id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// InsertStagedDocumentBatch bulk-inserts documents with ignore-on-duplicate
// semantics on (source_system, provider_id, invoice_number): a row that
// already exists is a no-op, not an error, and never fails the rest of the
// batch. Returns the number of rows actually inserted.
func InsertStagedDocumentBatch(db *gorm.DB, docs []StagedDocument) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for i := range docs {
		if docs[i].Status == "" {
			docs[i].Status = DocumentStatusPending
		}
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_system"}, {Name: "provider_id"}, {Name: "invoice_number"}},
		DoNothing: true,
	}).Create(&docs)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FetchPendingDocuments returns every staged document still awaiting a
// match, optionally restricted to one run.
func FetchPendingDocuments(db *gorm.DB, runId *uint) ([]StagedDocument, error) {
	q := db.Where("status = ?", DocumentStatusPending)
	if runId != nil {
		q = q.Where("run_id = ?", *runId)
	}
	var docs []StagedDocument
	if err := q.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}
