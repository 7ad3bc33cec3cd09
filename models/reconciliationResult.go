package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationResult is the durable outcome of matching two staged
// documents (or the recorded absence of one). Created once inside the same
// transaction that moves the documents out of PENDING; immutable thereafter.
type ReconciliationResult struct {
	ID             uint             `gorm:"primary_key" json:"id"`
	Classification Classification   `gorm:"index;size:30;not null" json:"classification"`
	ProviderId     string           `gorm:"uniqueIndex:idx_recon_result_identity,priority:1;size:50;not null" json:"provider_id"`
	InvoiceNumber  string           `gorm:"uniqueIndex:idx_recon_result_identity,priority:2;size:100;not null" json:"invoice_number"`
	RunId          uint             `gorm:"uniqueIndex:idx_recon_result_identity,priority:3;index;not null" json:"run_id"`
	ValueSourceA   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"value_source_a"`
	ValueSourceB   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"value_source_b"`
	Difference     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"difference"`
	// RequiresReview marks differences outside tolerance and the anomalous
	// negative-difference case, which is surfaced rather than merged with
	// in-tolerance matches.
	RequiresReview bool      `gorm:"not null;default:false" json:"requires_review"`
	Explanation    string    `gorm:"type:text" json:"explanation"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
