package erpsync

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

const resyncPageSize = 200

// ResyncResult is what one full resynchronization reports back.
type ResyncResult struct {
	RunId          uint `json:"run_id"`
	PagesFetched   int  `json:"pages_fetched"`
	DocumentsSeen  int  `json:"documents_seen"`
	DocumentsAdded int  `json:"documents_added"`
	RowsRejected   int  `json:"rows_rejected"`
}

// RunResyncJob is the queue handler for the full upstream resynchronization.
// It pages through the ERP invoice feed and stages every invoice as a
// SOURCE_B document; duplicates are no-ops. An unreachable feed marks the
// owning run FAILED and stops. Each page stages in its own transaction, so
// the failed page leaves nothing half-staged. A malformed row is recorded
// and skipped; it never aborts the page.
func RunResyncJob(ctx context.Context, db *gorm.DB, logger *logrus.Logger, _ []byte) (interface{}, error) {
	client, err := newErpClient()
	if err != nil {
		return nil, fmt.Errorf("erp client: %w", err)
	}

	run, err := models.CreateRun(db, decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("creating resync run: %w", err)
	}

	result := ResyncResult{RunId: run.ID}
	cursor := ""
	for {
		invoices, next, err := client.fetchInvoicePage(ctx, cursor, resyncPageSize)
		if err != nil {
			_ = models.FinishRun(db, run.ID, models.RunStatusFailed)
			return nil, fmt.Errorf("fetching erp invoices: %w", err)
		}
		result.PagesFetched++
		result.DocumentsSeen += len(invoices)

		docs := make([]models.StagedDocument, 0, len(invoices))
		for _, inv := range invoices {
			doc, err := inv.toStagedDocument(run.ID)
			if err != nil {
				result.RowsRejected++
				config.LogError(logger, "sync.go", "RunResyncJob", "rejecting malformed invoice", inv.ID, err)
				continue
			}
			docs = append(docs, doc)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			added, err := models.InsertStagedDocumentBatch(tx, docs)
			if err != nil {
				return err
			}
			result.DocumentsAdded += int(added)
			return nil
		})
		if err != nil {
			_ = models.FinishRun(db, run.ID, models.RunStatusFailed)
			return nil, fmt.Errorf("staging erp invoices: %w", err)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if err := models.FinishRun(db, run.ID, models.RunStatusProcessed); err != nil {
		return nil, err
	}
	return result, nil
}
