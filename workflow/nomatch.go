package workflow

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

// SweepSummary reports what one no-match sweep did.
type SweepSummary struct {
	UnmatchedSourceA int `json:"unmatched_source_a"`
	UnmatchedSourceB int `json:"unmatched_source_b"`
	Promoted         int `json:"promoted"`
	GroupsSkipped    int `json:"groups_skipped"`
}

// SweepNoMatch is the explicit, operator-triggered second pass. Matching
// leaves one-sided groups PENDING because the other feed routinely arrives
// later the same day; once the operator decides the window has closed, the
// sweep classifies whatever is still one-sided as UNMATCHED_SOURCE_*_ONLY
// with a MISSING_IN_* result, and promotes MATCHED documents to their
// terminal status according to their recorded result.
func SweepNoMatch(db *gorm.DB, logger *logrus.Logger, runId *uint) (SweepSummary, error) {
	var summary SweepSummary

	docs, err := models.FetchPendingDocuments(db, runId)
	if err != nil {
		return summary, fmt.Errorf("fetching pending documents: %w", err)
	}

	for key, group := range GroupDocuments(docs) {
		key, group := key, group
		err := db.Transaction(func(tx *gorm.DB) error {
			return persistUnmatchedGroup(tx, key, group, runId, &summary)
		})
		if err != nil {
			summary.GroupsSkipped++
			config.LogError(logger, "nomatch.go", "SweepNoMatch", "persisting unmatched group", key, err)
		}
	}

	promoted, err := promoteMatched(db, runId)
	if err != nil {
		return summary, fmt.Errorf("promoting matched documents: %w", err)
	}
	summary.Promoted = promoted

	return summary, nil
}

func persistUnmatchedGroup(tx *gorm.DB, key GroupKey, docs []models.StagedDocument, runId *uint, summary *SweepSummary) error {
	hasA, hasB := false, false
	for _, doc := range docs {
		switch doc.SourceSystem {
		case models.SourceSystemA:
			hasA = true
		case models.SourceSystemB:
			hasB = true
		}
	}
	// Two-sided groups are the matching engine's business, not the sweep's.
	if hasA == hasB {
		return nil
	}

	for _, doc := range docs {
		doc := doc
		result := models.ReconciliationResult{
			ProviderId:    key.ProviderId,
			InvoiceNumber: key.InvoiceNumber,
		}
		var status models.DocumentStatus
		value := doc.TotalValue
		if doc.SourceSystem == models.SourceSystemA {
			result.Classification = models.ClassificationMissingInSourceB
			result.ValueSourceA = &value
			result.Explanation = fmt.Sprintf("no counterpart found in %s", models.SourceSystemB)
			status = models.DocumentStatusUnmatchedSourceAOnly
		} else {
			result.Classification = models.ClassificationMissingInSourceA
			result.ValueSourceB = &value
			result.Explanation = fmt.Sprintf("no counterpart found in %s", models.SourceSystemA)
			status = models.DocumentStatusUnmatchedSourceBOnly
		}
		if runId != nil {
			result.RunId = *runId
		} else if doc.RunId != nil {
			result.RunId = *doc.RunId
		}

		if err := tx.Create(&result).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.StagedDocument{}).
			Where("id = ? AND status = ?", doc.ID, models.DocumentStatusPending).
			Update("status", status).Error; err != nil {
			return err
		}
		if doc.SourceSystem == models.SourceSystemA {
			summary.UnmatchedSourceA++
		} else {
			summary.UnmatchedSourceB++
		}
	}
	return nil
}

// promoteMatched moves MATCHED documents to RECONCILED or
// RECONCILED_WITH_DIFFERENCE based on the classification their result
// recorded.
func promoteMatched(db *gorm.DB, runId *uint) (int, error) {
	promoted := 0
	for _, step := range []struct {
		classification models.Classification
		status         models.DocumentStatus
	}{
		{models.ClassificationReconciled, models.DocumentStatusReconciled},
		{models.ClassificationDifferenceInValue, models.DocumentStatusReconciledWithDifference},
	} {
		q := db.Model(&models.StagedDocument{}).
			Where("status = ?", models.DocumentStatusMatched).
			Where("EXISTS (SELECT 1 FROM reconciliation_result r WHERE r.provider_id = staged_document.provider_id AND r.invoice_number = staged_document.invoice_number AND r.classification = ?)", step.classification)
		if runId != nil {
			q = q.Where("run_id = ?", *runId)
		}
		res := q.Update("status", step.status)
		if res.Error != nil {
			return promoted, res.Error
		}
		promoted += int(res.RowsAffected)
	}
	return promoted, nil
}
