package workflow

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

// GroupKey identifies one invoice across both feeds.
type GroupKey struct {
	ProviderId    string
	InvoiceNumber string
}

// MatchableGroup holds exactly one staged document from each source for the
// same (providerId, invoiceNumber).
type MatchableGroup struct {
	Key     GroupKey
	SourceA models.StagedDocument
	SourceB models.StagedDocument
}

// Classified is the in-memory outcome of comparing one matchable group,
// before persistence.
type Classified struct {
	Classification models.Classification
	Difference     decimal.Decimal
	RequiresReview bool
	Explanation    string
}

// Summary reports what one reconcile invocation did.
type Summary struct {
	DocumentsProcessed int `json:"documents_processed"`
	MatchableGroups    int `json:"matchable_groups"`
	ResultsCreated     int `json:"results_created"`
	GroupsSkipped      int `json:"groups_skipped"`
}

// GroupDocuments buckets pending documents by (providerId, invoiceNumber).
func GroupDocuments(docs []models.StagedDocument) map[GroupKey][]models.StagedDocument {
	groups := make(map[GroupKey][]models.StagedDocument)
	for _, doc := range docs {
		key := GroupKey{ProviderId: doc.ProviderId, InvoiceNumber: doc.InvoiceNumber}
		groups[key] = append(groups[key], doc)
	}
	return groups
}

// SplitMatchable extracts the groups with exactly one document from each
// source. Everything else stays PENDING: a same-day late arrival from the
// other feed is expected, so one-sided groups are not classified as missing
// here (that is the explicit no-match sweep's job).
func SplitMatchable(groups map[GroupKey][]models.StagedDocument) []MatchableGroup {
	var matchable []MatchableGroup
	for key, docs := range groups {
		var fromA, fromB []models.StagedDocument
		for _, doc := range docs {
			switch doc.SourceSystem {
			case models.SourceSystemA:
				fromA = append(fromA, doc)
			case models.SourceSystemB:
				fromB = append(fromB, doc)
			}
		}
		if len(fromA) == 1 && len(fromB) == 1 {
			matchable = append(matchable, MatchableGroup{Key: key, SourceA: fromA[0], SourceB: fromB[0]})
		}
	}
	// Deterministic processing order.
	sort.Slice(matchable, func(i, j int) bool {
		if matchable[i].Key.ProviderId != matchable[j].Key.ProviderId {
			return matchable[i].Key.ProviderId < matchable[j].Key.ProviderId
		}
		return matchable[i].Key.InvoiceNumber < matchable[j].Key.InvoiceNumber
	})
	return matchable
}

// ClassifyGroup applies the classification policy in order, with
// difference = valueSourceA - valueSourceB:
//
//	difference == 0          -> RECONCILED
//	difference <  0          -> DIFFERENCE_IN_VALUE, review (source B exceeds A; surfaced, not merged)
//	difference >  tolerance  -> DIFFERENCE_IN_VALUE, review
//	otherwise                -> DIFFERENCE_IN_VALUE within tolerance
func ClassifyGroup(group MatchableGroup, tolerance decimal.Decimal) Classified {
	difference := group.SourceA.TotalValue.Sub(group.SourceB.TotalValue)

	switch {
	case difference.IsZero():
		return Classified{
			Classification: models.ClassificationReconciled,
			Difference:     difference,
			Explanation:    "values agree in both sources",
		}
	case difference.IsNegative():
		return Classified{
			Classification: models.ClassificationDifferenceInValue,
			Difference:     difference,
			RequiresReview: true,
			Explanation: fmt.Sprintf("value in %s exceeds %s by %s",
				models.SourceSystemB, models.SourceSystemA, difference.Neg().String()),
		}
	case difference.GreaterThan(tolerance):
		return Classified{
			Classification: models.ClassificationDifferenceInValue,
			Difference:     difference,
			RequiresReview: true,
			Explanation: fmt.Sprintf("difference %s exceeds tolerance %s, manual review required",
				difference.String(), tolerance.String()),
		}
	default:
		return Classified{
			Classification: models.ClassificationDifferenceInValue,
			Difference:     difference,
			Explanation: fmt.Sprintf("difference %s within tolerance %s",
				difference.String(), tolerance.String()),
		}
	}
}

// Reconcile runs the matching engine over every PENDING staged document,
// optionally restricted to one run. Each matchable group commits in its own
// transaction: result row + both documents to MATCHED + run counter. A
// failing group is logged and skipped; it never corrupts another group or
// aborts the run.
//
// Tolerance is read from the parameters table on every invocation so
// operators can tune it without a restart.
func Reconcile(db *gorm.DB, logger *logrus.Logger, runId *uint) (Summary, error) {
	var summary Summary

	tolerance, err := models.GetDecimalParameter(db, models.ParamToleranceThreshold)
	if err != nil {
		return summary, fmt.Errorf("loading tolerance: %w", err)
	}

	docs, err := models.FetchPendingDocuments(db, runId)
	if err != nil {
		return summary, fmt.Errorf("fetching pending documents: %w", err)
	}

	matchable := SplitMatchable(GroupDocuments(docs))
	summary.MatchableGroups = len(matchable)

	for _, group := range matchable {
		group := group
		err := db.Transaction(func(tx *gorm.DB) error {
			return persistGroup(tx, group, tolerance, runId)
		})
		if err != nil {
			summary.GroupsSkipped++
			config.LogError(logger, "matching.go", "Reconcile", "persisting matchable group", group.Key, err)
			continue
		}
		summary.ResultsCreated++
		summary.DocumentsProcessed += 2
	}

	return summary, nil
}

func persistGroup(tx *gorm.DB, group MatchableGroup, tolerance decimal.Decimal, runId *uint) error {
	classified := ClassifyGroup(group, tolerance)

	var owningRun uint
	switch {
	case runId != nil:
		owningRun = *runId
	case group.SourceA.RunId != nil:
		owningRun = *group.SourceA.RunId
	case group.SourceB.RunId != nil:
		owningRun = *group.SourceB.RunId
	}

	valueA := group.SourceA.TotalValue
	valueB := group.SourceB.TotalValue
	difference := classified.Difference
	result := models.ReconciliationResult{
		Classification: classified.Classification,
		ProviderId:     group.Key.ProviderId,
		InvoiceNumber:  group.Key.InvoiceNumber,
		RunId:          owningRun,
		ValueSourceA:   &valueA,
		ValueSourceB:   &valueB,
		Difference:     &difference,
		RequiresReview: classified.RequiresReview,
		Explanation:    classified.Explanation,
	}
	if err := tx.Create(&result).Error; err != nil {
		return err
	}

	ids := []uint{group.SourceA.ID, group.SourceB.ID}
	updates := map[string]interface{}{"status": models.DocumentStatusMatched}
	if runId != nil {
		updates["run_id"] = *runId
	}
	update := tx.Model(&models.StagedDocument{}).
		Where("id IN ? AND status = ?", ids, models.DocumentStatusPending).
		Updates(updates)
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected != 2 {
		return fmt.Errorf("expected to match 2 documents, matched %d", update.RowsAffected)
	}

	if owningRun != 0 {
		if err := models.IncrementRunDocumentsProcessed(tx, owningRun, 2); err != nil {
			return err
		}
	}
	return nil
}
