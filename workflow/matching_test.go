package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fiscaldata/reconciler_backend/internal/testdb"
	"github.com/fiscaldata/reconciler_backend/models"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func doc(source models.SourceSystem, provider, invoice, total string, t *testing.T) models.StagedDocument {
	return models.StagedDocument{
		SourceSystem:  source,
		ProviderId:    provider,
		InvoiceNumber: invoice,
		TotalValue:    dec(t, total),
		Status:        models.DocumentStatusPending,
	}
}

func pair(t *testing.T, totalA, totalB string) MatchableGroup {
	return MatchableGroup{
		Key:     GroupKey{ProviderId: "900123456", InvoiceNumber: "FAC-001"},
		SourceA: doc(models.SourceSystemA, "900123456", "FAC-001", totalA, t),
		SourceB: doc(models.SourceSystemB, "900123456", "FAC-001", totalB, t),
	}
}

func TestClassifyGroup_EqualValues(t *testing.T) {
	got := ClassifyGroup(pair(t, "100.00", "100.00"), dec(t, "10.00"))
	if got.Classification != models.ClassificationReconciled {
		t.Fatalf("expected RECONCILED, got %s", got.Classification)
	}
	if !got.Difference.IsZero() {
		t.Fatalf("expected difference 0, got %s", got.Difference)
	}
	if got.RequiresReview {
		t.Fatal("reconciled group must not require review")
	}
}

func TestClassifyGroup_WithinTolerance(t *testing.T) {
	got := ClassifyGroup(pair(t, "105.00", "100.00"), dec(t, "10.00"))
	if got.Classification != models.ClassificationDifferenceInValue {
		t.Fatalf("expected DIFFERENCE_IN_VALUE, got %s", got.Classification)
	}
	if !got.Difference.Equal(dec(t, "5.00")) {
		t.Fatalf("expected difference 5.00, got %s", got.Difference)
	}
	if got.RequiresReview {
		t.Fatal("in-tolerance difference must not require review")
	}
}

func TestClassifyGroup_ExceedsTolerance(t *testing.T) {
	got := ClassifyGroup(pair(t, "125.00", "100.00"), dec(t, "10.00"))
	if got.Classification != models.ClassificationDifferenceInValue {
		t.Fatalf("expected DIFFERENCE_IN_VALUE, got %s", got.Classification)
	}
	if !got.RequiresReview {
		t.Fatal("out-of-tolerance difference must require review")
	}
}

func TestClassifyGroup_NegativeDifferenceIsSurfaced(t *testing.T) {
	// Value higher on the ERP side is an anomaly in its own right, not an
	// in-tolerance match, regardless of magnitude.
	got := ClassifyGroup(pair(t, "100.00", "101.00"), dec(t, "10.00"))
	if got.Classification != models.ClassificationDifferenceInValue {
		t.Fatalf("expected DIFFERENCE_IN_VALUE, got %s", got.Classification)
	}
	if !got.RequiresReview {
		t.Fatal("negative difference must require review")
	}
	if !got.Difference.Equal(dec(t, "-1.00")) {
		t.Fatalf("expected difference -1.00, got %s", got.Difference)
	}
}

func TestSplitMatchable(t *testing.T) {
	docs := []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-001", "100.00", t),
		doc(models.SourceSystemB, "900123456", "FAC-001", "100.00", t),
		doc(models.SourceSystemA, "900123456", "FAC-002", "50.00", t), // one-sided
		doc(models.SourceSystemA, "900123456", "FAC-003", "10.00", t), // duplicated side
		doc(models.SourceSystemA, "900123456", "FAC-003", "10.00", t),
		doc(models.SourceSystemB, "900123456", "FAC-003", "10.00", t),
	}
	matchable := SplitMatchable(GroupDocuments(docs))
	if len(matchable) != 1 {
		t.Fatalf("expected exactly 1 matchable group, got %d", len(matchable))
	}
	if matchable[0].Key.InvoiceNumber != "FAC-001" {
		t.Fatalf("expected FAC-001 to be matchable, got %s", matchable[0].Key.InvoiceNumber)
	}
}

func TestReconcile_CreatesOneResultAndMatchesDocuments(t *testing.T) {
	db := testdb.Open(t)
	logger := logrus.New()

	docs := []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-001", "100.00", t),
		doc(models.SourceSystemB, "900123456", "FAC-001", "100.00", t),
	}
	if _, err := models.InsertStagedDocumentBatch(db, docs); err != nil {
		t.Fatalf("inserting documents: %v", err)
	}

	summary, err := Reconcile(db, logger, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.MatchableGroups != 1 || summary.ResultsCreated != 1 || summary.DocumentsProcessed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var results []models.ReconciliationResult
	if err := db.Find(&results).Error; err != nil {
		t.Fatalf("loading results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
	if results[0].Classification != models.ClassificationReconciled {
		t.Fatalf("expected RECONCILED, got %s", results[0].Classification)
	}
	if results[0].Difference == nil || !results[0].Difference.IsZero() {
		t.Fatalf("expected difference 0.00, got %v", results[0].Difference)
	}

	var matched int64
	if err := db.Model(&models.StagedDocument{}).
		Where("status = ?", models.DocumentStatusMatched).Count(&matched).Error; err != nil {
		t.Fatalf("counting matched: %v", err)
	}
	if matched != 2 {
		t.Fatalf("expected both documents MATCHED, got %d", matched)
	}
}

func TestReconcile_OneSidedGroupStaysPending(t *testing.T) {
	db := testdb.Open(t)
	logger := logrus.New()

	if _, err := models.InsertStagedDocumentBatch(db, []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-009", "75.00", t),
	}); err != nil {
		t.Fatalf("inserting document: %v", err)
	}

	summary, err := Reconcile(db, logger, nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if summary.MatchableGroups != 0 || summary.ResultsCreated != 0 {
		t.Fatalf("one-sided group must not be processed: %+v", summary)
	}

	var remaining models.StagedDocument
	if err := db.Where("invoice_number = ?", "FAC-009").Take(&remaining).Error; err != nil {
		t.Fatalf("loading document: %v", err)
	}
	if remaining.Status != models.DocumentStatusPending {
		t.Fatalf("expected PENDING, got %s", remaining.Status)
	}
}

func TestInsertStagedDocumentBatch_IsIdempotent(t *testing.T) {
	db := testdb.Open(t)

	batch := []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-001", "100.00", t),
	}
	first, err := models.InsertStagedDocumentBatch(db, batch)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected 1 inserted row, got %d", first)
	}

	again := []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-001", "100.00", t),
	}
	second, err := models.InsertStagedDocumentBatch(db, again)
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected duplicate to be a no-op, inserted %d", second)
	}

	var count int64
	if err := db.Model(&models.StagedDocument{}).Count(&count).Error; err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestReconcile_ReadsToleranceFresh(t *testing.T) {
	db := testdb.Open(t)
	logger := logrus.New()

	if err := models.SetParameter(db, models.ParamToleranceThreshold, "3.00"); err != nil {
		t.Fatalf("setting tolerance: %v", err)
	}
	if _, err := models.InsertStagedDocumentBatch(db, []models.StagedDocument{
		doc(models.SourceSystemA, "900123456", "FAC-010", "105.00", t),
		doc(models.SourceSystemB, "900123456", "FAC-010", "100.00", t),
	}); err != nil {
		t.Fatalf("inserting documents: %v", err)
	}

	if _, err := Reconcile(db, logger, nil); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var result models.ReconciliationResult
	if err := db.Where("invoice_number = ?", "FAC-010").Take(&result).Error; err != nil {
		t.Fatalf("loading result: %v", err)
	}
	// 5.00 difference against tolerance 3.00 set at runtime.
	if !result.RequiresReview {
		t.Fatal("expected review flag with tightened tolerance")
	}
}
