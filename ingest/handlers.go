package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

var validate = validator.New()

// DocumentInput is one producer record. Per-row validation failures are
// recorded and skipped; they never fail the rest of the batch.
type DocumentInput struct {
	SourceSystem  string          `json:"sourceSystem" validate:"required,oneof=SOURCE_A SOURCE_B"`
	ProviderId    string          `json:"providerId" validate:"required,max=50"`
	InvoiceNumber string          `json:"invoiceNumber" validate:"required,max=100"`
	IssueDate     string          `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
	TotalValue    string          `json:"totalValue" validate:"required"`
	TaxValue      string          `json:"taxValue"`
	Payload       json.RawMessage `json:"payload"`
	RunId         *uint           `json:"runId"`
}

type rowError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type insertBatchRequest struct {
	Documents []DocumentInput `json:"documents" binding:"required"`
}

type insertBatchResponse struct {
	Count    int64      `json:"count"`
	Rejected []rowError `json:"rejected,omitempty"`
}

func (in DocumentInput) toStagedDocument() (models.StagedDocument, error) {
	if err := validate.Struct(in); err != nil {
		return models.StagedDocument{}, err
	}
	total, err := decimal.NewFromString(in.TotalValue)
	if err != nil {
		return models.StagedDocument{}, err
	}
	tax := decimal.Zero
	if in.TaxValue != "" {
		if tax, err = decimal.NewFromString(in.TaxValue); err != nil {
			return models.StagedDocument{}, err
		}
	}
	var issueDate time.Time
	if in.IssueDate != "" {
		// Validated above; parse cannot fail here.
		issueDate, _ = time.Parse("2006-01-02", in.IssueDate)
	}
	payload := []byte(in.Payload)
	if len(payload) == 0 {
		payload, _ = json.Marshal(in)
	}
	return models.StagedDocument{
		SourceSystem:    models.SourceSystem(in.SourceSystem),
		ProviderId:      in.ProviderId,
		InvoiceNumber:   in.InvoiceNumber,
		IssueDate:       issueDate,
		TotalValue:      total,
		TaxValue:        tax,
		OriginalPayload: payload,
		Status:          models.DocumentStatusPending,
		RunId:           in.RunId,
	}, nil
}

// InsertBatchHandler serves POST /documents/batch. Duplicate identities are
// ignored, not errors: the reported count is rows actually inserted.
func InsertBatchHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req insertBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		var resp insertBatchResponse
		docs := make([]models.StagedDocument, 0, len(req.Documents))
		for i, in := range req.Documents {
			doc, err := in.toStagedDocument()
			if err != nil {
				resp.Rejected = append(resp.Rejected, rowError{Index: i, Error: err.Error()})
				continue
			}
			docs = append(docs, doc)
		}

		count, err := models.InsertStagedDocumentBatch(db, docs)
		if err != nil {
			config.LogError(logger, "handlers.go", "InsertBatchHandler", "inserting staged documents", len(docs), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not insert documents"})
			return
		}
		resp.Count = count
		c.JSON(http.StatusOK, resp)
	}
}

// ImportSpreadsheetHandler serves POST /documents/import: the tax-authority
// workbook upload (multipart field "file"), staged as SOURCE_A documents.
func ImportSpreadsheetHandler(db *gorm.DB, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not open file"})
			return
		}
		defer file.Close()

		docs, rejected, err := ParseSpreadsheet(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := models.InsertStagedDocumentBatch(db, docs)
		if err != nil {
			config.LogError(logger, "handlers.go", "ImportSpreadsheetHandler", "inserting staged documents", len(docs), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not insert documents"})
			return
		}
		c.JSON(http.StatusOK, insertBatchResponse{Count: count, Rejected: rejected})
	}
}
