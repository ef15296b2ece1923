package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	model2 "github.com/settlr/settlr/api/model"
	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/model"
)

// CreatePayment accepts a payment request, records it as a PENDING
// intent and schedules settlement. Responds 201 with the recorded
// intent; settlement completes asynchronously.
func (a Api) CreatePayment(c *gin.Context) {
	var newPayment model2.CreatePayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newPayment.ValidateCreatePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.settlr.CreatePayment(c.Request.Context(), newPayment.ToPaymentIntent())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetPayment retrieves a single payment intent by id.
func (a Api) GetPayment(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	intent, err := a.settlr.GetPayment(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, intent)
}

// ListPayments returns a filtered page of payment intents, newest
// first.
func (a Api) ListPayments(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, offset := paginationFromQuery(c)
	intents, err := a.settlr.ListPayments(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if intents == nil {
		intents = []model.PaymentIntent{}
	}

	c.JSON(http.StatusOK, intents)
}

// ExportPayments streams the filtered intents as CSV.
func (a Api) ExportPayments(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, offset := paginationFromQuery(c)
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	intents, err := a.settlr.ListPayments(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="payments.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"id", "sender", "recipient", "amount", "category", "status", "reason", "settlement_ref", "created_at", "settled_at"})
	for i := range intents {
		intent := &intents[i]
		settledAt := ""
		if intent.SettledAt != nil {
			settledAt = intent.SettledAt.Format(time.RFC3339)
		}
		_ = w.Write([]string{
			intent.IntentID,
			intent.Sender,
			intent.Recipient,
			intent.Amount.String(),
			intent.Category,
			intent.Status,
			intent.Reason,
			intent.SettlementRef,
			intent.CreatedAt.Format(time.RFC3339),
			settledAt,
		})
	}
	w.Flush()
}

// GetPaymentQR renders the intent's payment-request URI as a QR PNG.
func (a Api) GetPaymentQR(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	intent, err := a.settlr.GetPayment(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	png, err := qrcode.Encode(intent.PaymentURI(), qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// UpsertCounterparty seeds or refreshes a directory entry.
func (a Api) UpsertCounterparty(c *gin.Context) {
	var body model2.UpsertCounterparty
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := body.ValidateUpsertCounterparty(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.settlr.UpsertCounterparty(c.Request.Context(), body.ToCounterparty()); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, body.ToCounterparty())
}

// ListCounterparties returns the full directory.
func (a Api) ListCounterparties(c *gin.Context) {
	counterparties, err := a.settlr.ListCounterparties(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if counterparties == nil {
		counterparties = []model.Counterparty{}
	}
	c.JSON(http.StatusOK, counterparties)
}

// RecoverStalledIntents triggers an immediate recovery pass. The
// optional threshold_minutes query bounds how stale an intent must be.
func (a Api) RecoverStalledIntents(c *gin.Context) {
	threshold := 10 * time.Minute
	if raw := c.Query("threshold_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold_minutes must be a positive integer"})
			return
		}
		threshold = time.Duration(minutes) * time.Minute
	}

	recovered, err := a.settlr.RecoverStalledIntents(c.Request.Context(), threshold)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}

func filterFromQuery(c *gin.Context) (model.IntentFilter, error) {
	var filter model.IntentFilter
	if categories := c.Query("category"); categories != "" {
		filter.Categories = strings.Split(categories, ",")
	}
	if statuses := c.Query("status"); statuses != "" {
		filter.Statuses = strings.Split(strings.ToUpper(statuses), ",")
	}
	filter.Counterparty = c.Query("counterparty")

	var err error
	filter.From, filter.To, err = windowFromQuery(c)
	return filter, err
}

func paginationFromQuery(c *gin.Context) (int, int64) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
