package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/services"
)

// PaymentHandler handles plans, payments and their verification
type PaymentHandler struct {
	payments      *services.PaymentService
	subscriptions *services.SubscriptionService
	users         *services.UserService
	maxProofBytes int64
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments *services.PaymentService, subscriptions *services.SubscriptionService, users *services.UserService, maxProofBytes int64) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		subscriptions: subscriptions,
		users:         users,
		maxProofBytes: maxProofBytes,
	}
}

type approveRequest struct {
	Notes string `json:"notes"`
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// paymentResponse is a payment with links to its QR image
type paymentResponse struct {
	*models.Payment
	QRURL string `json:"qr_url,omitempty"`
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	resp := paymentResponse{Payment: p}
	if p.QRImageRef != "" {
		resp.QRURL = "/api/v1/payments/" + strconv.FormatUint(uint64(p.ID), 10) + "/qr"
	}
	return resp
}

// ListPlans returns the active subscription plans
func (h *PaymentHandler) ListPlans(c *gin.Context) {
	plans, err := h.subscriptions.ListPlans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// CreatePayment starts a UPI payment for a plan
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var req services.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payment, err := h.payments.CreatePayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newPaymentResponse(payment))
}

// GetPayment returns a payment by id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := parseID(c, "payment")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(payment))
}

// GetPaymentQR serves the QR image of a payment's UPI string
func (h *PaymentHandler) GetPaymentQR(c *gin.Context) {
	id, ok := parseID(c, "payment")
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if payment.QRImageRef == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "QR image not available"})
		return
	}
	if _, err := os.Stat(payment.QRImageRef); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "QR image not available"})
		return
	}

	c.Header("Content-Type", "image/png")
	c.File(payment.QRImageRef)
}

// SubmitProof accepts a multipart proof-of-payment upload in the "file" field
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	id, ok := parseID(c, "payment")
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Proof file is required"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read proof file"})
		return
	}
	defer f.Close()

	// One byte past the cap is enough for the service to reject the upload.
	data, err := io.ReadAll(io.LimitReader(f, h.maxProofBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read proof file"})
		return
	}

	payment, err := h.payments.SubmitProof(c.Request.Context(), id, services.ProofUpload{
		Filename:     fh.Filename,
		DeclaredMIME: fh.Header.Get("Content-Type"),
		Data:         data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(payment))
}

// GetUserSubscriptions lists a user's subscriptions, newest first
func (h *PaymentHandler) GetUserSubscriptions(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}

	if _, err := h.users.GetUser(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	subs, err := h.subscriptions.GetUserSubscriptions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	var active *models.Subscription
	if sub, err := h.subscriptions.ActiveSubscription(c.Request.Context(), id); err == nil {
		active = sub
	} else if !errors.Is(err, services.ErrNotFound) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "active": active})
}

// ListPayments lists payments for review, optionally filtered by status.
// A transaction_id query looks up that single payment instead.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	if txnID := c.Query("transaction_id"); txnID != "" {
		payment, err := h.payments.GetPaymentByTransactionID(c.Request.Context(), txnID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": []*models.Payment{payment}, "total": 1, "page": 1, "limit": 1})
		return
	}

	page, limit := pagination(c)

	payments, total, err := h.payments.ListPayments(c.Request.Context(), page, limit, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// ApprovePayment approves a pending payment as the authenticated admin
func (h *PaymentHandler) ApprovePayment(c *gin.Context) {
	id, ok := parseID(c, "payment")
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	payment, err := h.payments.Approve(c.Request.Context(), id, c.GetString(VerifierIDKey), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(payment))
}

// RejectPayment rejects a pending payment; a reason is required
func (h *PaymentHandler) RejectPayment(c *gin.Context) {
	id, ok := parseID(c, "payment")
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rejection reason is required"})
		return
	}

	payment, err := h.payments.Reject(c.Request.Context(), id, c.GetString(VerifierIDKey), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentResponse(payment))
}

// CancelSubscription ends an active subscription before its end date
func (h *PaymentHandler) CancelSubscription(c *gin.Context) {
	id, ok := parseID(c, "subscription")
	if !ok {
		return
	}

	if err := h.subscriptions.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription cancelled", "id": id})
}

// SweepPayments expires payments past their time-to-live
func (h *PaymentHandler) SweepPayments(c *gin.Context) {
	n, err := h.payments.SweepExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
