package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/metrics"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/upi"
)

const paymentMethodUPI = "upi"

// allowedProofTypes maps accepted proof MIME types to their canonical form
var allowedProofTypes = map[string]string{
	"image/jpeg":      "image/jpeg",
	"image/jpg":       "image/jpeg",
	"image/pjpeg":     "image/jpeg",
	"image/png":       "image/png",
	"image/webp":      "image/webp",
	"application/pdf": "application/pdf",
}

// CreatePaymentRequest starts a payment for a plan, by plan id or code
type CreatePaymentRequest struct {
	UserID   uint   `json:"user_id" validate:"required"`
	PlanID   uint   `json:"plan_id" validate:"required_without=PlanCode"`
	PlanCode string `json:"plan_code" validate:"required_without=PlanID"`
	Note     string `json:"note" validate:"max=80"`
}

// ProofUpload is an uploaded proof-of-payment file
type ProofUpload struct {
	Filename     string
	DeclaredMIME string
	Data         []byte
}

// PaymentService is the payment ledger: the only path to an active subscription
type PaymentService struct {
	db       *gorm.DB
	subs     *SubscriptionService
	ids      *upi.IDGenerator
	validate *validator.Validate
	cfg      config.PaymentConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(db *gorm.DB, subs *SubscriptionService, ids *upi.IDGenerator, cfg config.PaymentConfig) *PaymentService {
	return &PaymentService{
		db:       db,
		subs:     subs,
		ids:      ids,
		validate: newValidator(),
		cfg:      cfg,
		now:      utcNow,
		logger:   log.With().Str("component", "payments").Logger(),
	}
}

// SetClock overrides the time source
func (s *PaymentService) SetClock(now func() time.Time) {
	s.now = now
}

// CreatePayment mints a transaction id and the UPI instructions for it.
// The payment starts initiated and expires after the configured TTL.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Payment, error) {
	if err := s.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewValidationError(verrs[0].Field(), fmt.Sprintf("failed on %s", verrs[0].Tag()))
		}
		return nil, NewValidationError("payment", err.Error())
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", req.UserID, ErrNotFound)
		}
		return nil, err
	}

	var plan *models.SubscriptionPlan
	var err error
	if req.PlanID != 0 {
		plan, err = s.subs.GetPlan(ctx, req.PlanID)
	} else {
		plan, err = s.subs.GetPlanByCode(ctx, req.PlanCode)
	}
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, NewValidationError("plan_id", fmt.Sprintf("plan %s is not available", plan.Code))
	}

	currency := plan.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	note := req.Note
	if note == "" {
		note = fmt.Sprintf("%s subscription", plan.Name)
	}

	txnID := s.ids.NewTransactionID()
	payString, err := upi.Generate(upi.Instruction{
		Payee: upi.Payee{
			VPA:          s.cfg.PayeeVPA,
			Name:         s.cfg.PayeeName,
			MerchantCode: s.cfg.MerchantCode,
			Currency:     currency,
		},
		TransactionID: txnID,
		Note:          note,
		Amount:        plan.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment instructions: %w", err)
	}

	qrPath, err := upi.WriteQRCode(s.cfg.QRDir, txnID, payString)
	if err != nil {
		return nil, err
	}

	now := s.now()
	payment := &models.Payment{
		UserID:        user.ID,
		PlanID:        plan.ID,
		TransactionID: txnID,
		Amount:        plan.Price,
		Currency:      currency,
		Method:        paymentMethodUPI,
		PaymentString: payString,
		QRImageRef:    qrPath,
		Metadata: datatypes.JSONMap{
			"payee_vpa":  s.cfg.PayeeVPA,
			"payee_name": s.cfg.PayeeName,
			"note":       note,
			"plan_code":  plan.Code,
		},
		Status:    models.PaymentInitiated,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	metrics.PaymentTransitions.WithLabelValues(string(models.PaymentInitiated)).Inc()
	s.logger.Info().
		Uint("payment_id", payment.ID).
		Str("transaction_id", txnID).
		Uint("user_id", user.ID).
		Str("plan", plan.Code).
		Str("amount", plan.Price.StringFixed(2)).
		Msg("payment initiated")

	return payment, nil
}

// SubmitProof stores a proof-of-payment file and moves the payment to pending.
// Legal from initiated or pending only; a payment past its TTL is expired instead.
func (s *PaymentService) SubmitProof(ctx context.Context, id uint, proof ProofUpload) (*models.Payment, error) {
	payment, err := s.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentExpired {
		return nil, &ExpiredError{Entity: "payment", ID: payment.ID, ExpiredAt: payment.ExpiresAt}
	}
	if payment.Status.IsTerminal() {
		return nil, s.stateError(payment, "initiated|pending")
	}
	now := s.now()
	if payment.IsExpiredAt(now) {
		s.expire(ctx, payment.ID, "proof submitted after ttl")
		return nil, &ExpiredError{Entity: "payment", ID: payment.ID, ExpiredAt: payment.ExpiresAt}
	}

	mime, err := s.checkProof(proof)
	if err != nil {
		return nil, err
	}

	ref, err := s.storeProof(mime, proof.Data)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, []models.PaymentStatus{models.PaymentInitiated, models.PaymentPending}).
		Updates(map[string]interface{}{
			"status":     models.PaymentPending,
			"proof_ref":  ref,
			"proof_mime": mime.String(),
		})
	if res.Error != nil {
		_ = os.Remove(ref)
		return nil, fmt.Errorf("failed to update payment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		_ = os.Remove(ref)
		current, err := s.GetPayment(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, s.stateError(current, "initiated|pending")
	}

	metrics.PaymentTransitions.WithLabelValues(string(models.PaymentPending)).Inc()
	s.logger.Info().Uint("payment_id", id).Str("mime", mime.String()).Int("bytes", len(proof.Data)).Msg("payment proof submitted")

	return s.GetPayment(ctx, id)
}

// checkProof enforces the size cap and the allowed types, both declared and sniffed
func (s *PaymentService) checkProof(proof ProofUpload) (*mimetype.MIME, error) {
	if len(proof.Data) == 0 {
		return nil, NewValidationError("proof", "file is empty")
	}
	if s.cfg.MaxProofBytes > 0 && int64(len(proof.Data)) > s.cfg.MaxProofBytes {
		return nil, NewValidationError("proof", fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxProofBytes))
	}

	declared := strings.ToLower(strings.TrimSpace(strings.SplitN(proof.DeclaredMIME, ";", 2)[0]))
	declaredCanonical, ok := allowedProofTypes[declared]
	if !ok {
		return nil, NewValidationError("proof", fmt.Sprintf("unsupported file type %q", proof.DeclaredMIME))
	}

	detected := mimetype.Detect(proof.Data)
	detectedCanonical, ok := allowedProofTypes[strings.SplitN(detected.String(), ";", 2)[0]]
	if !ok || detectedCanonical != declaredCanonical {
		return nil, NewValidationError("proof", fmt.Sprintf("content is %s, declared %s", detected.String(), declared))
	}

	return detected, nil
}

func (s *PaymentService) storeProof(mime *mimetype.MIME, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+mime.Extension())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to store proof: %w", err)
	}
	return path, nil
}

// Approve verifies a pending payment and activates the subscription it pays for.
// Both happen in one transaction: if activation fails the payment stays pending.
func (s *PaymentService) Approve(ctx context.Context, id uint, verifierID, notes string) (*models.Payment, error) {
	if strings.TrimSpace(verifierID) == "" {
		return nil, NewValidationError("verifier_id", "is required")
	}

	var sub *models.Subscription
	err := s.verify(ctx, id, models.PaymentApproved, verifierID, notes, func(tx *gorm.DB, p *models.Payment) error {
		var err error
		sub, err = s.subs.activateTx(tx, p)
		if err != nil {
			return fmt.Errorf("failed to activate subscription: %w", err)
		}
		return tx.Model(&models.Payment{}).Where("id = ?", p.ID).Update("subscription_id", sub.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Uint("payment_id", id).
		Str("verifier", verifierID).
		Uint("subscription_id", sub.ID).
		Time("end_date", sub.EndDate).
		Msg("payment approved")

	return s.GetPayment(ctx, id)
}

// Reject declines a pending payment. A reason is mandatory.
func (s *PaymentService) Reject(ctx context.Context, id uint, verifierID, reason string) (*models.Payment, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, NewValidationError("reason", "is required")
	}
	if strings.TrimSpace(verifierID) == "" {
		return nil, NewValidationError("verifier_id", "is required")
	}

	if err := s.verify(ctx, id, models.PaymentRejected, verifierID, reason, nil); err != nil {
		return nil, err
	}

	s.logger.Info().Uint("payment_id", id).Str("verifier", verifierID).Str("reason", reason).Msg("payment rejected")
	return s.GetPayment(ctx, id)
}

// verify moves a pending payment to a verified status inside a transaction.
// The pending guard on the update serializes concurrent verifications.
func (s *PaymentService) verify(ctx context.Context, id uint, to models.PaymentStatus, verifierID, notes string, after func(tx *gorm.DB, p *models.Payment) error) error {
	now := s.now()
	var expired *ExpiredError

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("payment %d: %w", id, ErrNotFound)
			}
			return err
		}
		if payment.Status == models.PaymentExpired {
			return &ExpiredError{Entity: "payment", ID: payment.ID, ExpiredAt: payment.ExpiresAt}
		}
		if !payment.CanBeVerified() {
			return s.stateError(&payment, string(models.PaymentPending))
		}
		if payment.IsExpiredAt(now) {
			expired = &ExpiredError{Entity: "payment", ID: payment.ID, ExpiredAt: payment.ExpiresAt}
			return expired
		}

		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", id, models.PaymentPending).
			Updates(map[string]interface{}{
				"status":             to,
				"verified_by":        verifierID,
				"verified_at":        now,
				"verification_notes": notes,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update payment %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return s.stateError(&payment, string(models.PaymentPending))
		}

		payment.Status = to
		if after != nil {
			return after(tx, &payment)
		}
		return nil
	})

	if expired != nil {
		s.expire(ctx, id, "verified after ttl")
		return expired
	}
	if err != nil {
		return err
	}

	metrics.PaymentTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// SweepExpired moves every initiated or pending payment past its TTL to expired
func (s *PaymentService) SweepExpired(ctx context.Context) (int, error) {
	var candidates []models.Payment
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentStatus{models.PaymentInitiated, models.PaymentPending}).
		Find(&candidates).Error; err != nil {
		return 0, fmt.Errorf("failed to query open payments: %w", err)
	}

	now := s.now()
	expired := 0
	for i := range candidates {
		if !candidates[i].IsExpiredAt(now) {
			continue
		}
		if s.expire(ctx, candidates[i].ID, "ttl elapsed") {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("payment sweep finished")
	}
	return expired, nil
}

// expire moves a non-terminal payment to expired and reports whether it did
func (s *PaymentService) expire(ctx context.Context, id uint, reason string) bool {
	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, []models.PaymentStatus{models.PaymentInitiated, models.PaymentPending}).
		Updates(map[string]interface{}{
			"status":             models.PaymentExpired,
			"verification_notes": reason,
		})
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Uint("payment_id", id).Msg("failed to expire payment")
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}
	metrics.PaymentTransitions.WithLabelValues(string(models.PaymentExpired)).Inc()
	s.logger.Info().Uint("payment_id", id).Str("reason", reason).Msg("payment expired")
	return true
}

func (s *PaymentService) stateError(p *models.Payment, expected string) error {
	return &InvalidStateError{Entity: "payment", ID: p.ID, Current: string(p.Status), Expected: expected}
}

// GetPayment retrieves a payment by ID
func (s *PaymentService) GetPayment(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByTransactionID retrieves a payment by its transaction id
func (s *PaymentService) GetPaymentByTransactionID(ctx context.Context, txnID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).Where("transaction_id = ?", txnID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("payment %s: %w", txnID, ErrNotFound)
		}
		return nil, err
	}
	return &payment, nil
}

// ListPayments retrieves payments with pagination and optional status filter
func (s *PaymentService) ListPayments(ctx context.Context, page, limit int, status string) ([]models.Payment, int64, error) {
	var payments []models.Payment
	var total int64

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Payment{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Offset((page - 1) * limit).Limit(limit).Order("id DESC").Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}
