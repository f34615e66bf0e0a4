package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// SubscriptionService activates subscriptions and answers eligibility questions
type SubscriptionService struct {
	db     *gorm.DB
	now    func() time.Time
	logger zerolog.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(db *gorm.DB) *SubscriptionService {
	return &SubscriptionService{
		db:     db,
		now:    utcNow,
		logger: log.With().Str("component", "subscriptions").Logger(),
	}
}

// SetClock overrides the time source
func (s *SubscriptionService) SetClock(now func() time.Time) {
	s.now = now
}

// SyncPlans creates or updates plans from configuration, keyed by code
func (s *SubscriptionService) SyncPlans(ctx context.Context, plans []config.PlanConfig) error {
	for _, pc := range plans {
		if pc.Code == "" {
			return NewValidationError("plans.code", "is required")
		}
		price, err := decimal.NewFromString(pc.Price)
		if err != nil || !price.IsPositive() {
			return NewValidationError("plans.price", fmt.Sprintf("invalid price %q for plan %s", pc.Price, pc.Code))
		}
		if pc.DurationMonths <= 0 && pc.DurationDays <= 0 {
			return NewValidationError("plans.duration", fmt.Sprintf("plan %s has no duration", pc.Code))
		}

		var plan models.SubscriptionPlan
		err = s.db.WithContext(ctx).Where("code = ?", pc.Code).First(&plan).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to query plan %s: %w", pc.Code, err)
		}

		plan.Code = pc.Code
		plan.Name = pc.Name
		plan.Price = price
		plan.Currency = strings.ToUpper(pc.Currency)
		plan.DurationMonths = pc.DurationMonths
		plan.DurationDays = pc.DurationDays
		plan.IsActive = true
		if plan.Currency == "" {
			plan.Currency = "INR"
		}

		if err := s.db.WithContext(ctx).Save(&plan).Error; err != nil {
			return fmt.Errorf("failed to save plan %s: %w", pc.Code, err)
		}
	}
	return nil
}

// ListPlans returns the plans available for purchase
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&plans).Error
	return plans, err
}

// GetPlan retrieves a plan by ID
func (s *SubscriptionService) GetPlan(ctx context.Context, id uint) (*models.SubscriptionPlan, error) {
	return getPlan(s.db.WithContext(ctx), id)
}

func getPlan(db *gorm.DB, id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := db.First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &plan, nil
}

// GetPlanByCode retrieves a plan by its code
func (s *SubscriptionService) GetPlanByCode(ctx context.Context, code string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %s: %w", code, ErrNotFound)
		}
		return nil, err
	}
	return &plan, nil
}

// Activate creates or extends the subscription paid for by an approved payment
func (s *SubscriptionService) Activate(ctx context.Context, payment *models.Payment) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.activateTx(tx, payment)
		return err
	})
	return sub, err
}

// activateTx is the only writer of subscription rows apart from lazy expiry.
// Re-activation with the same transaction restarts the existing row only when that
// yields a later end date; a new transaction extends the user's active subscription to the plan, if any.
func (s *SubscriptionService) activateTx(tx *gorm.DB, payment *models.Payment) (*models.Subscription, error) {
	plan, err := getPlan(tx, payment.PlanID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var existing models.Subscription
	err = tx.Where("user_id = ? AND plan_id = ? AND transaction_id = ?",
		payment.UserID, payment.PlanID, payment.TransactionID).First(&existing).Error
	switch {
	case err == nil:
		// never shorten an entitlement this transaction already extended
		if end := plan.EndDate(now); end.After(existing.EndDate) {
			existing.StartDate = now
			existing.EndDate = end
		}
		existing.Status = models.SubscriptionActive
		if err := tx.Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to refresh subscription %d: %w", existing.ID, err)
		}
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}

	var current []models.Subscription
	if err := tx.Where("user_id = ? AND plan_id = ? AND status = ?",
		payment.UserID, payment.PlanID, models.SubscriptionActive).
		Order("end_date DESC").Find(&current).Error; err != nil {
		return nil, fmt.Errorf("failed to query active subscriptions: %w", err)
	}

	for i := range current {
		sub := &current[i]
		if i == 0 && sub.IsActiveAt(now) {
			sub.EndDate = plan.EndDate(sub.EndDate)
			sub.TransactionID = payment.TransactionID
			if err := tx.Save(sub).Error; err != nil {
				return nil, fmt.Errorf("failed to extend subscription %d: %w", sub.ID, err)
			}
			s.logger.Info().Uint("subscription_id", sub.ID).Time("end_date", sub.EndDate).Msg("subscription extended")
			return sub, nil
		}
		if err := tx.Model(sub).Update("status", models.SubscriptionExpired).Error; err != nil {
			return nil, fmt.Errorf("failed to expire subscription %d: %w", sub.ID, err)
		}
	}

	sub := &models.Subscription{
		UserID:        payment.UserID,
		PlanID:        payment.PlanID,
		TransactionID: payment.TransactionID,
		StartDate:     now,
		EndDate:       plan.EndDate(now),
		Status:        models.SubscriptionActive,
	}
	if err := tx.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.Info().Uint("subscription_id", sub.ID).Uint("user_id", sub.UserID).Time("end_date", sub.EndDate).Msg("subscription activated")
	return sub, nil
}

// ActiveSubscription returns the user's subscription that is active now, re-deriving
// eligibility from the end date. Rows still marked active but past their end date are
// expired on the way.
func (s *SubscriptionService) ActiveSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	var rows []models.Subscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Order("end_date DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}

	now := s.now()
	var active *models.Subscription
	for i := range rows {
		if rows[i].IsActiveAt(now) {
			if active == nil {
				active = &rows[i]
			}
			continue
		}
		s.expire(ctx, &rows[i])
	}

	if active == nil {
		return nil, fmt.Errorf("user %d has no active subscription: %w", userID, ErrNotFound)
	}
	return active, nil
}

func (s *SubscriptionService) expire(ctx context.Context, sub *models.Subscription) {
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, models.SubscriptionActive).
		Update("status", models.SubscriptionExpired).Error
	if err != nil {
		s.logger.Warn().Err(err).Uint("subscription_id", sub.ID).Msg("failed to expire subscription")
		return
	}
	sub.Status = models.SubscriptionExpired
}

// GetUserSubscriptions returns all subscriptions of a user, newest first
func (s *SubscriptionService) GetUserSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&subs).Error
	return subs, err
}

// Cancel marks an active subscription cancelled
func (s *SubscriptionService) Cancel(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionActive).
		Update("status", models.SubscriptionCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel subscription %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var sub models.Subscription
		if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
			}
			return err
		}
		return &InvalidStateError{Entity: "subscription", ID: id, Current: string(sub.Status), Expected: string(models.SubscriptionActive)}
	}
	return nil
}
