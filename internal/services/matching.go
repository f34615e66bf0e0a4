package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// MatchingService resolves which users should be notified of an alert
type MatchingService struct {
	db            *gorm.DB
	users         *UserService
	subscriptions *SubscriptionService
	logger        zerolog.Logger
}

// NewMatchingService creates a new matching service
func NewMatchingService(db *gorm.DB, users *UserService, subscriptions *SubscriptionService) *MatchingService {
	return &MatchingService{
		db:            db,
		users:         users,
		subscriptions: subscriptions,
		logger:        log.With().Str("component", "matching").Logger(),
	}
}

// Match appends a pending recipient for every eligible user not already on the alert
// and returns the alert's full recipient list. Eligibility needs an active alert
// config on symbol+strategy+signal, a subscription active right now and a reachable
// chat destination. Each user appears at most once per alert.
func (s *MatchingService) Match(ctx context.Context, alert *models.Alert) ([]models.AlertRecipient, error) {
	var configs []models.AlertConfig
	if err := s.db.WithContext(ctx).
		Where("symbol = ? AND strategy = ? AND signal = ? AND is_active = ?",
			alert.Symbol, alert.Strategy, alert.Signal, true).
		Order("user_id, id").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to query alert configs: %w", err)
	}

	seen := make(map[uint]bool, len(configs))
	candidates := make([]uint, 0, len(configs))
	for _, c := range configs {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			candidates = append(candidates, c.UserID)
		}
	}

	existing, err := s.recipients(ctx, alert.ID)
	if err != nil {
		return nil, err
	}
	already := make(map[uint]bool, len(existing))
	for _, r := range existing {
		already[r.UserID] = true
	}

	links, err := s.users.ActiveChannelLinks(ctx, candidates)
	if err != nil {
		return nil, err
	}

	var added []models.AlertRecipient
	for _, userID := range candidates {
		if already[userID] {
			continue
		}
		link, ok := links[userID]
		if !ok {
			continue
		}

		sub, err := s.subscriptions.ActiveSubscription(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}

		added = append(added, models.AlertRecipient{
			AlertID:        alert.ID,
			UserID:         userID,
			SubscriptionID: sub.ID,
			ChatID:         link.ChatID,
			Status:         models.RecipientPending,
		})
	}

	if len(added) > 0 {
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&added).Error; err != nil {
			return nil, fmt.Errorf("failed to save matched recipients: %w", err)
		}
	}

	s.logger.Info().
		Uint("alert_id", alert.ID).
		Int("candidates", len(candidates)).
		Int("matched", len(added)).
		Msg("alert matched")

	return s.recipients(ctx, alert.ID)
}

func (s *MatchingService) recipients(ctx context.Context, alertID uint) ([]models.AlertRecipient, error) {
	var recipients []models.AlertRecipient
	if err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).Order("id").Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	return recipients, nil
}
