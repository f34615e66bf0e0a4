package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// UserService handles users, their chat destinations and alert configurations
type UserService struct {
	db     *gorm.DB
	now    func() time.Time
	logger zerolog.Logger
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{
		db:     db,
		now:    utcNow,
		logger: log.With().Str("component", "users").Logger(),
	}
}

// SetClock overrides the time source
func (s *UserService) SetClock(now func() time.Time) {
	s.now = now
}

// SyncUsers creates users, chat links and alert configurations from users.yaml
func (s *UserService) SyncUsers(ctx context.Context, cfg *config.UserConfig) error {
	if cfg == nil {
		return nil
	}

	for _, entry := range cfg.Users {
		user, err := s.GetOrCreateUser(ctx, entry.Email, entry.Name)
		if err != nil {
			return err
		}

		if entry.ChatID != "" {
			if _, err := s.LinkChannel(ctx, user.ID, entry.ChatID, entry.Username); err != nil {
				return err
			}
		}

		for _, ac := range entry.Alerts {
			for _, sig := range ac.Signals {
				kind, ok := ParseSignalKind(sig)
				if !ok {
					s.logger.Warn().Str("email", entry.Email).Str("signal", sig).Msg("skipping unknown signal in user config")
					continue
				}
				if _, err := s.AddAlertConfig(ctx, user.ID, ac.Symbol, ac.Strategy, kind); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// GetOrCreateUser gets or creates a user by email
func (s *UserService) GetOrCreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, NewValidationError("email", "is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user = models.User{Email: email, Name: name, IsActive: true}
	if user.Name == "" {
		user.Name = strings.SplitN(email, "@", 2)[0]
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// GetUser retrieves a user by ID
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// LinkChannel sets the user's chat destination and marks it active again
func (s *UserService) LinkChannel(ctx context.Context, userID uint, chatID, username string) (*models.ChannelLink, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, NewValidationError("chat_id", "is required")
	}

	var link models.ChannelLink
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&link).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query channel link: %w", err)
	}

	link.UserID = userID
	link.ChatID = chatID
	link.Username = username
	link.Status = models.ChannelLinkActive
	link.BlockedAt = nil
	link.LastError = ""

	if err := s.db.WithContext(ctx).Save(&link).Error; err != nil {
		return nil, fmt.Errorf("failed to save channel link: %w", err)
	}
	return &link, nil
}

// GetChannelLink returns the user's chat destination
func (s *UserService) GetChannelLink(ctx context.Context, userID uint) (*models.ChannelLink, error) {
	var link models.ChannelLink
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("channel link for user %d: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	return &link, nil
}

// ActiveChannelLinks returns the reachable chat destinations of the given users
func (s *UserService) ActiveChannelLinks(ctx context.Context, userIDs []uint) (map[uint]models.ChannelLink, error) {
	links := make(map[uint]models.ChannelLink, len(userIDs))
	if len(userIDs) == 0 {
		return links, nil
	}

	var rows []models.ChannelLink
	if err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = channel_links.user_id AND users.is_active = ?", true).
		Where("channel_links.user_id IN ? AND channel_links.status = ?", userIDs, models.ChannelLinkActive).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query channel links: %w", err)
	}

	for _, l := range rows {
		links[l.UserID] = l
	}
	return links, nil
}

// MarkChannelBlocked marks the user's chat destination unreachable so future matches skip it
func (s *UserService) MarkChannelBlocked(ctx context.Context, userID uint, reason string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.ChannelLink{}).
		Where("user_id = ? AND status = ?", userID, models.ChannelLinkActive).
		Updates(map[string]interface{}{
			"status":     models.ChannelLinkBlocked,
			"blocked_at": now,
			"last_error": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to block channel link for user %d: %w", userID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Warn().Uint("user_id", userID).Str("reason", reason).Msg("channel link blocked")
	}
	return nil
}

// AddAlertConfig registers interest in a symbol/strategy/signal; existing entries are reactivated
func (s *UserService) AddAlertConfig(ctx context.Context, userID uint, symbol, strategy string, signal models.SignalKind) (*models.AlertConfig, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	strategy = strings.TrimSpace(strategy)
	if symbol == "" {
		return nil, NewValidationError("symbol", "is required")
	}

	var cfg models.AlertConfig
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ? AND strategy = ? AND signal = ?", userID, symbol, strategy, signal).
		First(&cfg).Error
	switch {
	case err == nil:
		if !cfg.IsActive {
			cfg.IsActive = true
			if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
				return nil, fmt.Errorf("failed to reactivate alert config: %w", err)
			}
		}
		return &cfg, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to query alert config: %w", err)
	}

	cfg = models.AlertConfig{
		UserID:   userID,
		Symbol:   symbol,
		Strategy: strategy,
		Signal:   signal,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert config: %w", err)
	}
	return &cfg, nil
}

// GetUserAlertConfigs returns the active alert configurations of a user
func (s *UserService) GetUserAlertConfigs(ctx context.Context, userID uint) ([]models.AlertConfig, error) {
	var configs []models.AlertConfig
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).Order("id").Find(&configs).Error
	return configs, err
}
