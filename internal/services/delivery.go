package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/channel"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/config"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/metrics"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/pkg/retry"
)

// DeliveryReport summarizes one delivery pass over an alert's recipients
type DeliveryReport struct {
	AlertID   uint `json:"alert_id"`
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Failed    int  `json:"failed"`
	Blocked   int  `json:"blocked"`
	// Skipped counts recipients claimed by another delivery pass
	Skipped int `json:"skipped"`
}

// DeliveryService fans alert notifications out to matched recipients
type DeliveryService struct {
	db      *gorm.DB
	adapter channel.Adapter
	alerts  *AlertService
	users   *UserService
	cfg     config.DeliveryConfig
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(db *gorm.DB, adapter channel.Adapter, alerts *AlertService, users *UserService, cfg config.DeliveryConfig) *DeliveryService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &DeliveryService{
		db:      db,
		adapter: adapter,
		alerts:  alerts,
		users:   users,
		cfg:     cfg,
		now:     utcNow,
		logger:  log.With().Str("component", "delivery").Str("channel", adapter.Name()).Logger(),
	}
}

// SetClock overrides the time source
func (s *DeliveryService) SetClock(now func() time.Time) {
	s.now = now
}

// Deliver sends the alert to every pending recipient. Recipients are independent:
// a failure is recorded on that recipient and the alert's error list and never
// affects another recipient.
func (s *DeliveryService) Deliver(ctx context.Context, alert *models.Alert) (*DeliveryReport, error) {
	var recipients []models.AlertRecipient
	if err := s.db.WithContext(ctx).
		Where("alert_id = ? AND status = ? AND delivered = ?", alert.ID, models.RecipientPending, false).
		Order("id").
		Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending recipients: %w", err)
	}

	report := &DeliveryReport{AlertID: alert.ID}
	if len(recipients) == 0 {
		return report, nil
	}

	text := FormatAlertMessage(alert)
	opts := channel.DefaultSendOptions()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)

	for i := range recipients {
		r := recipients[i]
		g.Go(func() error {
			outcome := s.deliverOne(ctx, alert, &r, text, opts)
			metrics.Deliveries.WithLabelValues(string(outcome)).Inc()

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case models.RecipientDelivered:
				report.Delivered++
			case models.RecipientBlocked:
				report.Blocked++
			case models.RecipientFailed:
				report.Failed++
			default:
				report.Skipped++
				return nil
			}
			report.Attempted++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Uint("alert_id", alert.ID).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Int("blocked", report.Blocked).
		Int("skipped", report.Skipped).
		Msg("alert delivered")

	return report, nil
}

// deliverOne claims the recipient and sends at most one message to it.
// It returns the recipient's final status, or pending if the claim was lost.
func (s *DeliveryService) deliverOne(ctx context.Context, alert *models.Alert, r *models.AlertRecipient, text string, opts *channel.SendOptions) models.RecipientStatus {
	logger := s.logger.With().Uint("alert_id", alert.ID).Uint("user_id", r.UserID).Logger()

	claimed, err := s.claim(ctx, r.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim recipient")
		return models.RecipientPending
	}
	if !claimed {
		logger.Debug().Msg("recipient already claimed")
		return models.RecipientPending
	}

	attempts := 0
	var messageID string
	sendErr := retry.Do(ctx, func(attempt int) error {
		attempts = attempt
		metrics.DeliveryAttempts.Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		id, err := s.adapter.SendMessage(attemptCtx, r.ChatID, text, opts)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, channel.ErrPermanent) {
				return channel.NewChannelError(s.adapter.Name(), channel.ClassTransient, 0, "delivery timed out", err)
			}
			return err
		}
		messageID = id
		return nil
	}, retry.Config{
		MaxAttempts:  s.cfg.MaxAttempts,
		InitialDelay: s.cfg.InitialBackoff,
		MaxDelay:     s.cfg.MaxBackoff,
		Multiplier:   2.0,
		JitterFactor: 0.1,
		RetryIf:      channel.IsTemporaryError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("delivery attempt failed, retrying")
		},
	})

	if sendErr == nil {
		if err := s.markDelivered(ctx, r.ID, messageID, attempts); err != nil {
			logger.Error().Err(err).Msg("failed to record delivery")
		}
		return models.RecipientDelivered
	}

	status := models.RecipientFailed
	if channel.IsPermanentError(sendErr) {
		status = models.RecipientBlocked
		if err := s.users.MarkChannelBlocked(ctx, r.UserID, sendErr.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to block channel link")
		}
	}

	logger.Warn().Err(sendErr).Str("status", string(status)).Int("attempts", attempts).Msg("delivery failed")

	if err := s.markUndelivered(ctx, r.ID, status, sendErr.Error(), attempts); err != nil {
		logger.Error().Err(err).Msg("failed to record delivery failure")
	}
	userID := r.UserID
	if err := s.alerts.AppendError(ctx, alert.ID, "deliver", &userID, sendErr.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to append delivery error")
	}
	return status
}

// claim moves a recipient from pending to sending; only the claimer may send
func (s *DeliveryService) claim(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.AlertRecipient{}).
		Where("id = ? AND status = ? AND delivered = ?", id, models.RecipientPending, false).
		Update("status", models.RecipientSending)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *DeliveryService) markDelivered(ctx context.Context, id uint, messageID string, attempts int) error {
	return s.db.WithContext(ctx).Model(&models.AlertRecipient{}).
		Where("id = ? AND delivered = ?", id, false).
		Updates(map[string]interface{}{
			"status":       models.RecipientDelivered,
			"delivered":    true,
			"delivered_at": s.now(),
			"message_id":   messageID,
			"attempts":     attempts,
			"error":        "",
		}).Error
}

func (s *DeliveryService) markUndelivered(ctx context.Context, id uint, status models.RecipientStatus, reason string, attempts int) error {
	return s.db.WithContext(ctx).Model(&models.AlertRecipient{}).
		Where("id = ? AND delivered = ?", id, false).
		Updates(map[string]interface{}{
			"status":   status,
			"attempts": attempts,
			"error":    reason,
		}).Error
}

// AnnotateClosedTrade appends the close result to the entry alert's delivered messages.
// Edits are best-effort; failures are logged and otherwise ignored.
func (s *DeliveryService) AnnotateClosedTrade(ctx context.Context, trade *models.Trade) {
	if trade == nil || trade.ExitPrice == nil || trade.PnLPercent == nil {
		return
	}

	entry, err := s.alerts.GetAlert(ctx, trade.OpenAlertID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("trade_id", trade.ID).Msg("entry alert not found for closed trade")
		return
	}

	var sent []models.AlertRecipient
	if err := s.db.WithContext(ctx).
		Where("alert_id = ? AND delivered = ? AND message_id <> ?", entry.ID, true, "").
		Find(&sent).Error; err != nil {
		s.logger.Error().Err(err).Uint("alert_id", entry.ID).Msg("failed to query delivered messages")
		return
	}

	text := FormatAlertMessage(entry) + "\n\n" + formatCloseLine(trade)
	opts := channel.DefaultSendOptions()

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range sent {
		r := sent[i]
		g.Go(func() error {
			editCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
			if err := s.adapter.EditMessage(editCtx, r.ChatID, r.MessageID, text, opts); err != nil {
				s.logger.Warn().Err(err).Uint("alert_id", entry.ID).Uint("user_id", r.UserID).Msg("failed to edit entry message")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// FormatAlertMessage renders an alert as an HTML chat message
func FormatAlertMessage(alert *models.Alert) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", signalEmoji(alert.Signal), signalTitle(alert.Signal)))
	sb.WriteString(fmt.Sprintf("📊 <b>Strategy:</b> %s\n", html.EscapeString(alert.Strategy)))
	sb.WriteString(fmt.Sprintf("💱 <b>Symbol:</b> %s\n", html.EscapeString(alert.Symbol)))
	sb.WriteString(fmt.Sprintf("🕒 <b>Timeframe:</b> %s\n", html.EscapeString(alert.Timeframe)))
	sb.WriteString(fmt.Sprintf("💰 <b>Price:</b> %s\n", formatPrice(alert.Price)))
	if alert.TakeProfit != nil {
		sb.WriteString(fmt.Sprintf("🎯 <b>Take profit:</b> %s\n", formatPrice(*alert.TakeProfit)))
	}
	if alert.StopLoss != nil {
		sb.WriteString(fmt.Sprintf("🛑 <b>Stop loss:</b> %s\n", formatPrice(*alert.StopLoss)))
	}
	sb.WriteString(fmt.Sprintf("⏰ <b>Time:</b> %s UTC", alert.EventTime.UTC().Format("2006-01-02 15:04:05")))
	return sb.String()
}

func formatCloseLine(trade *models.Trade) string {
	reason := "Closed"
	switch trade.ExitReason {
	case models.SignalTakeProfitHit:
		reason = "Take profit hit"
	case models.SignalStopLossHit:
		reason = "Stop loss hit"
	case models.SignalBuy, models.SignalSell:
		reason = "Reversed"
	}
	return fmt.Sprintf("✅ <b>%s</b> at %s (%+.2f%%)", reason, formatPrice(*trade.ExitPrice), *trade.PnLPercent)
}

func signalTitle(kind models.SignalKind) string {
	switch kind {
	case models.SignalBuy:
		return "BUY Signal"
	case models.SignalSell:
		return "SELL Signal"
	case models.SignalTakeProfitHit:
		return "Take Profit Hit"
	case models.SignalStopLossHit:
		return "Stop Loss Hit"
	}
	return "Trading Alert"
}

func signalEmoji(kind models.SignalKind) string {
	switch kind {
	case models.SignalBuy:
		return "🟢"
	case models.SignalSell:
		return "🔴"
	case models.SignalTakeProfitHit:
		return "🎯"
	case models.SignalStopLossHit:
		return "🛑"
	}
	return "🚨"
}

func formatPrice(p float64) string {
	return decimal.NewFromFloat(p).String()
}
