package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// TradeResult is the outcome of applying an alert to the trade ledger
type TradeResult struct {
	Actions []models.AlertTradeAction
	// Closed is the trade this alert closed, if any
	Closed *models.Trade
	// Replayed is set when the actions were recorded by an earlier run of the same alert
	Replayed bool
}

// TradeService keeps the per-strategy trade ledger. Bookkeeping only, nothing is executed.
type TradeService struct {
	db     *gorm.DB
	now    func() time.Time
	logger zerolog.Logger
}

// NewTradeService creates a new trade service
func NewTradeService(db *gorm.DB) *TradeService {
	return &TradeService{
		db:     db,
		now:    utcNow,
		logger: log.With().Str("component", "trades").Logger(),
	}
}

// SetClock overrides the time source
func (s *TradeService) SetClock(now func() time.Time) {
	s.now = now
}

// Apply derives the trade-action intent of an alert and records its outcome.
// Applying the same alert twice returns the recorded actions without touching the ledger.
func (s *TradeService) Apply(ctx context.Context, alert *models.Alert) (*TradeResult, error) {
	if existing, err := s.recorded(ctx, alert.ID); err != nil || existing != nil {
		return existing, err
	}

	result := &TradeResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.openTrade(tx, alert)
		if err != nil {
			return err
		}

		if alert.Signal.IsEntry() {
			return s.applyEntry(tx, alert, open, result)
		}
		return s.applyExit(tx, alert, open, result)
	})
	if err != nil {
		failed := models.AlertTradeAction{
			AlertID:   alert.ID,
			Action:    intentFor(alert.Signal),
			Outcome:   models.TradeOutcomeFailed,
			Detail:    err.Error(),
			CreatedAt: s.now(),
		}
		if rerr := s.db.WithContext(ctx).Create(&failed).Error; rerr != nil {
			s.logger.Error().Err(rerr).Uint("alert_id", alert.ID).Msg("failed to record trade action")
		}
		return &TradeResult{Actions: []models.AlertTradeAction{failed}}, fmt.Errorf("failed to apply trade action: %w", err)
	}

	for _, a := range result.Actions {
		s.logger.Info().
			Uint("alert_id", alert.ID).
			Str("action", string(a.Action)).
			Str("outcome", string(a.Outcome)).
			Str("detail", a.Detail).
			Msg("trade action recorded")
	}
	return result, nil
}

func (s *TradeService) applyEntry(tx *gorm.DB, alert *models.Alert, open *models.Trade, result *TradeResult) error {
	direction := models.DirectionFor(alert.Signal)

	if open != nil && open.Direction == direction {
		return s.record(tx, result, models.AlertTradeAction{
			AlertID: alert.ID,
			TradeID: &open.ID,
			Action:  models.TradeActionOpen,
			Outcome: models.TradeOutcomeSkipped,
			Detail:  fmt.Sprintf("already %s since trade %d", direction, open.ID),
		})
	}

	action := models.TradeActionOpen
	detail := fmt.Sprintf("opened %s at %s", direction, formatPrice(alert.Price))
	if open != nil {
		if err := s.closeTrade(tx, open, alert); err != nil {
			return err
		}
		result.Closed = open
		action = models.TradeActionReplace
		detail = fmt.Sprintf("closed %s trade %d (%+.2f%%), opened %s at %s",
			open.Direction, open.ID, *open.PnLPercent, direction, formatPrice(alert.Price))
	}

	trade := &models.Trade{
		Symbol:      alert.Symbol,
		Timeframe:   alert.Timeframe,
		Strategy:    alert.Strategy,
		Direction:   direction,
		EntryPrice:  alert.Price,
		TakeProfit:  alert.TakeProfit,
		StopLoss:    alert.StopLoss,
		Status:      models.TradeOpen,
		OpenAlertID: alert.ID,
		OpenedAt:    s.now(),
	}
	if err := tx.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to open trade: %w", err)
	}

	return s.record(tx, result, models.AlertTradeAction{
		AlertID: alert.ID,
		TradeID: &trade.ID,
		Action:  action,
		Outcome: models.TradeOutcomeApplied,
		Detail:  detail,
	})
}

func (s *TradeService) applyExit(tx *gorm.DB, alert *models.Alert, open *models.Trade, result *TradeResult) error {
	if open == nil {
		return s.record(tx, result, models.AlertTradeAction{
			AlertID: alert.ID,
			Action:  models.TradeActionClose,
			Outcome: models.TradeOutcomeSkipped,
			Detail:  "no open trade",
		})
	}

	if err := s.closeTrade(tx, open, alert); err != nil {
		return err
	}
	result.Closed = open

	return s.record(tx, result, models.AlertTradeAction{
		AlertID: alert.ID,
		TradeID: &open.ID,
		Action:  models.TradeActionClose,
		Outcome: models.TradeOutcomeApplied,
		Detail: fmt.Sprintf("closed %s at %s (%+.2f%%)",
			open.Direction, formatPrice(alert.Price), *open.PnLPercent),
	})
}

// closeTrade closes an open trade at the alert price; the status guard keeps it single-shot
func (s *TradeService) closeTrade(tx *gorm.DB, trade *models.Trade, alert *models.Alert) error {
	now := s.now()
	exit := alert.Price
	pnl := PnLPercent(trade.Direction, trade.EntryPrice, exit)

	res := tx.Model(&models.Trade{}).
		Where("id = ? AND status = ?", trade.ID, models.TradeOpen).
		Updates(map[string]interface{}{
			"status":         models.TradeClosed,
			"exit_price":     exit,
			"pnl_percent":    pnl,
			"exit_reason":    alert.Signal,
			"close_alert_id": alert.ID,
			"closed_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to close trade %d: %w", trade.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &InvalidStateError{Entity: "trade", ID: trade.ID, Current: string(models.TradeClosed), Expected: string(models.TradeOpen)}
	}

	alertID := alert.ID
	trade.Status = models.TradeClosed
	trade.ExitPrice = &exit
	trade.PnLPercent = &pnl
	trade.ExitReason = alert.Signal
	trade.CloseAlertID = &alertID
	trade.ClosedAt = &now
	return nil
}

func (s *TradeService) record(tx *gorm.DB, result *TradeResult, action models.AlertTradeAction) error {
	action.CreatedAt = s.now()
	if err := tx.Create(&action).Error; err != nil {
		return fmt.Errorf("failed to record trade action: %w", err)
	}
	result.Actions = append(result.Actions, action)
	return nil
}

func (s *TradeService) openTrade(tx *gorm.DB, alert *models.Alert) (*models.Trade, error) {
	var trade models.Trade
	err := tx.Where("symbol = ? AND timeframe = ? AND strategy = ? AND status = ?",
		alert.Symbol, alert.Timeframe, alert.Strategy, models.TradeOpen).
		Order("id DESC").
		First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open trade: %w", err)
	}
	return &trade, nil
}

// recorded returns the previously applied result for an alert, or nil
func (s *TradeService) recorded(ctx context.Context, alertID uint) (*TradeResult, error) {
	var actions []models.AlertTradeAction
	if err := s.db.WithContext(ctx).
		Where("alert_id = ? AND outcome <> ?", alertID, models.TradeOutcomeFailed).
		Order("id").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("failed to query trade actions: %w", err)
	}
	if len(actions) == 0 {
		return nil, nil
	}

	result := &TradeResult{Actions: actions, Replayed: true}
	var closed models.Trade
	err := s.db.WithContext(ctx).Where("close_alert_id = ?", alertID).First(&closed).Error
	switch {
	case err == nil:
		result.Closed = &closed
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return result, nil
}

// GetOpenTrades returns every open trade, oldest first
func (s *TradeService) GetOpenTrades(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).Where("status = ?", models.TradeOpen).Order("id").Find(&trades).Error
	return trades, err
}

// PnLPercent returns the percentage result of a trade for its direction
func PnLPercent(direction models.TradeDirection, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	if direction == models.TradeShort {
		return (entry - exit) / entry * 100
	}
	return (exit - entry) / entry * 100
}

func intentFor(kind models.SignalKind) models.TradeActionKind {
	if kind.IsExit() {
		return models.TradeActionClose
	}
	return models.TradeActionOpen
}
