package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/metrics"
	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/models"
)

// WebhookPayload is the inbound TradingView alert body. Fields beyond these are kept
// only in the raw payload.
type WebhookPayload struct {
	Symbol     string      `json:"symbol" validate:"required"`
	Timeframe  string      `json:"timeframe" validate:"required"`
	Strategy   string      `json:"strategy" validate:"required"`
	Signal     string      `json:"signal" validate:"required"`
	Price      interface{} `json:"price" validate:"required"`
	Timestamp  interface{} `json:"timestamp" validate:"required"`
	TakeProfit interface{} `json:"take_profit,omitempty"`
	TP         interface{} `json:"tp,omitempty"`
	StopLoss   interface{} `json:"stop_loss,omitempty"`
	SL         interface{} `json:"sl,omitempty"`
}

// ParsedSignal holds the derived alert fields
type ParsedSignal struct {
	Symbol     string
	Timeframe  string
	Strategy   string
	Signal     models.SignalKind
	Price      float64
	TakeProfit *float64
	StopLoss   *float64
	EventTime  time.Time
}

var signalAliases = map[string]models.SignalKind{
	"BUY":             models.SignalBuy,
	"SELL":            models.SignalSell,
	"TP_HIT":          models.SignalTakeProfitHit,
	"TAKE_PROFIT_HIT": models.SignalTakeProfitHit,
	"SL_HIT":          models.SignalStopLossHit,
	"STOP_LOSS_HIT":   models.SignalStopLossHit,
}

// ParseSignalKind maps a webhook signal value to a SignalKind
func ParseSignalKind(v string) (models.SignalKind, bool) {
	kind, ok := signalAliases[strings.ToUpper(strings.TrimSpace(v))]
	return kind, ok
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AlertService handles alert intake and the alert processing lifecycle
type AlertService struct {
	db       *gorm.DB
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{
		db:       db,
		validate: newValidator(),
		now:      utcNow,
		logger:   log.With().Str("component", "alerts").Logger(),
	}
}

// SetClock overrides the time source
func (s *AlertService) SetClock(now func() time.Time) {
	s.now = now
}

// ParsePayload validates a raw webhook body and derives the alert fields
func (s *AlertService) ParsePayload(raw []byte) (*ParsedSignal, error) {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil, NewValidationError("payload", "body is not valid JSON")
	}

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewValidationError("payload", err.Error())
	}

	if err := s.validate.Struct(&payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, NewValidationError(verrs[0].Field(), "is required")
		}
		return nil, NewValidationError("payload", err.Error())
	}

	kind, ok := ParseSignalKind(payload.Signal)
	if !ok {
		return nil, NewValidationError("signal", fmt.Sprintf("unsupported signal %q", payload.Signal))
	}

	price, err := parsePrice(payload.Price)
	if err != nil {
		return nil, NewValidationError("price", err.Error())
	}

	eventTime, err := parseEventTime(payload.Timestamp)
	if err != nil {
		return nil, NewValidationError("timestamp", err.Error())
	}

	parsed := &ParsedSignal{
		Symbol:    strings.ToUpper(strings.TrimSpace(payload.Symbol)),
		Timeframe: strings.TrimSpace(payload.Timeframe),
		Strategy:  strings.TrimSpace(payload.Strategy),
		Signal:    kind,
		Price:     price,
		EventTime: eventTime,
	}

	if parsed.TakeProfit, err = optionalPrice(payload.TakeProfit, payload.TP); err != nil {
		return nil, NewValidationError("take_profit", err.Error())
	}
	if parsed.StopLoss, err = optionalPrice(payload.StopLoss, payload.SL); err != nil {
		return nil, NewValidationError("stop_loss", err.Error())
	}

	return parsed, nil
}

// Ingest validates and persists an alert with status received.
// Invalid payloads are rejected with a ValidationError and nothing is stored.
func (s *AlertService) Ingest(ctx context.Context, raw []byte, source string) (*models.Alert, error) {
	parsed, err := s.ParsePayload(raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stored := make([]byte, len(raw))
	copy(stored, raw)

	alert := &models.Alert{
		Source:     source,
		RawPayload: datatypes.JSON(stored),
		Symbol:     parsed.Symbol,
		Timeframe:  parsed.Timeframe,
		Strategy:   parsed.Strategy,
		Signal:     parsed.Signal,
		Price:      parsed.Price,
		TakeProfit: parsed.TakeProfit,
		StopLoss:   parsed.StopLoss,
		EventTime:  parsed.EventTime,
		Status:     models.AlertStatusReceived,
		ReceivedAt: now,
	}

	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	metrics.AlertsIngested.WithLabelValues(source).Inc()
	s.logger.Info().
		Uint("alert_id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("strategy", alert.Strategy).
		Str("signal", string(alert.Signal)).
		Msg("alert received")

	return alert, nil
}

// MarkProcessing moves a received alert to processing
func (s *AlertService) MarkProcessing(ctx context.Context, id uint) error {
	return s.transition(ctx, id, []models.AlertStatus{models.AlertStatusReceived}, models.AlertStatusProcessing,
		map[string]interface{}{"attempts": gorm.Expr("attempts + 1")})
}

// MarkReprocessing moves a failed alert back to processing for a retry
func (s *AlertService) MarkReprocessing(ctx context.Context, id uint) error {
	return s.transition(ctx, id, []models.AlertStatus{models.AlertStatusFailed}, models.AlertStatusProcessing,
		map[string]interface{}{"attempts": gorm.Expr("attempts + 1")})
}

// MarkProcessed moves a processing alert to processed and stamps the processed time
func (s *AlertService) MarkProcessed(ctx context.Context, id uint) error {
	if err := s.transition(ctx, id, []models.AlertStatus{models.AlertStatusProcessing}, models.AlertStatusProcessed,
		map[string]interface{}{"processed_at": s.now()}); err != nil {
		return err
	}
	metrics.AlertsFinished.WithLabelValues(string(models.AlertStatusProcessed)).Inc()
	return nil
}

// MarkFailed moves a non-terminal alert to failed and records the cause.
// The alert stays queryable for inspection and retry.
func (s *AlertService) MarkFailed(ctx context.Context, id uint, stage string, cause error) error {
	if err := s.transition(ctx, id,
		[]models.AlertStatus{models.AlertStatusReceived, models.AlertStatusProcessing},
		models.AlertStatusFailed, nil); err != nil {
		return err
	}
	metrics.AlertsFinished.WithLabelValues(string(models.AlertStatusFailed)).Inc()

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.AppendError(ctx, id, stage, nil, msg)
}

// AppendError records an error on the alert's audit trail
func (s *AlertService) AppendError(ctx context.Context, alertID uint, stage string, userID *uint, message string) error {
	record := &models.AlertError{
		AlertID:   alertID,
		Stage:     stage,
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append alert error: %w", err)
	}
	return nil
}

// transition applies a status change only if the current status is one of from
func (s *AlertService) transition(ctx context.Context, id uint, from []models.AlertStatus, to models.AlertStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return err
	}

	expected := make([]string, len(from))
	for i, st := range from {
		expected[i] = string(st)
	}
	return &InvalidStateError{
		Entity:   "alert",
		ID:       id,
		Current:  string(alert.Status),
		Expected: strings.Join(expected, "|"),
	}
}

// GetAlert retrieves an alert by ID
func (s *AlertService) GetAlert(ctx context.Context, id uint) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &alert, nil
}

// GetAlertDetail loads an alert with its recipients, trade actions and errors
func (s *AlertService) GetAlertDetail(ctx context.Context, id uint) (*models.AlertDetail, error) {
	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &models.AlertDetail{Alert: *alert}
	db := s.db.WithContext(ctx)
	if err := db.Where("alert_id = ?", id).Order("id").Find(&detail.Recipients).Error; err != nil {
		return nil, err
	}
	if err := db.Where("alert_id = ?", id).Order("id").Find(&detail.TradeActions).Error; err != nil {
		return nil, err
	}
	if err := db.Where("alert_id = ?", id).Order("id").Find(&detail.Errors).Error; err != nil {
		return nil, err
	}
	return detail, nil
}

// GetAlerts retrieves alerts with pagination and optional status filter
func (s *AlertService) GetAlerts(ctx context.Context, page, limit int, status string) ([]models.Alert, int64, error) {
	var alerts []models.Alert
	var total int64

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Alert{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Offset(offset).Limit(limit).Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, 0, err
	}

	return alerts, total, nil
}

// ListIDsByStatus returns ids of alerts in a status, oldest first
func (s *AlertService) ListIDsByStatus(ctx context.Context, status models.AlertStatus) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("status = ?", status).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func parsePrice(v interface{}) (float64, error) {
	price, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if price <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return price, nil
}

func optionalPrice(values ...interface{}) (*float64, error) {
	for _, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
			continue
		}
		price, err := parsePrice(v)
		if err != nil {
			return nil, err
		}
		return &price, nil
	}
	return nil, nil
}

// parseEventTime accepts unix seconds, unix milliseconds or a date string
func parseEventTime(v interface{}) (time.Time, error) {
	if str, ok := v.(string); ok {
		str = strings.TrimSpace(str)
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return unixTime(n), nil
		}
		t, err := cast.ToTimeE(str)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognised time %q", str)
		}
		return t.UTC(), nil
	}

	n, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised time %v", v)
	}
	return unixTime(n), nil
}

func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func utcNow() time.Time {
	return time.Now().UTC()
}
