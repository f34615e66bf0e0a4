package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignalKind is the trade action implied by an alert
type SignalKind string

const (
	SignalBuy           SignalKind = "BUY"
	SignalSell          SignalKind = "SELL"
	SignalTakeProfitHit SignalKind = "TAKE_PROFIT_HIT"
	SignalStopLossHit   SignalKind = "STOP_LOSS_HIT"
)

// IsEntry reports whether the signal opens a position
func (k SignalKind) IsEntry() bool {
	return k == SignalBuy || k == SignalSell
}

// IsExit reports whether the signal closes a position
func (k SignalKind) IsExit() bool {
	return k == SignalTakeProfitHit || k == SignalStopLossHit
}

// AlertStatus is the processing state of an alert
type AlertStatus string

const (
	AlertStatusReceived   AlertStatus = "received"
	AlertStatusProcessing AlertStatus = "processing"
	AlertStatusProcessed  AlertStatus = "processed"
	AlertStatusFailed     AlertStatus = "failed"
)

// Alert represents one ingested TradingView signal event.
// RawPayload is written once at creation and never updated.
type Alert struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Source      string         `json:"source" gorm:"index"`
	RawPayload  datatypes.JSON `json:"raw_payload" gorm:"type:text;not null"`
	Symbol      string         `json:"symbol" gorm:"index"`
	Timeframe   string         `json:"timeframe"`
	Strategy    string         `json:"strategy" gorm:"index"`
	Signal      SignalKind     `json:"signal"`
	Price       float64        `json:"price"`
	TakeProfit  *float64       `json:"take_profit,omitempty"`
	StopLoss    *float64       `json:"stop_loss,omitempty"`
	EventTime   time.Time      `json:"event_time"`
	Status      AlertStatus    `json:"status" gorm:"index;not null"`
	Attempts    int            `json:"attempts"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RecipientStatus tracks one recipient's delivery for one alert
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSending   RecipientStatus = "sending"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientFailed    RecipientStatus = "failed"
	RecipientBlocked   RecipientStatus = "blocked"
)

// AlertRecipient is a matched user for an alert. Delivered never goes back to false.
type AlertRecipient struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	AlertID        uint            `json:"alert_id" gorm:"not null;uniqueIndex:idx_alert_recipient"`
	UserID         uint            `json:"user_id" gorm:"not null;uniqueIndex:idx_alert_recipient"`
	SubscriptionID uint            `json:"subscription_id"`
	ChatID         string          `json:"chat_id"`
	Status         RecipientStatus `json:"status" gorm:"index;not null"`
	Delivered      bool            `json:"delivered"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TradeActionKind is the intent derived from an alert against the trade ledger
type TradeActionKind string

const (
	TradeActionOpen    TradeActionKind = "open"
	TradeActionClose   TradeActionKind = "close"
	TradeActionReplace TradeActionKind = "replace"
)

// TradeActionOutcome records what happened to an intent
type TradeActionOutcome string

const (
	TradeOutcomeApplied TradeActionOutcome = "applied"
	TradeOutcomeSkipped TradeActionOutcome = "skipped"
	TradeOutcomeFailed  TradeActionOutcome = "failed"
)

// AlertTradeAction is one trade-action intent recorded on an alert
type AlertTradeAction struct {
	ID        uint               `json:"id" gorm:"primaryKey"`
	AlertID   uint               `json:"alert_id" gorm:"not null;index"`
	TradeID   *uint              `json:"trade_id,omitempty"`
	Action    TradeActionKind    `json:"action"`
	Outcome   TradeActionOutcome `json:"outcome"`
	Detail    string             `json:"detail,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// AlertError is an error appended to an alert's audit trail
type AlertError struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	AlertID   uint      `json:"alert_id" gorm:"not null;index"`
	Stage     string    `json:"stage"` // parse, match, trade, deliver
	UserID    *uint     `json:"user_id,omitempty"`
	Message   string    `json:"message" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertDetail is an alert with its audit trail loaded by explicit lookup
type AlertDetail struct {
	Alert        Alert              `json:"alert"`
	Recipients   []AlertRecipient   `json:"recipients"`
	TradeActions []AlertTradeAction `json:"trade_actions"`
	Errors       []AlertError       `json:"errors"`
}
