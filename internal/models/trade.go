package models

import "time"

// TradeDirection is the side of a tracked trade
type TradeDirection string

const (
	TradeLong  TradeDirection = "long"
	TradeShort TradeDirection = "short"
)

// TradeStatus represents the state of a tracked trade
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is the bookkeeping record of a strategy position opened and closed by alerts.
// Nothing is executed on an exchange.
type Trade struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Symbol       string         `json:"symbol" gorm:"not null;index:idx_trade_key"`
	Timeframe    string         `json:"timeframe" gorm:"index:idx_trade_key"`
	Strategy     string         `json:"strategy" gorm:"index:idx_trade_key"`
	Direction    TradeDirection `json:"direction"`
	EntryPrice   float64        `json:"entry_price"`
	TakeProfit   *float64       `json:"take_profit,omitempty"`
	StopLoss     *float64       `json:"stop_loss,omitempty"`
	ExitPrice    *float64       `json:"exit_price,omitempty"`
	PnLPercent   *float64       `json:"pnl_percent,omitempty"`
	ExitReason   SignalKind     `json:"exit_reason,omitempty"`
	Status       TradeStatus    `json:"status" gorm:"index;not null"`
	OpenAlertID  uint           `json:"open_alert_id"`
	CloseAlertID *uint          `json:"close_alert_id,omitempty"`
	OpenedAt     time.Time      `json:"opened_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DirectionFor maps an entry signal to a trade direction
func DirectionFor(kind SignalKind) TradeDirection {
	if kind == SignalSell {
		return TradeShort
	}
	return TradeLong
}
