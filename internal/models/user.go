package models

import "time"

// User represents an end-user who can subscribe to alerts
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelLinkStatus is the health of a user's chat destination
type ChannelLinkStatus string

const (
	ChannelLinkActive  ChannelLinkStatus = "active"
	ChannelLinkBlocked ChannelLinkStatus = "blocked"
)

// ChannelLink is the chat destination a user is notified on
type ChannelLink struct {
	ID        uint              `json:"id" gorm:"primaryKey"`
	UserID    uint              `json:"user_id" gorm:"not null;uniqueIndex"`
	ChatID    string            `json:"chat_id" gorm:"not null"`
	Username  string            `json:"username"`
	Status    ChannelLinkStatus `json:"status" gorm:"index;not null"`
	BlockedAt *time.Time        `json:"blocked_at,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// AlertConfig is a user's declared interest in a symbol/strategy/signal combination
type AlertConfig struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	UserID    uint       `json:"user_id" gorm:"not null;index"`
	Symbol    string     `json:"symbol" gorm:"not null;index:idx_alert_config_match"`
	Strategy  string     `json:"strategy" gorm:"index:idx_alert_config_match"`
	Signal    SignalKind `json:"signal" gorm:"index:idx_alert_config_match"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
