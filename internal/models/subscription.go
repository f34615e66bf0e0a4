package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionPlan is a purchasable plan
type SubscriptionPlan struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	Code           string          `json:"code" gorm:"uniqueIndex;not null"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price" gorm:"type:decimal(12,2)"`
	Currency       string          `json:"currency"`
	DurationMonths int             `json:"duration_months"`
	DurationDays   int             `json:"duration_days"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EndDate returns start plus the plan duration, months first then days
func (p *SubscriptionPlan) EndDate(start time.Time) time.Time {
	return start.AddDate(0, p.DurationMonths, p.DurationDays)
}

// SubscriptionStatus is the stored state of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription is a time-bounded entitlement of a user to a plan
type Subscription struct {
	ID            uint               `json:"id" gorm:"primaryKey"`
	UserID        uint               `json:"user_id" gorm:"not null;uniqueIndex:idx_subscription_txn"`
	PlanID        uint               `json:"plan_id" gorm:"not null;uniqueIndex:idx_subscription_txn"`
	TransactionID string             `json:"transaction_id" gorm:"not null;uniqueIndex:idx_subscription_txn"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       time.Time          `json:"end_date"`
	Status        SubscriptionStatus `json:"status" gorm:"index;not null"`
	AutoRenew     bool               `json:"auto_renew"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsActiveAt reports whether the subscription grants access at t.
// The stored status alone is not enough: a row can be active but past its end date.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionActive && t.Before(s.EndDate)
}
