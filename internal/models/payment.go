package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PaymentStatus is the verification state of a payment
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentExpired   PaymentStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentRejected || s == PaymentExpired
}

// Payment is one attempt to pay for a subscription plan
type Payment struct {
	ID            uint              `json:"id" gorm:"primaryKey"`
	UserID        uint              `json:"user_id" gorm:"not null;index"`
	PlanID        uint              `json:"plan_id" gorm:"not null"`
	TransactionID string            `json:"transaction_id" gorm:"uniqueIndex;not null"`
	Amount        decimal.Decimal   `json:"amount" gorm:"type:decimal(12,2)"`
	Currency      string            `json:"currency"`
	Method        string            `json:"method"` // upi
	PaymentString string            `json:"payment_string" gorm:"type:text"`
	QRImageRef    string            `json:"qr_image_ref,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:text"`
	ProofRef      *string           `json:"proof_ref,omitempty"`
	ProofMIME     string            `json:"proof_mime,omitempty"`
	Status        PaymentStatus     `json:"status" gorm:"index;not null"`
	ExpiresAt     time.Time         `json:"expires_at"`

	// Verification record
	VerifiedBy        string     `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes string     `json:"verification_notes,omitempty" gorm:"type:text"`

	SubscriptionID *uint     `json:"subscription_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CanBeVerified reports whether an admin may approve or reject the payment
func (p *Payment) CanBeVerified() bool {
	return p.Status == PaymentPending
}

// IsExpiredAt reports whether the payment's time-to-live has elapsed at t
func (p *Payment) IsExpiredAt(t time.Time) bool {
	return !p.ExpiresAt.IsZero() && !t.Before(p.ExpiresAt)
}
