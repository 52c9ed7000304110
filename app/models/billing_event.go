package models

import "time"

const (
	BillingEventOutcomeProcessed = "processed"
	BillingEventOutcomeFailed    = "failed"
	BillingEventOutcomeSkipped   = "skipped"
)

// BillingEvent is the idempotency ledger for payment-processor webhooks. The
// unique event id makes a second delivery of the same event a no-op.
type BillingEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	StripeEventID   string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Outcome         string     `gorm:"type:varchar(32);not null;default:'processed'" json:"outcome"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
