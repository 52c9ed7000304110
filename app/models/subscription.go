package models

import "time"

const (
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
)

// Subscription tracks a user's plan, billing-period quota usage and the link
// to the external payment processor. Usage fields are mutated only by the
// quota ledger; plan/status/period fields only by the billing reconciler and
// the resync job.
type Subscription struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	UserID                   uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanType                 string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_type"`
	StripeCustomerID         string     `gorm:"type:varchar(191);index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID     string     `gorm:"type:varchar(191);index" json:"stripe_subscription_id,omitempty"`
	StripePriceID            string     `gorm:"type:varchar(191)" json:"stripe_price_id,omitempty"`
	Status                   string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	GenerationsUsed          int        `gorm:"not null;default:0" json:"generations_used"`
	GenerationsLimit         int        `gorm:"not null;default:1" json:"generations_limit"`
	WebsitesLimit            int        `gorm:"not null;default:1" json:"websites_limit"`
	PagesPerGenerationLimit  int        `gorm:"not null;default:100" json:"pages_per_generation_limit"`
	CurrentPeriodStart       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd        bool       `gorm:"default:false" json:"cancel_at_period_end"`
	PastDueSince             *time.Time `gorm:"type:timestamp;default:null" json:"past_due_since,omitempty"`
	CanceledAt               *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasGenerationsRemaining reports whether the current period still has quota.
func (s *Subscription) HasGenerationsRemaining() bool {
	return s.GenerationsUsed < s.GenerationsLimit
}

// GrantsAccess reports whether the subscription status allows starting new
// generations. past_due keeps access for the grace window measured from the
// first past_due transition; existing artifacts stay downloadable regardless.
func (s *Subscription) GrantsAccess(gracePeriod time.Duration, now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	case SubscriptionStatusPastDue:
		if s.PastDueSince == nil {
			return true
		}
		return now.Sub(*s.PastDueSince) <= gracePeriod
	default:
		return false
	}
}

// PeriodElapsed reports whether the current billing period has run out. A
// subscription without period bounds has nothing to reset yet.
func (s *Subscription) PeriodElapsed(now time.Time) bool {
	return s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd)
}
