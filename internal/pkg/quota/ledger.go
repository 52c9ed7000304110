package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/llmready/llmready/app/models"
)

// Entitlement errors are returned synchronously to the caller and never
// retried.
var (
	ErrQuotaExceeded        = errors.New("generation quota exceeded")
	ErrPlanLimitExceeded    = errors.New("plan limit exceeded")
	ErrSubscriptionInactive = errors.New("subscription does not grant access")
	ErrGenerationInFlight   = errors.New("a generation is already in progress for this website")
)

// Ledger answers "can this tenant start one more generation right now" and
// commits the answer atomically: the usage increment and the pending
// Generation row are created in one transaction, so quota and job existence
// never diverge.
type Ledger struct {
	db          *gorm.DB
	gracePeriod time.Duration
}

// NewLedger creates a ledger. gracePeriod bounds how long past_due keeps
// granting access, measured from the first past_due transition.
func NewLedger(db *gorm.DB, gracePeriod time.Duration) *Ledger {
	return &Ledger{db: db, gracePeriod: gracePeriod}
}

// Reserve checks the subscription gates in order (status, website count,
// generation quota, page ceiling, per-website single run) and on success
// increments generations_used and creates the pending Generation in the same
// transaction. The page budget is clamped to the plan ceiling rather than
// rejected. A failed generation does not refund its slot.
func (l *Ledger) Reserve(ctx context.Context, userID, websiteID uint, pageBudget int) (*models.Generation, error) {
	var gen *models.Generation

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The row lock serializes concurrent reservations for one tenant,
		// which also makes the count-based gates below race-free.
		var sub models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&sub).Error; err != nil {
			return err
		}

		now := time.Now()
		if !sub.GrantsAccess(l.gracePeriod, now) {
			return fmt.Errorf("%w: status is %s", ErrSubscriptionInactive, sub.Status)
		}

		var websiteCount int64
		if err := tx.Model(&models.Website{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Count(&websiteCount).Error; err != nil {
			return err
		}
		if websiteCount > int64(sub.WebsitesLimit) {
			return fmt.Errorf("%w: %d websites exceed the plan limit of %d",
				ErrPlanLimitExceeded, websiteCount, sub.WebsitesLimit)
		}

		if !sub.HasGenerationsRemaining() {
			return fmt.Errorf("%w: used %d of %d generations this period",
				ErrQuotaExceeded, sub.GenerationsUsed, sub.GenerationsLimit)
		}

		var inFlight int64
		if err := tx.Model(&models.Generation{}).
			Where("website_id = ? AND status IN ?", websiteID, models.GenerationInFlightStatuses).
			Count(&inFlight).Error; err != nil {
			return err
		}
		if inFlight > 0 {
			return ErrGenerationInFlight
		}

		if pageBudget <= 0 || pageBudget > sub.PagesPerGenerationLimit {
			pageBudget = sub.PagesPerGenerationLimit
		}

		// Guarded increment: the limit check and the increment are one
		// statement, so two concurrent reservations cannot both take the
		// last slot.
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND generations_used < generations_limit", sub.ID).
			UpdateColumn("generations_used", gorm.Expr("generations_used + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: used %d of %d generations this period",
				ErrQuotaExceeded, sub.GenerationsUsed, sub.GenerationsLimit)
		}

		g := &models.Generation{
			UUID:       uuid.New().String(),
			UserID:     userID,
			WebsiteID:  websiteID,
			Status:     models.GenerationStatusPending,
			PageBudget: pageBudget,
		}
		if err := tx.Create(g).Error; err != nil {
			return err
		}
		gen = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// Remaining returns the unused generation slots for the current period.
func (l *Ledger) Remaining(ctx context.Context, userID uint) (used, limit int, err error) {
	var sub models.Subscription
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return 0, 0, err
	}
	return sub.GenerationsUsed, sub.GenerationsLimit, nil
}
