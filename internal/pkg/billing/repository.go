package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/llmready/llmready/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateEventIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error)
	MarkEventProcessed(id uint, outcome, processingError string) error
	SubscriptionByStripeID(subscriptionID string) (*models.Subscription, error)
	SubscriptionByCustomerID(customerID string) (*models.Subscription, error)
	SubscriptionByUserID(userID uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	ListSubscriptionsWithStripeRef() ([]models.Subscription, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateEventIfNotExists inserts the event keyed by its unique external id.
// The insert-if-absent is atomic, so concurrent redelivery of the same event
// yields exactly one row and exactly one created=true result.
func (r *gormRepository) CreateEventIfNotExists(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkEventProcessed(id uint, outcome, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"outcome":          outcome,
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) SubscriptionByStripeID(subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SubscriptionByCustomerID(customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("stripe_customer_id = ?", customerID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListSubscriptionsWithStripeRef() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("stripe_subscription_id <> ''").Find(&subs).Error
	return subs, err
}
