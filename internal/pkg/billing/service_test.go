package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/database"
)

type fakeFetcher struct {
	subs map[string]*stripe.Subscription
}

func (f *fakeFetcher) Fetch(subscriptionID string) (*stripe.Subscription, error) {
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	return sub, nil
}

func setupBillingDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()
	user := &models.User{Name: "Billing Test", Email: fmt.Sprintf("%s@example.com", t.Name()), Status: models.UserStatusActive}
	require.NoError(t, db.Create(user).Error)
	sub := &models.Subscription{
		UserID:                  user.ID,
		PlanType:                "starter",
		Status:                  models.SubscriptionStatusActive,
		StripeCustomerID:        "cus_test",
		StripeSubscriptionID:    "sub_test",
		GenerationsUsed:         2,
		GenerationsLimit:        3,
		WebsitesLimit:           2,
		PagesPerGenerationLimit: 200,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func makeEvent(t *testing.T, id, eventType string, object interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleEventDuplicateAppliedOnce(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_dup", "invoice.payment_failed", map[string]interface{}{
		"id":           "in_1",
		"customer":     "cus_test",
		"subscription": "sub_test",
	})

	require.NoError(t, service.HandleEvent(context.Background(), event))

	var first models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&first).Error)
	require.NotNil(t, first.PastDueSince)
	anchor := *first.PastDueSince

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var second models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&second).Error)
	require.NotNil(t, second.PastDueSince)
	assert.True(t, anchor.Equal(*second.PastDueSince), "the redelivered event did not move the past_due anchor")

	var count int64
	require.NoError(t, db.Model(&models.BillingEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "one ledger row per distinct event id")
}

func TestPaymentFailedThenRecovered(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	failed := makeEvent(t, "evt_fail", "invoice.payment_failed", map[string]interface{}{
		"id": "in_1", "customer": "cus_test", "subscription": "sub_test",
	})
	require.NoError(t, service.HandleEvent(context.Background(), failed))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.NotNil(t, sub.PastDueSince)

	succeeded := makeEvent(t, "evt_paid", "invoice.payment_succeeded", map[string]interface{}{
		"id": "in_2", "customer": "cus_test", "subscription": "sub_test",
	})
	require.NoError(t, service.HandleEvent(context.Background(), succeeded))

	sub = models.Subscription{}
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.PastDueSince, "recovery clears the grace-window anchor")
}

func TestOutOfOrderSubscriptionEvents(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, func(s *models.Subscription) {
		// Checkout linked the customer, but no subscription events arrived yet.
		s.StripeSubscriptionID = ""
		s.PlanType = "free"
	})
	service := NewService(NewRepository(db), nil)

	snapshot := map[string]interface{}{
		"id":                   "sub_new",
		"customer":             "cus_test",
		"status":               "active",
		"current_period_start": time.Now().Unix(),
		"current_period_end":   time.Now().AddDate(0, 1, 0).Unix(),
	}

	// The updated event arrives before the created event.
	updated := makeEvent(t, "evt_upd", "customer.subscription.updated", snapshot)
	require.NoError(t, service.HandleEvent(context.Background(), updated))

	created := makeEvent(t, "evt_crt", "customer.subscription.created", snapshot)
	require.NoError(t, service.HandleEvent(context.Background(), created))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, "sub_new", sub.StripeSubscriptionID, "the customer fallback linked the subscription id")
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.NotNil(t, sub.CurrentPeriodEnd)

	var outcomes []models.BillingEvent
	require.NoError(t, db.Find(&outcomes).Error)
	require.Len(t, outcomes, 2)
	for _, e := range outcomes {
		assert.Equal(t, models.BillingEventOutcomeProcessed, e.Outcome)
	}
}

func TestSubscriptionUpdatedMapsPlanFromPrice(t *testing.T) {
	t.Setenv("STRIPE_PRICE_PRO", "price_pro_monthly")

	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_plan", "customer.subscription.updated", map[string]interface{}{
		"id":       "sub_test",
		"customer": "cus_test",
		"status":   "active",
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]interface{}{"id": "price_pro_monthly"}},
			},
		},
	})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_subscription_id = ?", "sub_test").First(&sub).Error)
	assert.Equal(t, "pro", sub.PlanType)
	assert.Equal(t, 25, sub.GenerationsLimit)
	assert.Equal(t, 1000, sub.PagesPerGenerationLimit)
	assert.Equal(t, "price_pro_monthly", sub.StripePriceID)
	assert.Equal(t, 2, sub.GenerationsUsed, "a plan change never touches usage counters")
}

func TestSubscriptionDeletedDowngradesToFree(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_del", "customer.subscription.deleted", map[string]interface{}{
		"id": "sub_test", "customer": "cus_test", "status": "canceled",
	})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, "free", sub.PlanType)
	assert.Equal(t, 1, sub.GenerationsLimit)
	assert.Empty(t, sub.StripeSubscriptionID)
	assert.NotNil(t, sub.CanceledAt)
}

func TestCheckoutCompletedActivatesPlan(t *testing.T) {
	db := setupBillingDB(t)
	seeded := seedSubscription(t, db, func(s *models.Subscription) {
		s.PlanType = "free"
		s.StripeCustomerID = ""
		s.StripeSubscriptionID = ""
	})
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_co", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_1",
		"customer":     "cus_fresh",
		"subscription": "sub_fresh",
		"metadata": map[string]string{
			"user_id":   fmt.Sprintf("%d", seeded.UserID),
			"plan_type": "standard",
		},
	})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", seeded.UserID).First(&sub).Error)
	assert.Equal(t, "cus_fresh", sub.StripeCustomerID)
	assert.Equal(t, "sub_fresh", sub.StripeSubscriptionID)
	assert.Equal(t, "standard", sub.PlanType)
	assert.Equal(t, 10, sub.GenerationsLimit)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestChargeRefundedRevokesAccess(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_ref", "charge.refunded", map[string]interface{}{
		"id": "ch_1", "customer": "cus_test",
	})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, "free", sub.PlanType)
}

func TestDisputeFreezesAccount(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, nil)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_disp", "charge.dispute.created", map[string]interface{}{
		"id":     "dp_1",
		"charge": map[string]interface{}{"id": "ch_1", "customer": "cus_test"},
	})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_customer_id = ?", "cus_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusUnpaid, sub.Status)
}

func TestUnknownEventTypeIsSkipped(t *testing.T) {
	db := setupBillingDB(t)
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_misc", "payout.paid", map[string]interface{}{"id": "po_1"})
	require.NoError(t, service.HandleEvent(context.Background(), event))

	var record models.BillingEvent
	require.NoError(t, db.Where("stripe_event_id = ?", "evt_misc").First(&record).Error)
	assert.Equal(t, models.BillingEventOutcomeSkipped, record.Outcome)
}

func TestHandlerFailureIsRecordedNotRetried(t *testing.T) {
	db := setupBillingDB(t)
	// No subscription exists, so applying the event fails.
	service := NewService(NewRepository(db), nil)

	event := makeEvent(t, "evt_orphan", "invoice.payment_failed", map[string]interface{}{
		"id": "in_x", "customer": "cus_unknown",
	})
	require.NoError(t, service.HandleEvent(context.Background(), event),
		"a recorded event is acknowledged even when applying it failed")

	var record models.BillingEvent
	require.NoError(t, db.Where("stripe_event_id = ?", "evt_orphan").First(&record).Error)
	assert.Equal(t, models.BillingEventOutcomeFailed, record.Outcome)
	assert.NotEmpty(t, record.ProcessingError)
}

func TestResyncOverwritesDrift(t *testing.T) {
	t.Setenv("STRIPE_PRICE_STANDARD", "price_standard_monthly")

	db := setupBillingDB(t)
	seedSubscription(t, db, func(s *models.Subscription) {
		// Drifted local state from missed webhooks.
		s.Status = models.SubscriptionStatusCanceled
		s.PlanType = "free"
		s.GenerationsLimit = 1
	})

	periodEnd := time.Now().AddDate(0, 1, 0)
	fetcher := &fakeFetcher{subs: map[string]*stripe.Subscription{
		"sub_test": {
			ID:                 "sub_test",
			Status:             stripe.SubscriptionStatusActive,
			CurrentPeriodStart: time.Now().Unix(),
			CurrentPeriodEnd:   periodEnd.Unix(),
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{
					{Price: &stripe.Price{ID: "price_standard_monthly"}},
				},
			},
		},
	}}
	service := NewService(NewRepository(db), fetcher)

	synced, err := service.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	var sub models.Subscription
	require.NoError(t, db.Where("stripe_subscription_id = ?", "sub_test").First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "standard", sub.PlanType)
	assert.Equal(t, 10, sub.GenerationsLimit)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.WithinDuration(t, periodEnd, *sub.CurrentPeriodEnd, 2*time.Second)
	assert.Equal(t, 2, sub.GenerationsUsed, "resync never touches usage counters")
}

func TestResyncContinuesPastFetchErrors(t *testing.T) {
	db := setupBillingDB(t)
	seedSubscription(t, db, func(s *models.Subscription) {
		s.StripeSubscriptionID = "sub_gone"
	})
	service := NewService(NewRepository(db), &fakeFetcher{subs: map[string]*stripe.Subscription{}})

	synced, err := service.Resync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, synced)
}
