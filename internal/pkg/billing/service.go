package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"

	"github.com/llmready/llmready/app/models"
	"github.com/llmready/llmready/internal/pkg/plans"
)

// SubscriptionFetcher reads the authoritative subscription state from the
// payment processor. The resync job uses it to repair drift left behind by
// missed or mis-ordered webhook deliveries.
type SubscriptionFetcher interface {
	Fetch(subscriptionID string) (*stripe.Subscription, error)
}

// Service applies billing events to local subscription state. Every event is
// recorded in the ledger before its handler runs, so redeliveries short-circuit
// and the webhook endpoint can always acknowledge receipt.
type Service struct {
	repo    Repository
	fetcher SubscriptionFetcher
}

func NewService(repo Repository, fetcher SubscriptionFetcher) *Service {
	return &Service{repo: repo, fetcher: fetcher}
}

// HandleEvent records and applies one webhook event. The returned error means
// the event could not be durably recorded and the sender should redeliver;
// handler failures after recording are stored on the ledger row and
// acknowledged, because the hourly resync repairs any resulting drift.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	record := &models.BillingEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		ReceivedAt:    time.Now(),
	}
	created, stored, err := s.repo.CreateEventIfNotExists(record)
	if err != nil {
		return fmt.Errorf("failed to record billing event %s: %w", event.ID, err)
	}
	if !created {
		log.Infof("[Billing] Event %s already seen (%s), skipping", event.ID, stored.Outcome)
		return nil
	}

	handled, applyErr := s.apply(ctx, event)
	outcome := models.BillingEventOutcomeProcessed
	detail := ""
	switch {
	case applyErr != nil:
		log.Errorf("[Billing] Event %s (%s) failed: %v", event.ID, event.Type, applyErr)
		outcome = models.BillingEventOutcomeFailed
		detail = applyErr.Error()
	case !handled:
		outcome = models.BillingEventOutcomeSkipped
	}

	if err := s.repo.MarkEventProcessed(stored.ID, outcome, detail); err != nil {
		log.Errorf("[Billing] Failed to mark event %s: %v", event.ID, err)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event stripe.Event) (bool, error) {
	switch string(event.Type) {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return true, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		return true, s.handleCheckoutCompleted(&session)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return true, fmt.Errorf("failed to parse subscription: %w", err)
		}
		return true, s.applySubscriptionState(&sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return true, fmt.Errorf("failed to parse subscription: %w", err)
		}
		return true, s.handleSubscriptionDeleted(&sub)

	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return true, fmt.Errorf("failed to parse invoice: %w", err)
		}
		return true, s.handlePaymentSucceeded(&invoice)

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return true, fmt.Errorf("failed to parse invoice: %w", err)
		}
		return true, s.handlePaymentFailed(&invoice)

	case "invoice.payment_action_required":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return true, fmt.Errorf("failed to parse invoice: %w", err)
		}
		return true, s.handlePaymentActionRequired(&invoice)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return true, fmt.Errorf("failed to parse charge: %w", err)
		}
		return true, s.handleChargeRefunded(&charge)

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return true, fmt.Errorf("failed to parse dispute: %w", err)
		}
		return true, s.handleDisputeCreated(&dispute)

	default:
		log.Debugf("[Billing] Ignoring unhandled event type %s", event.Type)
		return false, nil
	}
}

// handleCheckoutCompleted links a finished checkout to its local subscription
// and activates the purchased plan. The checkout metadata names the user, so
// this handler works even before any customer.subscription.* event arrives.
func (s *Service) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	userID, err := userIDFromMetadata(session.Metadata)
	if err != nil {
		return err
	}

	sub, err := s.repo.SubscriptionByUserID(userID)
	if err != nil {
		return fmt.Errorf("no subscription for user %d: %w", userID, err)
	}

	if session.Customer != nil {
		sub.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		sub.StripeSubscriptionID = session.Subscription.ID
	}
	if plan := session.Metadata["plan_type"]; plan != "" {
		applyPlan(sub, plans.Normalize(plan))
	}
	sub.Status = models.SubscriptionStatusActive
	sub.PastDueSince = nil

	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	log.Infof("[Billing] Checkout completed for user %d, plan %s", userID, sub.PlanType)
	return nil
}

// applySubscriptionState overwrites local state from a subscription snapshot.
// Snapshots are last-write-wins: created and updated events share this path,
// so out-of-order delivery converges on whichever snapshot lands last, and
// the resync job settles any remaining difference.
func (s *Service) applySubscriptionState(remote *stripe.Subscription) error {
	sub, err := s.findSubscription(remote)
	if err != nil {
		return err
	}
	s.applyRemote(sub, remote)
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	log.Infof("[Billing] Subscription %s now %s (plan %s)", remote.ID, sub.Status, sub.PlanType)
	return nil
}

func (s *Service) handleSubscriptionDeleted(remote *stripe.Subscription) error {
	sub, err := s.findSubscription(remote)
	if err != nil {
		return err
	}

	now := time.Now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.CancelAtPeriodEnd = false
	sub.PastDueSince = nil
	sub.StripeSubscriptionID = ""
	sub.StripePriceID = ""
	applyPlan(sub, plans.PlanFree)

	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	log.Infof("[Billing] Subscription %s deleted, user %d back on free", remote.ID, sub.UserID)
	return nil
}

func (s *Service) handlePaymentSucceeded(invoice *stripe.Invoice) error {
	sub, err := s.findSubscriptionForInvoice(invoice)
	if err != nil {
		return err
	}
	sub.Status = models.SubscriptionStatusActive
	sub.PastDueSince = nil
	if invoice.PeriodStart > 0 {
		start := time.Unix(invoice.PeriodStart, 0)
		sub.CurrentPeriodStart = &start
	}
	if invoice.PeriodEnd > 0 {
		end := time.Unix(invoice.PeriodEnd, 0)
		sub.CurrentPeriodEnd = &end
	}
	return s.repo.SaveSubscription(sub)
}

// handlePaymentFailed moves the subscription to past_due and anchors the
// grace window at the first failure. Duplicate failure events never move
// the anchor.
func (s *Service) handlePaymentFailed(invoice *stripe.Invoice) error {
	sub, err := s.findSubscriptionForInvoice(invoice)
	if err != nil {
		return err
	}
	sub.Status = models.SubscriptionStatusPastDue
	if sub.PastDueSince == nil {
		now := time.Now()
		sub.PastDueSince = &now
	}
	return s.repo.SaveSubscription(sub)
}

func (s *Service) handlePaymentActionRequired(invoice *stripe.Invoice) error {
	sub, err := s.findSubscriptionForInvoice(invoice)
	if err != nil {
		return err
	}
	sub.Status = models.SubscriptionStatusIncomplete
	return s.repo.SaveSubscription(sub)
}

// handleChargeRefunded revokes paid access immediately.
func (s *Service) handleChargeRefunded(charge *stripe.Charge) error {
	if charge.Customer == nil {
		return fmt.Errorf("charge %s has no customer", charge.ID)
	}
	sub, err := s.repo.SubscriptionByCustomerID(charge.Customer.ID)
	if err != nil {
		return fmt.Errorf("no subscription for customer %s: %w", charge.Customer.ID, err)
	}

	now := time.Now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	sub.PastDueSince = nil
	applyPlan(sub, plans.PlanFree)

	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	log.Warnf("[Billing] Charge %s refunded, user %d downgraded to free", charge.ID, sub.UserID)
	return nil
}

// handleDisputeCreated freezes the account while the dispute is open.
func (s *Service) handleDisputeCreated(dispute *stripe.Dispute) error {
	if dispute.Charge == nil || dispute.Charge.Customer == nil {
		return fmt.Errorf("dispute %s has no customer reference", dispute.ID)
	}
	sub, err := s.repo.SubscriptionByCustomerID(dispute.Charge.Customer.ID)
	if err != nil {
		return fmt.Errorf("no subscription for customer %s: %w", dispute.Charge.Customer.ID, err)
	}

	sub.Status = models.SubscriptionStatusUnpaid
	if err := s.repo.SaveSubscription(sub); err != nil {
		return err
	}
	log.Warnf("[Billing] Dispute %s opened, user %d access frozen", dispute.ID, sub.UserID)
	return nil
}

// Resync pulls the authoritative state for every subscription that has a
// processor reference and overwrites local state. It continues past per-row
// failures and reports how many rows it settled.
func (s *Service) Resync(ctx context.Context) (int, error) {
	if s.fetcher == nil {
		return 0, fmt.Errorf("no subscription fetcher configured")
	}

	subs, err := s.repo.ListSubscriptionsWithStripeRef()
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		sub := &subs[i]
		remote, err := s.fetcher.Fetch(sub.StripeSubscriptionID)
		if err != nil {
			log.Errorf("[Billing] Resync fetch failed for subscription %s: %v", sub.StripeSubscriptionID, err)
			continue
		}
		s.applyRemote(sub, remote)
		if err := s.repo.SaveSubscription(sub); err != nil {
			log.Errorf("[Billing] Resync save failed for subscription %s: %v", sub.StripeSubscriptionID, err)
			continue
		}
		synced++
	}

	log.Infof("[Billing] Resync settled %d/%d subscriptions", synced, len(subs))
	return synced, nil
}

// findSubscription locates the local row for a subscription snapshot, falling
// back to the customer reference so that an updated event arriving before the
// created event still finds the row linked at checkout.
func (s *Service) findSubscription(remote *stripe.Subscription) (*models.Subscription, error) {
	sub, err := s.repo.SubscriptionByStripeID(remote.ID)
	if err == nil {
		return sub, nil
	}
	if remote.Customer != nil {
		if sub, cerr := s.repo.SubscriptionByCustomerID(remote.Customer.ID); cerr == nil {
			sub.StripeSubscriptionID = remote.ID
			return sub, nil
		}
	}
	return nil, fmt.Errorf("no local subscription for %s: %w", remote.ID, err)
}

func (s *Service) findSubscriptionForInvoice(invoice *stripe.Invoice) (*models.Subscription, error) {
	if invoice.Subscription != nil {
		if sub, err := s.repo.SubscriptionByStripeID(invoice.Subscription.ID); err == nil {
			return sub, nil
		}
	}
	if invoice.Customer != nil {
		if sub, err := s.repo.SubscriptionByCustomerID(invoice.Customer.ID); err == nil {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("no local subscription for invoice %s", invoice.ID)
}

// applyRemote maps a processor subscription snapshot onto the local row.
func (s *Service) applyRemote(sub *models.Subscription, remote *stripe.Subscription) {
	previousStatus := sub.Status
	sub.Status = string(remote.Status)
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd

	if remote.CurrentPeriodStart > 0 {
		start := time.Unix(remote.CurrentPeriodStart, 0)
		sub.CurrentPeriodStart = &start
	}
	if remote.CurrentPeriodEnd > 0 {
		end := time.Unix(remote.CurrentPeriodEnd, 0)
		sub.CurrentPeriodEnd = &end
	}

	switch sub.Status {
	case models.SubscriptionStatusPastDue:
		if sub.PastDueSince == nil {
			now := time.Now()
			sub.PastDueSince = &now
		}
	case models.SubscriptionStatusCanceled:
		if remote.CanceledAt > 0 {
			canceled := time.Unix(remote.CanceledAt, 0)
			sub.CanceledAt = &canceled
		} else if sub.CanceledAt == nil {
			now := time.Now()
			sub.CanceledAt = &now
		}
		sub.PastDueSince = nil
	default:
		sub.PastDueSince = nil
	}

	if priceID := firstPriceID(remote); priceID != "" {
		sub.StripePriceID = priceID
		if plan, ok := plans.PlanForPriceID(priceID); ok {
			applyPlan(sub, plan)
		}
	}

	if previousStatus != sub.Status {
		log.Debugf("[Billing] Subscription %s status %s -> %s", remote.ID, previousStatus, sub.Status)
	}
}

// applyPlan sets the plan tier and its metered limits. Usage counters are the
// quota ledger's to mutate and are left untouched.
func applyPlan(sub *models.Subscription, plan plans.Plan) {
	if current := plans.Normalize(sub.PlanType); plan != current {
		direction := "downgraded"
		if plans.IsUpgrade(current, plan) {
			direction = "upgraded"
		}
		log.Infof("[Billing] User %d %s from %s to %s", sub.UserID, direction, current, plan)
	}
	limits := plans.LimitsFor(plan)
	sub.PlanType = string(plan)
	sub.GenerationsLimit = limits.Generations
	sub.WebsitesLimit = limits.Websites
	sub.PagesPerGenerationLimit = limits.PagesPerGeneration
}

func firstPriceID(remote *stripe.Subscription) string {
	if remote.Items == nil || len(remote.Items.Data) == 0 {
		return ""
	}
	item := remote.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func userIDFromMetadata(metadata map[string]string) (uint, error) {
	raw := metadata["user_id"]
	if raw == "" {
		return 0, fmt.Errorf("checkout session has no user_id metadata")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user_id metadata %q: %w", raw, err)
	}
	return uint(id), nil
}
