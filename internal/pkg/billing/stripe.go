package billing

import (
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// VerifyAndParse checks the webhook signature against the endpoint secret and
// returns the parsed event. A bad signature means the payload is untrusted and
// must be rejected before any state is touched.
func VerifyAndParse(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, secret)
}

type stripeFetcher struct{}

// NewStripeFetcher returns a SubscriptionFetcher backed by the live Stripe
// API. Setting the package-level key follows the stripe-go convention.
func NewStripeFetcher(apiKey string) SubscriptionFetcher {
	stripe.Key = apiKey
	return &stripeFetcher{}
}

func (f *stripeFetcher) Fetch(subscriptionID string) (*stripe.Subscription, error) {
	return subscription.Get(subscriptionID, nil)
}
