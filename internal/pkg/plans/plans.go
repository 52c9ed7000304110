package plans

import (
	"strings"

	"github.com/llmready/llmready/internal/pkg/env"
)

type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanStandard Plan = "standard"
	PlanPro      Plan = "pro"
)

// Limits are the metered ceilings a plan grants per billing period.
type Limits struct {
	Generations        int
	Websites           int
	PagesPerGeneration int
}

var planLimits = map[Plan]Limits{
	PlanFree:     {Generations: 1, Websites: 1, PagesPerGeneration: 100},
	PlanStarter:  {Generations: 3, Websites: 2, PagesPerGeneration: 200},
	PlanStandard: {Generations: 10, Websites: 5, PagesPerGeneration: 500},
	PlanPro:      {Generations: 25, Websites: 999, PagesPerGeneration: 1000},
}

// Normalize maps arbitrary input to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanStarter:
		return PlanStarter
	case PlanStandard:
		return PlanStandard
	case PlanPro:
		return PlanPro
	default:
		return PlanFree
	}
}

// LimitsFor returns the metered limits for a plan.
func LimitsFor(plan Plan) Limits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// Rank orders plans so upgrades compare greater than downgrades.
func Rank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanPro:
		return 3
	case PlanStandard:
		return 2
	case PlanStarter:
		return 1
	default:
		return 0
	}
}

// IsUpgrade reports whether moving to next would raise the tier.
func IsUpgrade(current, next Plan) bool {
	return Rank(next) > Rank(current)
}

// PlanForPriceID maps a Stripe price identifier to the internal plan. Price
// ids for monthly and yearly billing both resolve to the same tier. Unknown
// price ids resolve to (free, false) so callers can keep the current tier.
func PlanForPriceID(priceID string) (Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return PlanFree, false
	}

	table := map[string]Plan{
		env.GetEnv("STRIPE_PRICE_STARTER", ""):         PlanStarter,
		env.GetEnv("STRIPE_PRICE_STARTER_YEARLY", ""):  PlanStarter,
		env.GetEnv("STRIPE_PRICE_STANDARD", ""):        PlanStandard,
		env.GetEnv("STRIPE_PRICE_STANDARD_YEARLY", ""): PlanStandard,
		env.GetEnv("STRIPE_PRICE_PRO", ""):             PlanPro,
		env.GetEnv("STRIPE_PRICE_PRO_YEARLY", ""):      PlanPro,
	}
	delete(table, "")

	plan, ok := table[priceID]
	if !ok {
		return PlanFree, false
	}
	return plan, true
}
