// Package billing holds the subscription domain logic: the plan catalog,
// webhook event decoding and dispatch, checkout completion, subscription
// reconciliation, and the direct cancel and checkout operations.
package billing

import "sort"

// Plan identifiers accepted by the checkout endpoint.
const (
	PlanStarter = "starter"
	PlanFamily  = "family"
)

// Plan is a purchasable subscription tier and the Stripe price that bills it.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PriceID     string `json:"priceId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Interval    string `json:"interval"`
}

// PlanCatalog is the single source of truth for which prices may be sold.
type PlanCatalog interface {
	// Lookup returns the plan with the given id.
	Lookup(planID string) (Plan, bool)

	// ByPriceID returns the plan billed by priceID. Checkout requests that
	// name a raw price are only accepted when it belongs to a catalog plan.
	ByPriceID(priceID string) (Plan, bool)

	// Plans lists every plan ordered by price.
	Plans() []Plan
}

type staticPlanCatalog struct {
	byID    map[string]Plan
	byPrice map[string]Plan
}

// planDefaults lists the monthly tiers. PriceID is filled from configuration.
var planDefaults = []Plan{
	{ID: PlanStarter, Name: "Storybook Starter", AmountCents: 599, Currency: "usd", Interval: "month"},
	{ID: PlanFamily, Name: "Family Magic Plan", AmountCents: 1199, Currency: "usd", Interval: "month"},
}

// NewStaticPlanCatalog returns a catalog of the built-in plans bound to the
// configured Stripe price ids.
func NewStaticPlanCatalog(starterPriceID, familyPriceID string) PlanCatalog {
	prices := map[string]string{
		PlanStarter: starterPriceID,
		PlanFamily:  familyPriceID,
	}

	c := &staticPlanCatalog{
		byID:    make(map[string]Plan, len(planDefaults)),
		byPrice: make(map[string]Plan, len(planDefaults)),
	}
	for _, p := range planDefaults {
		p.PriceID = prices[p.ID]
		c.byID[p.ID] = p
		if p.PriceID != "" {
			c.byPrice[p.PriceID] = p
		}
	}
	return c
}

func (c *staticPlanCatalog) Lookup(planID string) (Plan, bool) {
	p, ok := c.byID[planID]
	if !ok || p.PriceID == "" {
		return Plan{}, false
	}
	return p, true
}

func (c *staticPlanCatalog) ByPriceID(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	p, ok := c.byPrice[priceID]
	return p, ok
}

func (c *staticPlanCatalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AmountCents < out[j].AmountCents })
	return out
}
