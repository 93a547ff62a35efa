// Package plan is the single source of truth for entitlement policy:
// property limits per plan, the mapping between plans and provider price
// identifiers, and the naming seam between the user-facing plan name
// "Basic" and the canonical internal name "starter".
package plan

import (
	"fmt"
	"strings"

	"github.com/landlordhub/billing-service/internal/domain"
)

// Unlimited is the sentinel property limit for plans without a cap.
const Unlimited = -1

// PropertyLimit returns the number of properties a plan entitles to.
// Unknown plans get the free limit: entitlement fails closed.
func PropertyLimit(p domain.Plan) int {
	switch p {
	case domain.PlanStarter:
		return 5
	case domain.PlanGrowth:
		return 10
	case domain.PlanPro:
		return Unlimited
	default:
		return 1
	}
}

// CanAddProperty reports whether a user on the given plan may add another
// property given their current count.
func CanAddProperty(p domain.Plan, currentCount int) bool {
	limit := PropertyLimit(p)
	if limit == Unlimited {
		return true
	}
	return currentCount < limit
}

// FromCheckoutName maps an externally-presented plan name to the canonical
// internal plan. "basic" is the user-facing name of the starter plan.
func FromCheckoutName(name string) (domain.Plan, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "basic", "starter":
		return domain.PlanStarter, nil
	case "growth":
		return domain.PlanGrowth, nil
	case "pro":
		return domain.PlanPro, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownPlan, name)
	}
}

// DisplayName returns the user-facing name of a plan.
func DisplayName(p domain.Plan) string {
	switch p {
	case domain.PlanFree:
		return "Free"
	case domain.PlanStarter:
		return "Basic"
	case domain.PlanGrowth:
		return "Growth"
	case domain.PlanPro:
		return "Pro"
	default:
		return string(p)
	}
}

// PriceTable maps paid plans to provider price identifiers and back.
type PriceTable struct {
	byPlan  map[domain.Plan]string
	byPrice map[string]domain.Plan
}

// NewPriceTable builds a PriceTable from configured price identifiers.
// Empty price ids are allowed here; resolving them later yields
// ErrPriceNotConfigured so misconfiguration surfaces at checkout, not at
// startup of deployments that never sell that plan.
func NewPriceTable(starter, growth, pro string) *PriceTable {
	t := &PriceTable{
		byPlan:  make(map[domain.Plan]string, 3),
		byPrice: make(map[string]domain.Plan, 3),
	}
	for p, id := range map[domain.Plan]string{
		domain.PlanStarter: starter,
		domain.PlanGrowth:  growth,
		domain.PlanPro:     pro,
	} {
		if id == "" {
			continue
		}
		t.byPlan[p] = id
		t.byPrice[id] = p
	}
	return t
}

// PriceID resolves the provider price identifier for a plan.
func (t *PriceTable) PriceID(p domain.Plan) (string, error) {
	id, ok := t.byPlan[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrPriceNotConfigured, p)
	}
	return id, nil
}

// PlanForPrice resolves the canonical plan for a provider price identifier.
func (t *PriceTable) PlanForPrice(priceID string) (domain.Plan, error) {
	p, ok := t.byPrice[priceID]
	if !ok {
		return "", fmt.Errorf("%w: no plan for price %q", domain.ErrPriceNotConfigured, priceID)
	}
	return p, nil
}
