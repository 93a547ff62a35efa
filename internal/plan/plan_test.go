package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landlordhub/billing-service/internal/domain"
)

func TestPropertyLimit(t *testing.T) {
	assert.Equal(t, 1, PropertyLimit(domain.PlanFree))
	assert.Equal(t, 5, PropertyLimit(domain.PlanStarter))
	assert.Equal(t, 10, PropertyLimit(domain.PlanGrowth))
	assert.Equal(t, Unlimited, PropertyLimit(domain.PlanPro))

	// Unknown plans fail closed to the free limit.
	assert.Equal(t, 1, PropertyLimit(domain.Plan("enterprise")))
}

func TestCanAddProperty(t *testing.T) {
	tests := []struct {
		name    string
		plan    domain.Plan
		current int
		want    bool
	}{
		{"free below limit", domain.PlanFree, 0, true},
		{"free at limit", domain.PlanFree, 1, false},
		{"free above limit", domain.PlanFree, 2, false},
		{"starter below limit", domain.PlanStarter, 4, true},
		{"starter at limit", domain.PlanStarter, 5, false},
		{"growth at limit", domain.PlanGrowth, 10, false},
		{"pro always allows", domain.PlanPro, 10000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAddProperty(tt.plan, tt.current))
		})
	}
}

func TestFromCheckoutName(t *testing.T) {
	p, err := FromCheckoutName("basic")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStarter, p)

	p, err = FromCheckoutName("Basic")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStarter, p)

	p, err = FromCheckoutName("growth")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanGrowth, p)

	p, err = FromCheckoutName("pro")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, p)

	_, err = FromCheckoutName("premium")
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)

	// Free is not checkout-able; it is the implicit default.
	_, err = FromCheckoutName("free")
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Basic", DisplayName(domain.PlanStarter))
	assert.Equal(t, "Free", DisplayName(domain.PlanFree))
	assert.Equal(t, "Growth", DisplayName(domain.PlanGrowth))
	assert.Equal(t, "Pro", DisplayName(domain.PlanPro))
}

func TestPriceTable(t *testing.T) {
	table := NewPriceTable("price_starter", "price_growth", "price_pro")

	id, err := table.PriceID(domain.PlanStarter)
	require.NoError(t, err)
	assert.Equal(t, "price_starter", id)

	p, err := table.PlanForPrice("price_growth")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanGrowth, p)

	_, err = table.PriceID(domain.PlanFree)
	assert.ErrorIs(t, err, domain.ErrPriceNotConfigured)

	_, err = table.PlanForPrice("price_unknown")
	assert.ErrorIs(t, err, domain.ErrPriceNotConfigured)
}

func TestPriceTableUnconfigured(t *testing.T) {
	table := NewPriceTable("", "", "")

	_, err := table.PriceID(domain.PlanStarter)
	assert.ErrorIs(t, err, domain.ErrPriceNotConfigured)
}
