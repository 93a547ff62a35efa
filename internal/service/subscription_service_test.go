package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/metrics"
)

func newSubscriptionService(repo *fakeSubscriptionRepo, client *fakeStripeClient) SubscriptionService {
	return NewSubscriptionService(repo, client, testPrices(), metrics.NewNopMetrics(), 24*time.Hour, testLogger())
}

func TestRankRecords(t *testing.T) {
	activePaid := domain.SubscriptionRecord{UserID: "u", Plan: domain.PlanPro, Status: domain.SubscriptionStatusActive}
	activeFree := domain.SubscriptionRecord{UserID: "u", Plan: domain.PlanFree, Status: domain.SubscriptionStatusActive}
	canceled := domain.SubscriptionRecord{UserID: "u", Plan: domain.PlanGrowth, Status: domain.SubscriptionStatusCanceled}
	pastDue := domain.SubscriptionRecord{UserID: "u", Plan: domain.PlanStarter, Status: domain.SubscriptionStatusPastDue}

	tests := []struct {
		name string
		recs []domain.SubscriptionRecord
		want *domain.SubscriptionRecord
	}{
		{
			name: "active paid wins over newer active free",
			recs: []domain.SubscriptionRecord{activeFree, activePaid},
			want: &activePaid,
		},
		{
			name: "active free wins over newer canceled",
			recs: []domain.SubscriptionRecord{canceled, activeFree},
			want: &activeFree,
		},
		{
			name: "most recent row when nothing is active",
			recs: []domain.SubscriptionRecord{pastDue, canceled},
			want: &pastDue,
		},
		{
			name: "empty history",
			recs: nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RankRecords(tt.recs)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Plan, got.Plan)
			assert.Equal(t, tt.want.Status, got.Status)
		})
	}
}

func TestGetForUser_FreeDefaultWhenNoRows(t *testing.T) {
	svc := newSubscriptionService(newFakeRepo(), &fakeStripeClient{})

	rec := svc.GetForUser(context.Background(), "user-1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PlanFree, rec.Plan)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.Status)
	assert.Equal(t, "user-1", rec.UserID)
}

func TestGetForUser_FreeDefaultOnStoreError(t *testing.T) {
	repo := newFakeRepo()
	repo.failGet = errors.New("db down")
	svc := newSubscriptionService(repo, &fakeStripeClient{})

	rec := svc.GetForUser(context.Background(), "user-1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PlanFree, rec.Plan)
}

func TestGetForUser_FreshRowServedAsIs(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(domain.SubscriptionRecord{
		UserID:               "user-1",
		StripeSubscriptionID: strPtr("sub_1"),
		Plan:                 domain.PlanGrowth,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(240 * time.Hour),
	})
	client := &fakeStripeClient{}
	svc := newSubscriptionService(repo, client)

	rec := svc.GetForUser(context.Background(), "user-1")
	assert.Equal(t, domain.PlanGrowth, rec.Plan)
	assert.Zero(t, client.subscriptionCalls)
}

func TestGetForUser_StalenessSelfHeal(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(domain.SubscriptionRecord{
		UserID:               "user-1",
		StripeSubscriptionID: strPtr("sub_1"),
		Plan:                 domain.PlanGrowth,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(-48 * time.Hour),
	})
	freshPeriodEnd := time.Now().Add(720 * time.Hour)
	client := &fakeStripeClient{
		getSubscriptionFn: func(_ context.Context, id string) (*stripe.Subscription, error) {
			return &stripe.Subscription{
				ID:               id,
				Status:           stripe.SubscriptionStatusActive,
				CurrentPeriodEnd: freshPeriodEnd.Unix(),
				Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
					{Price: &stripe.Price{ID: "price_pro"}},
				}},
			}, nil
		},
	}
	svc := newSubscriptionService(repo, client)

	rec := svc.GetForUser(context.Background(), "user-1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PlanPro, rec.Plan)
	assert.True(t, rec.CurrentPeriodEnd.After(time.Now()))

	// Перезапись дошла до хранилища
	stored := repo.row("user-1")
	assert.Equal(t, domain.PlanPro, stored.Plan)
	assert.Equal(t, freshPeriodEnd.Unix(), stored.CurrentPeriodEnd.Unix())
}

func TestGetForUser_StaleRowServedWhenRefetchFails(t *testing.T) {
	repo := newFakeRepo()
	stalePeriodEnd := time.Now().Add(-72 * time.Hour)
	repo.seed(domain.SubscriptionRecord{
		UserID:               "user-1",
		StripeSubscriptionID: strPtr("sub_1"),
		Plan:                 domain.PlanStarter,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     stalePeriodEnd,
	})
	client := &fakeStripeClient{
		getSubscriptionFn: func(_ context.Context, _ string) (*stripe.Subscription, error) {
			return nil, &stripe.Error{Msg: "unavailable"}
		},
	}
	svc := newSubscriptionService(repo, client)

	rec := svc.GetForUser(context.Background(), "user-1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.PlanStarter, rec.Plan)
	assert.Equal(t, stalePeriodEnd.Unix(), rec.CurrentPeriodEnd.Unix())
}

func TestGetForUser_ProvisionalRowNeverSynced(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(domain.SubscriptionRecord{
		UserID:           "user-1",
		Plan:             domain.PlanGrowth,
		Status:           domain.SubscriptionStatusActive,
		CurrentPeriodEnd: time.Now().Add(-48 * time.Hour),
	})
	client := &fakeStripeClient{}
	svc := newSubscriptionService(repo, client)

	rec := svc.GetForUser(context.Background(), "user-1")
	require.NotNil(t, rec)
	// Без subscription id синхронизировать нечего
	assert.Zero(t, client.subscriptionCalls)
}

func TestGetForUser_RecentlyExpiredWithinGraceWindow(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(domain.SubscriptionRecord{
		UserID:               "user-1",
		StripeSubscriptionID: strPtr("sub_1"),
		Plan:                 domain.PlanGrowth,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(-1 * time.Hour),
	})
	client := &fakeStripeClient{}
	svc := newSubscriptionService(repo, client)

	svc.GetForUser(context.Background(), "user-1")
	// Час после конца периода внутри 24-часового окна допуска
	assert.Zero(t, client.subscriptionCalls)
}

func TestGetEntitlement(t *testing.T) {
	repo := newFakeRepo()
	repo.seed(domain.SubscriptionRecord{
		UserID:               "user-1",
		StripeSubscriptionID: strPtr("sub_1"),
		Plan:                 domain.PlanStarter,
		Status:               domain.SubscriptionStatusActive,
		CurrentPeriodEnd:     time.Now().Add(240 * time.Hour),
	})
	svc := newSubscriptionService(repo, &fakeStripeClient{})

	ent := svc.GetEntitlement(context.Background(), "user-1", 4)
	assert.Equal(t, domain.PlanStarter, ent.Plan)
	assert.Equal(t, "Basic", ent.DisplayName)
	assert.Equal(t, 5, ent.PropertyLimit)
	assert.True(t, ent.CanAdd)

	ent = svc.GetEntitlement(context.Background(), "user-1", 5)
	assert.False(t, ent.CanAdd)
}

func TestGetEntitlement_FreeDefault(t *testing.T) {
	svc := newSubscriptionService(newFakeRepo(), &fakeStripeClient{})

	ent := svc.GetEntitlement(context.Background(), "user-2", 0)
	assert.Equal(t, domain.PlanFree, ent.Plan)
	assert.Equal(t, 1, ent.PropertyLimit)
	assert.True(t, ent.CanAdd)

	ent = svc.GetEntitlement(context.Background(), "user-2", 1)
	assert.False(t, ent.CanAdd)
}
