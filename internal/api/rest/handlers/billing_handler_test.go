package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/middleware"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/service"
	"github.com/landlordhub/billing-service/pkg/logger"
)

type stubCheckoutService struct {
	result    *service.CheckoutResult
	err       error
	portalURL string
	portalErr error
}

func (s *stubCheckoutService) InitiateCheckout(_ context.Context, _, _, _ string) (*service.CheckoutResult, error) {
	return s.result, s.err
}

func (s *stubCheckoutService) CreatePortalSession(_ context.Context, _ string) (string, error) {
	return s.portalURL, s.portalErr
}

type stubSubscriptionService struct {
	rec *domain.SubscriptionRecord
}

func (s *stubSubscriptionService) GetForUser(_ context.Context, userID string) *domain.SubscriptionRecord {
	if s.rec != nil {
		return s.rec
	}
	return domain.FreeDefault(userID)
}

func (s *stubSubscriptionService) GetEntitlement(ctx context.Context, userID string, currentCount int) service.Entitlement {
	rec := s.GetForUser(ctx, userID)
	return service.Entitlement{
		Plan:          rec.Plan,
		DisplayName:   plan.DisplayName(rec.Plan),
		PropertyLimit: plan.PropertyLimit(rec.Plan),
		CanAdd:        plan.CanAddProperty(rec.Plan, currentCount),
	}
}

func billingRouter(h *BillingHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Подменяем auth middleware: кладем пользователя напрямую
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(string(middleware.ContextUserIDKey), userID)
			c.Set(string(middleware.ContextUserEmailKey), "u@example.com")
		}
		c.Next()
	})
	r.POST("/api/v1/billing/checkout", h.CreateCheckout)
	r.GET("/api/v1/billing/subscription", h.GetSubscription)
	r.POST("/api/v1/billing/portal", h.CreatePortal)
	r.GET("/api/v1/billing/entitlement", h.GetEntitlement)
	return r
}

func TestCreateCheckout_Success(t *testing.T) {
	h := NewBillingHandler(
		&stubCheckoutService{result: &service.CheckoutResult{URL: "https://checkout.test/s"}},
		&stubSubscriptionService{},
		logger.New(logger.ERROR),
	)
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"plan":"basic"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body CheckoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://checkout.test/s", body.URL)
}

func TestCreateCheckout_PortalRedirect(t *testing.T) {
	h := NewBillingHandler(
		&stubCheckoutService{result: &service.CheckoutResult{
			RedirectToPortal: true,
			PortalURL:        "https://portal.test/p",
		}},
		&stubSubscriptionService{},
		logger.New(logger.ERROR),
	)
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"plan":"growth"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body PortalRedirectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.RedirectToPortal)
	assert.Equal(t, "https://portal.test/p", body.CustomerPortalURL)
	assert.NotEmpty(t, body.Error)
}

func TestCreateCheckout_UnknownPlan(t *testing.T) {
	h := NewBillingHandler(
		&stubCheckoutService{err: domain.ErrUnknownPlan},
		&stubSubscriptionService{},
		logger.New(logger.ERROR),
	)
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"plan":"premium"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCheckout_NotConfigured(t *testing.T) {
	h := NewBillingHandler(
		&stubCheckoutService{err: domain.ErrProviderUnconfigured},
		&stubSubscriptionService{},
		logger.New(logger.ERROR),
	)
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"plan":"pro"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateCheckout_MissingPlan(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{}, logger.New(logger.ERROR))
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateCheckout_Unauthenticated(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{}, logger.New(logger.ERROR))
	r := billingRouter(h, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"plan":"pro"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetSubscription_DefaultsToFree(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{}, logger.New(logger.ERROR))
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Subscription SubscriptionResponse `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "free", body.Subscription.Plan)
	assert.Equal(t, "Free", body.Subscription.DisplayName)
}

func TestGetSubscription_StarterDisplaysAsBasic(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{
		rec: &domain.SubscriptionRecord{
			UserID:           "user-1",
			Plan:             domain.PlanStarter,
			Status:           domain.SubscriptionStatusActive,
			CurrentPeriodEnd: time.Now().Add(240 * time.Hour),
		},
	}, logger.New(logger.ERROR))
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Subscription SubscriptionResponse `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Внутреннее имя starter, пользователю показывается Basic
	assert.Equal(t, "starter", body.Subscription.Plan)
	assert.Equal(t, "Basic", body.Subscription.DisplayName)
}

func TestCreatePortal_NoCustomer(t *testing.T) {
	h := NewBillingHandler(
		&stubCheckoutService{portalErr: domain.ErrNotFound},
		&stubSubscriptionService{},
		logger.New(logger.ERROR),
	)
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/portal", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEntitlement(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{}, logger.New(logger.ERROR))
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/entitlement?count=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var ent service.Entitlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ent))
	assert.Equal(t, domain.PlanFree, ent.Plan)
	assert.False(t, ent.CanAdd)
}

func TestGetEntitlement_BadCount(t *testing.T) {
	h := NewBillingHandler(&stubCheckoutService{}, &stubSubscriptionService{}, logger.New(logger.ERROR))
	r := billingRouter(h, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/entitlement?count=abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
