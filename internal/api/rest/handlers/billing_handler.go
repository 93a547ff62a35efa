package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/middleware"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/service"
	"github.com/landlordhub/billing-service/pkg/logger"
	"github.com/landlordhub/billing-service/pkg/req"
	"github.com/landlordhub/billing-service/pkg/res"
)

// CheckoutRequest тело запроса на инициацию checkout
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// CheckoutResponse успешный ответ с URL checkout-сессии
type CheckoutResponse struct {
	URL string `json:"url"`
}

// PortalRedirectResponse отказ по бизнес-правилу: менять подписку через портал
type PortalRedirectResponse struct {
	Error             string `json:"error"`
	RedirectToPortal  bool   `json:"redirectToPortal"`
	CustomerPortalURL string `json:"customerPortalUrl,omitempty"`
}

// SubscriptionResponse подписка в формате UI: внешнее имя плана
type SubscriptionResponse struct {
	Plan             string    `json:"plan"`
	DisplayName      string    `json:"display_name"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	Provisional      bool      `json:"provisional"`
}

// BillingHandler обрабатывает запросы биллинга
type BillingHandler struct {
	checkout      service.CheckoutService
	subscriptions service.SubscriptionService
	log           *logger.Logger
}

// NewBillingHandler создает новый обработчик биллинга
func NewBillingHandler(checkout service.CheckoutService, subscriptions service.SubscriptionService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		checkout:      checkout,
		subscriptions: subscriptions,
		log:           log,
	}
}

// CreateCheckout обрабатывает POST /api/v1/billing/checkout
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	userID, email, ok := h.identity(c)
	if !ok {
		return
	}

	body, err := req.HandleBody[CheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	result, err := h.checkout.InitiateCheckout(c.Request.Context(), userID, email, body.Plan)
	if err != nil {
		h.respondCheckoutError(c, err)
		return
	}

	if result.RedirectToPortal {
		res.JsonResponse(c.Writer, PortalRedirectResponse{
			Error:             "An active paid subscription already exists; manage it via the billing portal",
			RedirectToPortal:  true,
			CustomerPortalURL: result.PortalURL,
		}, http.StatusBadRequest)
		return
	}

	res.JsonResponse(c.Writer, CheckoutResponse{URL: result.URL}, http.StatusOK)
}

// GetSubscription обрабатывает GET /api/v1/billing/subscription.
// Никогда не отвечает "подписки нет": по умолчанию free.
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	rec := h.subscriptions.GetForUser(c.Request.Context(), userID)
	res.JsonResponse(c.Writer, gin.H{"subscription": SubscriptionResponse{
		Plan:             string(rec.Plan),
		DisplayName:      plan.DisplayName(rec.Plan),
		Status:           string(rec.Status),
		CurrentPeriodEnd: rec.CurrentPeriodEnd,
		Provisional:      rec.Provisional(),
	}}, http.StatusOK)
}

// CreatePortal обрабатывает POST /api/v1/billing/portal
func (h *BillingHandler) CreatePortal(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	url, err := h.checkout.CreatePortalSession(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "No billing account exists for this user"}, http.StatusNotFound)
		case errors.Is(err, domain.ErrProviderUnconfigured):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment provider is not configured"}, http.StatusServiceUnavailable)
		default:
			h.log.Errorw("Failed to create portal session", "error", err, "userID", userID)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to create portal session"}, http.StatusInternalServerError)
		}
		return
	}

	res.JsonResponse(c.Writer, gin.H{"url": url}, http.StatusOK)
}

// GetEntitlement обрабатывает GET /api/v1/billing/entitlement?count=N
func (h *BillingHandler) GetEntitlement(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	count := 0
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "count must be a non-negative integer"}, http.StatusBadRequest)
			return
		}
		count = parsed
	}

	ent := h.subscriptions.GetEntitlement(c.Request.Context(), userID, count)
	res.JsonResponse(c.Writer, ent, http.StatusOK)
}

func (h *BillingHandler) respondCheckoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownPlan):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unknown plan"}, http.StatusBadRequest)
	case errors.Is(err, domain.ErrPriceNotConfigured), errors.Is(err, domain.ErrProviderUnconfigured):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Billing is not configured"}, http.StatusServiceUnavailable)
	default:
		h.log.Errorw("Checkout initiation failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to create checkout session"}, http.StatusInternalServerError)
	}
}

// identity достает пользователя из контекста, положенного auth middleware.
func (h *BillingHandler) identity(c *gin.Context) (userID, email string, ok bool) {
	userID = c.GetString(string(middleware.ContextUserIDKey))
	if userID == "" {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return "", "", false
	}
	return userID, c.GetString(string(middleware.ContextUserEmailKey)), true
}
