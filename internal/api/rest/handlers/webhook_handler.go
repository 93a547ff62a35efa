package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/service"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
	"github.com/landlordhub/billing-service/pkg/res"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)
)

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	stripe  stripeclient.Client
	service service.WebhookService
	log     *logger.Logger
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
// stripeClient может быть nil: endpoint тогда отвечает 503.
func NewWebhookHandler(stripeClient stripeclient.Client, svc service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		stripe:  stripeClient,
		service: svc,
		log:     log,
	}
}

// HandleStripeWebhook - обработчик для Gin, принимающий вебхуки Stripe.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	if h.stripe == nil {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment provider is not configured"}, http.StatusServiceUnavailable)
		c.Abort()
		return
	}

	// Тело читается один раз, с ограничением размера
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	event, err := h.stripe.VerifyWebhook(payload, sigHeader)
	if err != nil {
		if errors.Is(err, domain.ErrWebhookSignature) {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		} else {
			h.log.Errorw("Webhook verification failed unexpectedly", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook verification failed"}, http.StatusBadRequest)
		}
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	if err := h.service.ProcessEvent(c.Request.Context(), event); err != nil {
		// Stripe повторит доставку на не-2xx ответ
		h.log.Errorw("Error processing webhook event", "error", err, "eventID", event.ID, "eventType", event.Type)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	c.Status(http.StatusOK)
}
