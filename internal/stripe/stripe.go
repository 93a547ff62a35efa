package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/pkg/logger"
)

const (
	// Ключ метаданных для связи Stripe Customer с нашим UserID
	metadataUserIDKey = "user_id"

	// Ключ метаданных с каноническим именем плана на checkout-сессии
	metadataPlanKey = "plan"

	maxRetries = 3
)

// CheckoutParams параметры для создания checkout-сессии
type CheckoutParams struct {
	CustomerID     string
	PriceID        string
	UserID         string
	Plan           string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// CreateCustomer создает нового клиента в Stripe и возвращает его Stripe ID.
	CreateCustomer(ctx context.Context, userID, email string) (string, error)

	// GetCustomer возвращает клиента Stripe по его ID.
	GetCustomer(ctx context.Context, stripeCustomerID string) (*stripe.Customer, error)

	// GetOrCreateCustomer ищет клиента по userID, если не находит - создает нового.
	GetOrCreateCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession создает hosted checkout сессию в режиме subscription
	// и возвращает URL для редиректа пользователя.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)

	// GetSubscription возвращает подписку Stripe по ее ID.
	GetSubscription(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error)

	// CreatePortalSession создает сессию customer portal и возвращает ее URL.
	CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error)

	// VerifyWebhook проверяет подпись вебхука и возвращает разобранное событие.
	VerifyWebhook(payload []byte, signature string) (stripe.Event, error)
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey, webhookSecret string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeClient{
		client:        sc,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// UserIDFromCustomer извлекает наш UserID из метаданных клиента Stripe.
// Возвращает пустую строку, если метаданные отсутствуют.
func UserIDFromCustomer(cus *stripe.Customer) string {
	if cus == nil {
		return ""
	}
	return cus.Metadata[metadataUserIDKey]
}

// CreateCustomer создает нового клиента в Stripe.
func (sc *stripeClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			metadataUserIDKey: userID,
		},
	}
	params.Context = ctx

	cus, err := sc.client.Customers.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCustomer", err)
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", userID)
	return cus.ID, nil
}

// GetCustomer возвращает клиента Stripe по его ID.
func (sc *stripeClient) GetCustomer(ctx context.Context, stripeCustomerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cus, err := sc.client.Customers.Get(stripeCustomerID, params)
	if err != nil {
		logStripeError(sc.log, "GetCustomer", err)
		return nil, fmt.Errorf("stripe: failed to get customer: %w", err)
	}

	return cus, nil
}

// GetOrCreateCustomer ищет клиента по userID в метаданных, если не находит - создает нового.
func (sc *stripeClient) GetOrCreateCustomer(ctx context.Context, userID, email string) (string, error) {
	sc.log.Debugw("Searching for Stripe customer using Search API", "userID", userID)

	// 1. Ищем клиента по метаданным (user_id) через Search API
	searchQuery := fmt.Sprintf("metadata['%s']:'%s'", metadataUserIDKey, userID)
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   searchQuery,
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	customers := sc.client.Customers.Search(searchParams)

	if customers.Next() {
		customer := customers.Customer()
		sc.log.Infow("Found existing Stripe customer via Search", "stripeCustomerID", customer.ID, "userID", userID)
		return customer.ID, nil
	}

	// Проверяем ошибки итератора
	if err := customers.Err(); err != nil {
		logStripeError(sc.log, "SearchCustomers", err)
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
				return "", fmt.Errorf("stripe: failed to search customer (invalid search query?): %w", err)
			}
		} else {
			return "", fmt.Errorf("stripe: failed to search customer (unknown error): %w", err)
		}
		sc.log.Warnw("Non-fatal error during customer search, proceeding to create", "error", err)
	}

	// 2. Клиент не найден или произошла некритичная ошибка поиска - создаем нового
	sc.log.Infow("Stripe customer not found via Search, creating new one", "userID", userID)
	return sc.CreateCustomer(ctx, userID, email)
}

// CreateCheckoutSession создает hosted checkout сессию в режиме subscription.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		// Метаданные дублируются на подписке, чтобы вебхуки могли
		// восстановить владельца без запроса клиента.
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserIDKey: p.UserID,
				metadataPlanKey:   p.Plan,
			},
		},
		Metadata: map[string]string{
			metadataUserIDKey: p.UserID,
			metadataPlanKey:   p.Plan,
		},
		Params: stripe.Params{
			IdempotencyKey: stripe.String(p.IdempotencyKey),
			Context:        ctx,
		},
	}

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", p.UserID, "plan", p.Plan)
	return session.URL, nil
}

// GetSubscription возвращает подписку Stripe по ее ID с ретраями на
// транзиентных ошибках API.
func (sc *stripeClient) GetSubscription(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription

	operation := func() error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx

		s, err := sc.client.Subscriptions.Get(stripeSubscriptionID, params)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		sub = s
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logStripeError(sc.log, "GetSubscription", err)
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}

	return sub, nil
}

// CreatePortalSession создает сессию customer portal.
func (sc *stripeClient) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(stripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := sc.client.BillingPortalSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreatePortalSession", err)
		return "", fmt.Errorf("stripe: failed to create portal session: %w", err)
	}

	sc.log.Infow("Stripe portal session created", "stripeCustomerID", stripeCustomerID)
	return session.URL, nil
}

// VerifyWebhook проверяет подпись вебхука и разбирает событие.
func (sc *stripeClient) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, sc.webhookSecret)
	if err != nil {
		sc.log.Warnw("Webhook signature verification failed", "error", err)
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrWebhookSignature, err)
	}
	return event, nil
}

// isTransient определяет, имеет ли смысл повторять запрос к Stripe.
func isTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500
	}
	// Сетевые ошибки без структурированного ответа считаем транзиентными
	return true
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
