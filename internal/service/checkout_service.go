package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/kafka"
	"github.com/landlordhub/billing-service/internal/metrics"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/repository"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// CheckoutResult результат инициации checkout.
// RedirectToPortal означает отказ по бизнес-правилу: у пользователя уже есть
// активная платная подписка, менять ее нужно через портал провайдера.
type CheckoutResult struct {
	URL              string
	RedirectToPortal bool
	PortalURL        string
}

// CheckoutService интерфейс сервиса инициации checkout-сессий
type CheckoutService interface {
	// InitiateCheckout создает checkout-сессию для запрошенного плана.
	// Возвращает RedirectToPortal вместо URL, если у пользователя уже есть
	// активная платная подписка.
	InitiateCheckout(ctx context.Context, userID, email, planName string) (*CheckoutResult, error)

	// CreatePortalSession создает сессию customer portal для пользователя
	// с существующим клиентом провайдера.
	CreatePortalSession(ctx context.Context, userID string) (string, error)
}

// checkoutService реализация CheckoutService
type checkoutService struct {
	repo              repository.SubscriptionRepository
	stripe            stripeclient.Client
	prices            *plan.PriceTable
	producer          kafka.Producer
	metrics           metrics.BillingMetrics
	baseURL           string
	provisionalPeriod time.Duration
	log               *logger.Logger
}

// NewCheckoutService создает новый сервис инициации checkout-сессий.
// stripeClient может быть nil, если провайдер не сконфигурирован; все
// операции тогда возвращают ErrProviderUnconfigured.
func NewCheckoutService(
	repo repository.SubscriptionRepository,
	stripeClient stripeclient.Client,
	prices *plan.PriceTable,
	producer kafka.Producer,
	m metrics.BillingMetrics,
	baseURL string,
	provisionalPeriod time.Duration,
	log *logger.Logger,
) CheckoutService {
	return &checkoutService{
		repo:              repo,
		stripe:            stripeClient,
		prices:            prices,
		producer:          producer,
		metrics:           m,
		baseURL:           baseURL,
		provisionalPeriod: provisionalPeriod,
		log:               log,
	}
}

// InitiateCheckout создает checkout-сессию для запрошенного плана.
func (s *checkoutService) InitiateCheckout(ctx context.Context, userID, email, planName string) (*CheckoutResult, error) {
	if s.stripe == nil {
		return nil, domain.ErrProviderUnconfigured
	}

	// Внешнее имя плана ("basic") канонизируется ровно в одном месте
	p, err := plan.FromCheckoutName(planName)
	if err != nil {
		return nil, err
	}

	recs, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		// Без истории нельзя ни проверить дубликат, ни переиспользовать клиента
		s.log.Errorw("Failed to load subscription history before checkout", "error", err, "userID", userID)
		return nil, fmt.Errorf("service: failed to load subscription state: %w", err)
	}

	// Отказ по бизнес-правилу: активная платная подписка уже есть,
	// изменения делаются через портал провайдера
	for i := range recs {
		if recs[i].ActivePaid() {
			s.metrics.IncCheckoutRefused()
			s.log.Infow("Checkout refused, user already has an active paid subscription",
				"userID", userID, "currentPlan", recs[i].Plan, "requestedPlan", p)

			portalURL := ""
			if recs[i].StripeCustomerID != nil {
				portalURL, err = s.stripe.CreatePortalSession(ctx, *recs[i].StripeCustomerID, s.baseURL+"/billing")
				if err != nil {
					// Отказ возвращается и без ссылки на портал
					s.log.Warnw("Failed to create portal session for refused checkout", "error", err, "userID", userID)
					portalURL = ""
				}
			}
			return &CheckoutResult{RedirectToPortal: true, PortalURL: portalURL}, nil
		}
	}

	priceID, err := s.prices.PriceID(p)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, userID, email, recs)
	if err != nil {
		return nil, err
	}

	url, err := s.stripe.CreateCheckoutSession(ctx, stripeclient.CheckoutParams{
		CustomerID:     customerID,
		PriceID:        priceID,
		UserID:         userID,
		Plan:           string(p),
		SuccessURL:     s.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      s.baseURL + "/billing/cancel",
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("service: failed to create checkout session: %w", err)
	}

	// Провизорная запись: пользователь, оплативший мгновенно, не должен
	// видеть free до прихода вебхука. Ошибка записи не отменяет checkout.
	provisional := &domain.SubscriptionRecord{
		UserID:           userID,
		StripeCustomerID: &customerID,
		Plan:             p,
		Status:           domain.SubscriptionStatusIncomplete,
		CurrentPeriodEnd: time.Now().Add(s.provisionalPeriod),
	}
	if err := s.repo.Upsert(ctx, provisional); err != nil {
		s.log.Errorw("Failed to write provisional subscription row", "error", err, "userID", userID, "plan", p)
	}

	s.metrics.IncCheckoutInitiated(string(p))
	s.publishAsync(ctx, &kafka.PlanEvent{
		UserID:     userID,
		Plan:       string(p),
		Status:     string(domain.SubscriptionStatusIncomplete),
		Kind:       "checkout_initiated",
		OccurredAt: time.Now(),
	})

	s.log.Infow("Checkout session initiated", "userID", userID, "plan", p)
	return &CheckoutResult{URL: url}, nil
}

// CreatePortalSession создает сессию customer portal.
func (s *checkoutService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	if s.stripe == nil {
		return "", domain.ErrProviderUnconfigured
	}

	recs, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service: failed to load subscription state: %w", err)
	}

	for i := range recs {
		if recs[i].StripeCustomerID != nil && *recs[i].StripeCustomerID != "" {
			url, err := s.stripe.CreatePortalSession(ctx, *recs[i].StripeCustomerID, s.baseURL+"/billing")
			if err != nil {
				return "", fmt.Errorf("service: failed to create portal session: %w", err)
			}
			return url, nil
		}
	}

	return "", domain.ErrNotFound
}

// resolveCustomer переиспользует сохраненный stripe_customer_id или
// создает нового клиента и сразу сохраняет его ID.
func (s *checkoutService) resolveCustomer(ctx context.Context, userID, email string, recs []domain.SubscriptionRecord) (string, error) {
	for i := range recs {
		if recs[i].StripeCustomerID != nil && *recs[i].StripeCustomerID != "" {
			return *recs[i].StripeCustomerID, nil
		}
	}

	customerID, err := s.stripe.GetOrCreateCustomer(ctx, userID, email)
	if err != nil {
		return "", fmt.Errorf("service: failed to resolve stripe customer: %w", err)
	}

	if err := s.repo.SaveCustomerID(ctx, userID, customerID); err != nil {
		// Клиент уже существует в Stripe, повторный checkout найдет его
		// через Search; терять сессию из-за этого не нужно
		s.log.Errorw("Failed to persist stripe customer ID", "error", err, "userID", userID, "stripeCustomerID", customerID)
	}

	return customerID, nil
}

// publishAsync публикует аналитическое событие, не блокируя запрос.
func (s *checkoutService) publishAsync(ctx context.Context, event *kafka.PlanEvent) {
	if s.producer == nil {
		return
	}
	go func(ctx context.Context) {
		if err := s.producer.PublishPlanEvent(ctx, event); err != nil {
			s.log.Warnw("Failed to publish plan event", "error", err, "userID", event.UserID, "kind", event.Kind)
		}
	}(context.WithoutCancel(ctx))
}
