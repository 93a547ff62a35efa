package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/email"
	"github.com/landlordhub/billing-service/internal/kafka"
	"github.com/landlordhub/billing-service/internal/metrics"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/repository"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// WebhookService единственный авторитетный писатель состояния подписок.
// Все обработчики идемпотентны: провайдер доставляет события минимум один
// раз и в произвольном порядке.
type WebhookService interface {
	// ProcessEvent обрабатывает проверенное вебхук-событие.
	// Ошибка возвращается только когда повтор доставки может помочь
	// (не удалось разрешить владельца, не удалось разобрать payload);
	// ошибки записи в хранилище логируются и не меняют ответ провайдеру.
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// webhookService реализация WebhookService
type webhookService struct {
	repo     repository.SubscriptionRepository
	stripe   stripeclient.Client
	prices   *plan.PriceTable
	producer kafka.Producer
	notifier email.Notifier
	metrics  metrics.BillingMetrics
	log      *logger.Logger
}

// NewWebhookService создает новый сервис обработки вебхуков.
func NewWebhookService(
	repo repository.SubscriptionRepository,
	stripeClient stripeclient.Client,
	prices *plan.PriceTable,
	producer kafka.Producer,
	notifier email.Notifier,
	m metrics.BillingMetrics,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		repo:     repo,
		stripe:   stripeClient,
		prices:   prices,
		producer: producer,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

// ProcessEvent диспатчит событие по закрытому перечислению типов.
func (s *webhookService) ProcessEvent(ctx context.Context, event stripe.Event) error {
	kind := domain.ParseEventKind(string(event.Type))
	start := time.Now()

	var err error
	switch kind {
	case domain.EventSubscriptionCreated:
		err = s.processSubscriptionCreated(ctx, event)
	case domain.EventSubscriptionUpdated:
		err = s.processSubscriptionUpdated(ctx, event)
	case domain.EventSubscriptionDeleted:
		err = s.processSubscriptionDeleted(ctx, event)
	case domain.EventInvoicePaymentSucceeded:
		err = s.processInvoicePaymentSucceeded(ctx, event)
	case domain.EventInvoicePaymentFailed:
		err = s.processInvoicePaymentFailed(ctx, event)
	case domain.EventUnknown:
		// Неизвестный тип не ошибка: провайдеру незачем его ретраить
		s.log.Infow("Ignoring unhandled webhook event type", "type", event.Type, "eventID", event.ID)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.IncWebhookEvent(kind.String(), outcome)
	s.metrics.ObserveWebhookDuration(kind.String(), time.Since(start).Seconds())

	return err
}

// processSubscriptionCreated обрабатывает событие создания подписки.
// Перезаписывает провизорную запись пользователя авторитетным состоянием.
func (s *webhookService) processSubscriptionCreated(ctx context.Context, event stripe.Event) error {
	sub, err := unmarshalSubscription(event)
	if err != nil {
		return err
	}

	userID, customerEmail, err := s.resolveOwner(ctx, sub)
	if err != nil {
		return err
	}

	p, err := s.planFromSubscription(sub)
	if err != nil {
		return err
	}
	status := statusFromStripe(sub.Status)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	// Было ли прежнее состояние бесплатным - сигнал для аналитики и письма
	// о первой активации, не инвариант
	wasFree := true
	if recs, err := s.repo.GetByUserID(ctx, userID); err == nil {
		for i := range recs {
			if recs[i].ActivePaid() {
				wasFree = false
				break
			}
		}
	}

	if err := s.repo.ApplyByUserID(ctx, userID, sub.ID, p, status, periodEnd); err != nil {
		// Провайдер получит 200: повтор доставки не починит хранилище,
		// а ленивый sync выровняет состояние
		s.log.Errorw("Failed to apply subscription created event", "error", err, "userID", userID, "stripeSubscriptionID", sub.ID)
		return nil
	}

	s.log.Infow("Subscription created", "userID", userID, "stripeSubscriptionID", sub.ID, "plan", p, "status", status)

	if wasFree && status == domain.SubscriptionStatusActive && p.Paid() {
		s.notifyActivated(ctx, customerEmail, p)
	}
	s.publishAsync(ctx, &kafka.PlanEvent{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		Plan:                 string(p),
		Status:               string(status),
		Kind:                 "subscription_created",
		OccurredAt:           time.Now(),
	})

	return nil
}

// processSubscriptionUpdated обрабатывает событие обновления подписки.
// Основной путь - по stripe_subscription_id; fallback по user_id покрывает
// случай, когда updated пришел раньше created и ни одна запись еще не несет
// subscription id.
func (s *webhookService) processSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	sub, err := unmarshalSubscription(event)
	if err != nil {
		return err
	}

	p, err := s.planFromSubscription(sub)
	if err != nil {
		return err
	}
	status := statusFromStripe(sub.Status)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	err = s.repo.ApplyBySubscriptionID(ctx, sub.ID, p, status, periodEnd)
	if errors.Is(err, repository.ErrNotFound) {
		userID, _, resolveErr := s.resolveOwner(ctx, sub)
		if resolveErr != nil {
			return resolveErr
		}
		s.log.Infow("Subscription updated arrived before created, falling back to user row",
			"userID", userID, "stripeSubscriptionID", sub.ID)
		err = s.repo.ApplyByUserID(ctx, userID, sub.ID, p, status, periodEnd)
	}
	if err != nil {
		s.log.Errorw("Failed to apply subscription updated event", "error", err, "stripeSubscriptionID", sub.ID)
		return nil
	}

	s.log.Infow("Subscription updated", "stripeSubscriptionID", sub.ID, "plan", p, "status", status)
	return nil
}

// processSubscriptionDeleted помечает подписку отмененной.
// План и конец периода не трогаются: запись остается исторической.
func (s *webhookService) processSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	sub, err := unmarshalSubscription(event)
	if err != nil {
		return err
	}

	if err := s.repo.SetStatusBySubscriptionID(ctx, sub.ID, domain.SubscriptionStatusCanceled); err != nil {
		s.log.Errorw("Failed to apply subscription deleted event", "error", err, "stripeSubscriptionID", sub.ID)
		return nil
	}

	s.log.Infow("Subscription canceled", "stripeSubscriptionID", sub.ID)
	s.publishAsync(ctx, &kafka.PlanEvent{
		StripeSubscriptionID: sub.ID,
		Status:               string(domain.SubscriptionStatusCanceled),
		Kind:                 "subscription_canceled",
		OccurredAt:           time.Now(),
	})
	return nil
}

// processInvoicePaymentSucceeded активирует подписку и обновляет конец
// периода из авторитетного состояния провайдера. Если re-fetch не удался,
// деградирует до обновления одного статуса: устаревший period_end вылечит
// ленивый sync.
func (s *webhookService) processInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	invoice, err := unmarshalInvoice(event)
	if err != nil {
		return err
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		s.log.Debugw("Invoice without subscription, nothing to reconcile", "invoiceID", invoice.ID)
		return nil
	}
	subID := invoice.Subscription.ID

	if s.stripe != nil {
		if sub, fetchErr := s.stripe.GetSubscription(ctx, subID); fetchErr == nil {
			if p, planErr := s.planFromSubscription(sub); planErr == nil {
				periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
				if err := s.repo.ApplyBySubscriptionID(ctx, subID, p, domain.SubscriptionStatusActive, periodEnd); err != nil {
					s.log.Errorw("Failed to apply invoice payment succeeded event", "error", err, "stripeSubscriptionID", subID)
				}
				return nil
			}
		} else {
			s.log.Warnw("Subscription re-fetch failed, degrading to status-only update", "error", fetchErr, "stripeSubscriptionID", subID)
		}
	}

	if err := s.repo.SetStatusBySubscriptionID(ctx, subID, domain.SubscriptionStatusActive); err != nil {
		s.log.Errorw("Failed to set subscription active after invoice payment", "error", err, "stripeSubscriptionID", subID)
	}
	return nil
}

// processInvoicePaymentFailed помечает подписку просроченной.
func (s *webhookService) processInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	invoice, err := unmarshalInvoice(event)
	if err != nil {
		return err
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		s.log.Debugw("Invoice without subscription, nothing to reconcile", "invoiceID", invoice.ID)
		return nil
	}

	if err := s.repo.SetStatusBySubscriptionID(ctx, invoice.Subscription.ID, domain.SubscriptionStatusPastDue); err != nil {
		s.log.Errorw("Failed to apply invoice payment failed event", "error", err, "stripeSubscriptionID", invoice.Subscription.ID)
		return nil
	}

	s.log.Infow("Subscription marked past due", "stripeSubscriptionID", invoice.Subscription.ID)
	return nil
}

// resolveOwner определяет владельца подписки: сперва по метаданным самой
// подписки (их пишет checkout), затем по метаданным клиента провайдера.
// Отсутствие user_id означает осиротевший объект провайдера - ошибка,
// чтобы провайдер повторил доставку после ручного вмешательства.
func (s *webhookService) resolveOwner(ctx context.Context, sub *stripe.Subscription) (userID, customerEmail string, err error) {
	if id := sub.Metadata["user_id"]; id != "" {
		userID = id
	}

	if sub.Customer == nil || sub.Customer.ID == "" {
		if userID != "" {
			return userID, "", nil
		}
		return "", "", fmt.Errorf("service: %w: subscription %s has no customer", domain.ErrOrphanedCustomer, sub.ID)
	}

	if userID != "" && s.stripe == nil {
		return userID, "", nil
	}

	if s.stripe == nil {
		return "", "", domain.ErrProviderUnconfigured
	}

	cus, err := s.stripe.GetCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if userID != "" {
			// Метаданных подписки достаточно для записи, письмо пропустим
			s.log.Warnw("Failed to fetch stripe customer, using subscription metadata only", "error", err, "stripeCustomerID", sub.Customer.ID)
			return userID, "", nil
		}
		return "", "", fmt.Errorf("service: failed to resolve subscription owner: %w", err)
	}

	if userID == "" {
		userID = stripeclient.UserIDFromCustomer(cus)
	}
	if userID == "" {
		return "", "", fmt.Errorf("service: %w: customer %s", domain.ErrOrphanedCustomer, cus.ID)
	}

	return userID, cus.Email, nil
}

// planFromSubscription восстанавливает канонический план из price id
// текущей позиции подписки.
func (s *webhookService) planFromSubscription(sub *stripe.Subscription) (domain.Plan, error) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return "", fmt.Errorf("service: subscription %s has no price item", sub.ID)
	}
	p, err := s.prices.PlanForPrice(sub.Items.Data[0].Price.ID)
	if err != nil {
		return "", fmt.Errorf("service: failed to resolve plan for subscription %s: %w", sub.ID, err)
	}
	return p, nil
}

func (s *webhookService) notifyActivated(ctx context.Context, customerEmail string, p domain.Plan) {
	if s.notifier == nil || customerEmail == "" {
		return
	}
	go func(ctx context.Context) {
		if err := s.notifier.SendSubscriptionActivated(ctx, customerEmail, plan.DisplayName(p)); err != nil {
			s.log.Warnw("Failed to send activation email", "error", err, "to", customerEmail)
		}
	}(context.WithoutCancel(ctx))
}

func (s *webhookService) publishAsync(ctx context.Context, event *kafka.PlanEvent) {
	if s.producer == nil {
		return
	}
	go func(ctx context.Context) {
		if err := s.producer.PublishPlanEvent(ctx, event); err != nil {
			s.log.Warnw("Failed to publish plan event", "error", err, "kind", event.Kind)
		}
	}(context.WithoutCancel(ctx))
}

func unmarshalSubscription(event stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("service: failed to unmarshal subscription payload: %w", err)
	}
	return &sub, nil
}

func unmarshalInvoice(event stripe.Event) (*stripe.Invoice, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("service: failed to unmarshal invoice payload: %w", err)
	}
	return &invoice, nil
}

func statusFromStripe(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	return domain.SubscriptionStatus(s)
}
