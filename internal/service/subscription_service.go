package service

import (
	"context"
	"time"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/metrics"
	"github.com/landlordhub/billing-service/internal/plan"
	"github.com/landlordhub/billing-service/internal/repository"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// Entitlement результат проверки лимита на добавление объекта недвижимости
type Entitlement struct {
	Plan          domain.Plan `json:"plan"`
	DisplayName   string      `json:"display_name"`
	PropertyLimit int         `json:"property_limit"`
	CanAdd        bool        `json:"can_add"`
}

// SubscriptionService интерфейс чтения состояния подписки
type SubscriptionService interface {
	// GetForUser возвращает лучшую запись пользователя, само-исцеляя
	// устаревшие данные. Никогда не возвращает ошибку: при отсутствии
	// записей или сбое хранилища возвращается синтетический free.
	GetForUser(ctx context.Context, userID string) *domain.SubscriptionRecord

	// GetEntitlement возвращает решение о добавлении объекта для
	// текущего плана пользователя.
	GetEntitlement(ctx context.Context, userID string, currentCount int) Entitlement
}

// subscriptionService реализация SubscriptionService
type subscriptionService struct {
	repo            repository.SubscriptionRepository
	stripe          stripeclient.Client
	prices          *plan.PriceTable
	metrics         metrics.BillingMetrics
	stalenessWindow time.Duration
	log             *logger.Logger
}

// NewSubscriptionService создает новый сервис чтения подписок.
func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	stripeClient stripeclient.Client,
	prices *plan.PriceTable,
	m metrics.BillingMetrics,
	stalenessWindow time.Duration,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		repo:            repo,
		stripe:          stripeClient,
		prices:          prices,
		metrics:         m,
		stalenessWindow: stalenessWindow,
		log:             log,
	}
}

// RankRecords выбирает лучшую запись из истории пользователя.
// Каскад приоритетов: активная платная, затем активная любая, затем любая
// запись. Слайс ожидается отсортированным новые-первыми; внутри одного
// приоритета побеждает более свежая запись. Возвращает nil для пустой
// истории.
func RankRecords(recs []domain.SubscriptionRecord) *domain.SubscriptionRecord {
	for i := range recs {
		if recs[i].ActivePaid() {
			return &recs[i]
		}
	}
	for i := range recs {
		if recs[i].Status == domain.SubscriptionStatusActive {
			return &recs[i]
		}
	}
	if len(recs) > 0 {
		return &recs[0]
	}
	return nil
}

// GetForUser возвращает лучшую запись пользователя.
func (s *subscriptionService) GetForUser(ctx context.Context, userID string) *domain.SubscriptionRecord {
	recs, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		// Чтение не должно падать из-за хранилища: UI получает free,
		// следующий запрос попробует снова
		s.log.Errorw("Failed to load subscriptions, serving free default", "error", err, "userID", userID)
		return domain.FreeDefault(userID)
	}

	rec := RankRecords(recs)
	if rec == nil {
		return domain.FreeDefault(userID)
	}

	if s.isStale(rec) {
		if refreshed := s.refresh(ctx, rec); refreshed != nil {
			return refreshed
		}
		// Re-fetch не удался: устаревшая запись лучше, чем отказ
	}

	return rec
}

// GetEntitlement возвращает решение о добавлении объекта.
func (s *subscriptionService) GetEntitlement(ctx context.Context, userID string, currentCount int) Entitlement {
	rec := s.GetForUser(ctx, userID)
	return Entitlement{
		Plan:          rec.Plan,
		DisplayName:   plan.DisplayName(rec.Plan),
		PropertyLimit: plan.PropertyLimit(rec.Plan),
		CanAdd:        plan.CanAddProperty(rec.Plan, currentCount),
	}
}

// isStale определяет, подозрительна ли запись: активная, подтвержденная
// провайдером, но с концом периода за пределами окна допуска. Окно
// поглощает расхождение часов и короткие задержки провайдера.
func (s *subscriptionService) isStale(rec *domain.SubscriptionRecord) bool {
	if rec.Status != domain.SubscriptionStatusActive {
		return false
	}
	if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID == "" {
		return false
	}
	return time.Since(rec.CurrentPeriodEnd) > s.stalenessWindow
}

// refresh синхронно подтягивает авторитетное состояние от провайдера и
// перезаписывает запись. Возвращает nil при любом сбое: читатель вернет
// устаревшую запись как есть.
func (s *subscriptionService) refresh(ctx context.Context, rec *domain.SubscriptionRecord) *domain.SubscriptionRecord {
	if s.stripe == nil {
		return nil
	}
	subID := *rec.StripeSubscriptionID

	sub, err := s.stripe.GetSubscription(ctx, subID)
	if err != nil {
		s.metrics.IncSubscriptionSync("fetch_failed")
		s.log.Warnw("Stale subscription re-fetch failed, serving stale row", "error", err, "stripeSubscriptionID", subID)
		return nil
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		s.metrics.IncSubscriptionSync("no_price")
		s.log.Warnw("Re-fetched subscription has no price item", "stripeSubscriptionID", subID)
		return nil
	}
	p, err := s.prices.PlanForPrice(sub.Items.Data[0].Price.ID)
	if err != nil {
		s.metrics.IncSubscriptionSync("unknown_price")
		s.log.Warnw("Re-fetched subscription has unmapped price", "error", err, "stripeSubscriptionID", subID)
		return nil
	}

	status := statusFromStripe(sub.Status)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	if err := s.repo.ApplyBySubscriptionID(ctx, subID, p, status, periodEnd); err != nil {
		// Свежие данные уже на руках, отдадим их даже если запись не удалась
		s.log.Errorw("Failed to persist re-synced subscription", "error", err, "stripeSubscriptionID", subID)
	}

	s.metrics.IncSubscriptionSync("refreshed")
	s.log.Infow("Stale subscription re-synced", "userID", rec.UserID, "stripeSubscriptionID", subID, "plan", p, "status", status)

	refreshed := *rec
	refreshed.Plan = p
	refreshed.Status = status
	refreshed.CurrentPeriodEnd = periodEnd
	refreshed.UpdatedAt = time.Now()
	return &refreshed
}
