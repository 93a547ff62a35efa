package repository

import (
	"context"
	"errors"
	"time"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием.
//
// Кеш используется только на чтении по пользователю; каждая авторитетная
// запись (вебхук, sync, fallback) инвалидирует кеш, чтобы кеш никогда не
// маскировал истину из вебхука.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// Upsert записывает подписку в БД и инвалидирует кеш пользователя
func (r *CachedSubscriptionRepository) Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error {
	if err := r.repo.Upsert(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.UserID)
	return nil
}

// SaveCustomerID сохраняет customer id и инвалидирует кеш пользователя
func (r *CachedSubscriptionRepository) SaveCustomerID(ctx context.Context, userID, stripeCustomerID string) error {
	if err := r.repo.SaveCustomerID(ctx, userID, stripeCustomerID); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// GetByUserID возвращает записи пользователя (сначала из кеша, потом из БД)
func (r *CachedSubscriptionRepository) GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	cached, err := r.cache.GetCachedUserSubscriptions(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting subscriptions from cache", "error", err, "userID", userID)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		return cached, nil
	}

	recs, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(recs) > 0 {
		if err := r.cache.CacheUserSubscriptions(ctx, userID, recs); err != nil {
			r.log.Warnw("Failed to cache subscriptions after fetching", "error", err, "userID", userID)
		}
	}

	return recs, nil
}

// GetByStripeSubscriptionID идет напрямую в БД: этот путь используется
// вебхуками, которым нужна истина, а не кеш.
func (r *CachedSubscriptionRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionRecord, error) {
	return r.repo.GetByStripeSubscriptionID(ctx, stripeSubscriptionID)
}

// ApplyBySubscriptionID обновляет запись и инвалидирует кеш ее владельца
func (r *CachedSubscriptionRepository) ApplyBySubscriptionID(ctx context.Context, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	if err := r.repo.ApplyBySubscriptionID(ctx, stripeSubscriptionID, p, status, periodEnd); err != nil {
		return err
	}
	r.invalidateBySubscriptionID(ctx, stripeSubscriptionID)
	return nil
}

// ApplyByUserID обновляет запись пользователя и инвалидирует его кеш
func (r *CachedSubscriptionRepository) ApplyByUserID(ctx context.Context, userID, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	if err := r.repo.ApplyByUserID(ctx, userID, stripeSubscriptionID, p, status, periodEnd); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

// SetStatusBySubscriptionID меняет статус и инвалидирует кеш владельца
func (r *CachedSubscriptionRepository) SetStatusBySubscriptionID(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus) error {
	if err := r.repo.SetStatusBySubscriptionID(ctx, stripeSubscriptionID, status); err != nil {
		return err
	}
	r.invalidateBySubscriptionID(ctx, stripeSubscriptionID)
	return nil
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, userID string) {
	if err := r.cache.InvalidateUserSubscriptions(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate subscriptions cache", "error", err, "userID", userID)
	}
}

func (r *CachedSubscriptionRepository) invalidateBySubscriptionID(ctx context.Context, stripeSubscriptionID string) {
	rec, err := r.repo.GetByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warnw("Failed to resolve subscription owner for cache invalidation", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		}
		return
	}
	r.invalidate(ctx, rec.UserID)
}
