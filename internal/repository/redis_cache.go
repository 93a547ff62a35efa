package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/pkg/logger"
)

const (
	userSubscriptionsKeyPrefix = "user_subscriptions:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование подписок в Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheUserSubscriptions кеширует список записей пользователя
func (r *RedisCacheRepository) CacheUserSubscriptions(ctx context.Context, userID string, recs []domain.SubscriptionRecord) error {
	key := userSubscriptionsKeyPrefix + userID

	data, err := json.Marshal(recs)
	if err != nil {
		r.log.Errorw("Failed to marshal subscriptions for caching", "error", err, "userID", userID)
		return fmt.Errorf("failed to marshal subscriptions: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache subscriptions in Redis", "error", err, "userID", userID)
		return fmt.Errorf("failed to cache subscriptions: %w", err)
	}

	return nil
}

// GetCachedUserSubscriptions получает список записей пользователя из кеша.
// Возвращает nil без ошибки при промахе.
func (r *RedisCacheRepository) GetCachedUserSubscriptions(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	key := userSubscriptionsKeyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.log.Errorw("Error getting subscriptions from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get subscriptions from cache: %w", err)
	}

	var recs []domain.SubscriptionRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscriptions", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached subscriptions: %w", err)
	}

	return recs, nil
}

// InvalidateUserSubscriptions удаляет кеш записей пользователя
func (r *RedisCacheRepository) InvalidateUserSubscriptions(ctx context.Context, userID string) error {
	key := userSubscriptionsKeyPrefix + userID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate subscriptions cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate subscriptions cache: %w", err)
	}

	return nil
}
