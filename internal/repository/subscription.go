package repository

import (
	"context"
	"time"

	"github.com/landlordhub/billing-service/internal/domain"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
//
// Все мутации выражены как идемпотентные upsert-ы или точечные обновления
// по стабильным ключам (user_id или stripe_subscription_id): сериализацию
// конкурирующих вебхуков обеспечивает хранилище, а не приложение.
type SubscriptionRepository interface {
	// Upsert записывает полную запись подписки, ключ - user_id.
	Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error

	// SaveCustomerID сохраняет stripe_customer_id пользователя, создавая
	// запись с планом free, если ее еще нет.
	SaveCustomerID(ctx context.Context, userID, stripeCustomerID string) error

	// GetByUserID возвращает записи пользователя, новые первыми.
	GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error)

	// GetByStripeSubscriptionID возвращает запись по Stripe Subscription ID.
	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionRecord, error)

	// ApplyBySubscriptionID перезаписывает план/статус/конец периода записи
	// с данным stripe_subscription_id.
	ApplyBySubscriptionID(ctx context.Context, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error

	// ApplyByUserID перезаписывает план/статус/конец периода записи
	// пользователя и дозаполняет stripe_subscription_id (fallback-путь для
	// событий updated, пришедших раньше created).
	ApplyByUserID(ctx context.Context, userID, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error

	// SetStatusBySubscriptionID меняет только статус записи.
	SetStatusBySubscriptionID(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus) error
}
