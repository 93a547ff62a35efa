package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/pkg/logger"
)

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id,
       plan, status, current_period_end, created_at, updated_at`

// Upsert записывает полную запись подписки, ключ - user_id.
func (r *postgresSubscriptionRepo) Upsert(ctx context.Context, rec *domain.SubscriptionRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (
            user_id, stripe_customer_id, stripe_subscription_id,
            plan, status, current_period_end, created_at, updated_at
        ) VALUES (
            :user_id, :stripe_customer_id, :stripe_subscription_id,
            :plan, :status, :current_period_end, :created_at, :updated_at
        )
        ON CONFLICT (user_id) DO UPDATE SET
            stripe_customer_id     = EXCLUDED.stripe_customer_id,
            stripe_subscription_id = EXCLUDED.stripe_subscription_id,
            plan                   = EXCLUDED.plan,
            status                 = EXCLUDED.status,
            current_period_end     = EXCLUDED.current_period_end,
            updated_at             = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		r.log.Errorw("Failed to upsert subscription in DB", "error", err, "userID", rec.UserID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}

	r.log.Debugw("Upserted subscription in DB", "userID", rec.UserID, "plan", rec.Plan, "status", rec.Status)
	return nil
}

// SaveCustomerID сохраняет stripe_customer_id, создавая запись при необходимости.
func (r *postgresSubscriptionRepo) SaveCustomerID(ctx context.Context, userID, stripeCustomerID string) error {
	now := time.Now()

	query := `
        INSERT INTO subscriptions (
            user_id, stripe_customer_id, plan, status, current_period_end, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $5, $5)
        ON CONFLICT (user_id) DO UPDATE SET
            stripe_customer_id = EXCLUDED.stripe_customer_id,
            updated_at         = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, stripeCustomerID, domain.PlanFree, domain.SubscriptionStatusActive, now)
	if err != nil {
		r.log.Errorw("Failed to save customer ID in DB", "error", err, "userID", userID, "stripeCustomerID", stripeCustomerID)
		return fmt.Errorf("repository: failed to save customer id: %w", err)
	}

	r.log.Debugw("Saved Stripe customer ID", "userID", userID, "stripeCustomerID", stripeCustomerID)
	return nil
}

// GetByUserID возвращает записи пользователя, новые первыми.
func (r *postgresSubscriptionRepo) GetByUserID(ctx context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	var recs []domain.SubscriptionRecord
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY updated_at DESC`

	if err := r.db.SelectContext(ctx, &recs, query, userID); err != nil {
		r.log.Errorw("Failed to get subscriptions by user ID from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get subscriptions by user id: %w", err)
	}

	return recs, nil
}

// GetByStripeSubscriptionID возвращает запись по ее Stripe Subscription ID.
func (r *postgresSubscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionRecord, error) {
	var rec domain.SubscriptionRecord
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE stripe_subscription_id = $1`

	err := r.db.GetContext(ctx, &rec, query, stripeSubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by Stripe ID from DB", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return nil, fmt.Errorf("repository: failed to get subscription by stripe id: %w", err)
	}

	return &rec, nil
}

// ApplyBySubscriptionID перезаписывает план/статус/конец периода по Stripe ID.
func (r *postgresSubscriptionRepo) ApplyBySubscriptionID(ctx context.Context, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	query := `
        UPDATE subscriptions SET
            plan               = $1,
            status             = $2,
            current_period_end = $3,
            updated_at         = $4
        WHERE stripe_subscription_id = $5`

	result, err := r.db.ExecContext(ctx, query, p, status, periodEnd, time.Now(), stripeSubscriptionID)
	if err != nil {
		r.log.Errorw("Failed to apply subscription state by Stripe ID", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return fmt.Errorf("repository: failed to apply subscription state: %w", err)
	}

	return r.checkAffected(result, stripeSubscriptionID)
}

// ApplyByUserID перезаписывает состояние записи пользователя и дозаполняет
// stripe_subscription_id.
func (r *postgresSubscriptionRepo) ApplyByUserID(ctx context.Context, userID, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	now := time.Now()

	query := `
        INSERT INTO subscriptions (
            user_id, stripe_subscription_id, plan, status, current_period_end, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $6)
        ON CONFLICT (user_id) DO UPDATE SET
            stripe_subscription_id = EXCLUDED.stripe_subscription_id,
            plan                   = EXCLUDED.plan,
            status                 = EXCLUDED.status,
            current_period_end     = EXCLUDED.current_period_end,
            updated_at             = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, stripeSubscriptionID, p, status, periodEnd, now)
	if err != nil {
		r.log.Errorw("Failed to apply subscription state by user ID", "error", err, "userID", userID, "stripeSubscriptionID", stripeSubscriptionID)
		return fmt.Errorf("repository: failed to apply subscription state by user id: %w", err)
	}

	return nil
}

// SetStatusBySubscriptionID меняет только статус записи.
func (r *postgresSubscriptionRepo) SetStatusBySubscriptionID(ctx context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus) error {
	query := `
        UPDATE subscriptions SET
            status     = $1,
            updated_at = $2
        WHERE stripe_subscription_id = $3`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), stripeSubscriptionID)
	if err != nil {
		r.log.Errorw("Failed to set subscription status", "error", err, "stripeSubscriptionID", stripeSubscriptionID, "status", status)
		return fmt.Errorf("repository: failed to set subscription status: %w", err)
	}

	return r.checkAffected(result, stripeSubscriptionID)
}

func (r *postgresSubscriptionRepo) checkAffected(result sql.Result, stripeSubscriptionID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after update", "error", err, "stripeSubscriptionID", stripeSubscriptionID)
		return nil
	}
	if rowsAffected == 0 {
		r.log.Warnw("Subscription update affected 0 rows", "stripeSubscriptionID", stripeSubscriptionID)
		return ErrNotFound
	}
	return nil
}
