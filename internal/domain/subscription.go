package domain

import (
	"time"
)

// Plan канонический идентификатор тарифного плана
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter" // пользователю показывается как "Basic"
	PlanGrowth  Plan = "growth"
	PlanPro     Plan = "pro"
)

// Valid проверяет, что план известен системе
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanGrowth, PlanPro:
		return true
	}
	return false
}

// Paid проверяет, что план платный
func (p Plan) Paid() bool {
	return p.Valid() && p != PlanFree
}

// SubscriptionStatus статус подписки, зеркалирует статус провайдера
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// SubscriptionRecord локальная запись о подписке пользователя.
// Одна запись на пользователя; upsert по user_id.
type SubscriptionRecord struct {
	ID                   int64              `db:"id" json:"-"`
	UserID               string             `db:"user_id" json:"user_id"`
	StripeCustomerID     *string            `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string            `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	Plan                 Plan               `db:"plan" json:"plan"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodEnd     time.Time          `db:"current_period_end" json:"current_period_end"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// Provisional сообщает, что запись создана до подтверждения провайдером:
// вебхук еще не присвоил ей stripe_subscription_id.
func (r *SubscriptionRecord) Provisional() bool {
	return r.StripeSubscriptionID == nil || *r.StripeSubscriptionID == ""
}

// ActivePaid сообщает, что запись дает действующий платный доступ.
func (r *SubscriptionRecord) ActivePaid() bool {
	return r.Status == SubscriptionStatusActive && r.Plan.Paid()
}

// FreeDefault синтетическая запись для пользователя без подписки.
func FreeDefault(userID string) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID: userID,
		Plan:   PlanFree,
		Status: SubscriptionStatusActive,
	}
}
