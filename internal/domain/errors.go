package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownPlan запрошен неизвестный план
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrPriceNotConfigured для плана не настроен price id провайдера
	ErrPriceNotConfigured = errors.New("price is not configured for plan")

	// ErrProviderUnconfigured клиент платежного провайдера не настроен
	ErrProviderUnconfigured = errors.New("payment provider is not configured")

	// ErrWebhookSignature не удалось проверить подпись вебхука
	ErrWebhookSignature = errors.New("webhook signature verification failed")

	// ErrOrphanedCustomer у клиента провайдера отсутствует user_id в метаданных
	ErrOrphanedCustomer = errors.New("provider customer has no user_id metadata")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
)

// SubscriptionError представляет ошибку обработки подписки
type SubscriptionError struct {
	Code           string
	Message        string
	SubscriptionID string
	OriginalErr    error
}

// Error реализует интерфейс error
func (e *SubscriptionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("subscription error [%s]: %s: %v (subscription_id: %s)", e.Code, e.Message, e.OriginalErr, e.SubscriptionID)
	}
	return fmt.Sprintf("subscription error [%s]: %s (subscription_id: %s)", e.Code, e.Message, e.SubscriptionID)
}

// Unwrap возвращает оригинальную ошибку
func (e *SubscriptionError) Unwrap() error {
	return e.OriginalErr
}

// NewSubscriptionError создает новую ошибку подписки
func NewSubscriptionError(code, message, subscriptionID string, err error) *SubscriptionError {
	return &SubscriptionError{
		Code:           code,
		Message:        message,
		SubscriptionID: subscriptionID,
		OriginalErr:    err,
	}
}
