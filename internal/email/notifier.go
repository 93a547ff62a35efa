package email

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/landlordhub/billing-service/pkg/logger"
)

// Notifier отправляет транзакционные письма биллинга.
type Notifier interface {
	// SendSubscriptionActivated отправляет письмо о первой активации
	// платного плана.
	SendSubscriptionActivated(ctx context.Context, to, planName string) error
}

// postmarkNotifier реализует Notifier через Postmark.
type postmarkNotifier struct {
	client *postmark.Client
	from   string
	log    *logger.Logger
}

// NewPostmarkNotifier создает Postmark-нотификатор.
func NewPostmarkNotifier(serverToken, from string, log *logger.Logger) (Notifier, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("email: postmark server token is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email: sender address is required")
	}

	return &postmarkNotifier{
		client: postmark.NewClient(serverToken, ""),
		from:   from,
		log:    log,
	}, nil
}

// SendSubscriptionActivated отправляет письмо об активации подписки.
func (n *postmarkNotifier) SendSubscriptionActivated(ctx context.Context, to, planName string) error {
	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.from,
		To:       to,
		Subject:  fmt.Sprintf("Your %s plan is active", planName),
		TextBody: fmt.Sprintf("Thanks for subscribing! Your %s plan is now active and all its features are unlocked.", planName),
		Tag:      "subscription-activated",
	})
	if err != nil {
		n.log.Errorw("Failed to send subscription activation email", "error", err, "to", to)
		return fmt.Errorf("email: failed to send activation email: %w", err)
	}
	if resp.ErrorCode > 0 {
		n.log.Errorw("Postmark rejected activation email", "errorCode", resp.ErrorCode, "message", resp.Message, "to", to)
		return fmt.Errorf("email: postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}

	n.log.Infow("Subscription activation email sent", "to", to, "plan", planName)
	return nil
}

// NoopNotifier заглушка для окружений без почтового провайдера.
type NoopNotifier struct{}

func (NoopNotifier) SendSubscriptionActivated(_ context.Context, _, _ string) error { return nil }
