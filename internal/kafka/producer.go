package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/landlordhub/billing-service/pkg/logger"
)

// PlanEvent аналитическое событие об изменении плана пользователя
type PlanEvent struct {
	UserID               string    `json:"user_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	Plan                 string    `json:"plan"`
	Status               string    `json:"status"`
	Kind                 string    `json:"kind"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// Producer определяет интерфейс для публикации событий биллинга в Kafka.
type Producer interface {
	// PublishPlanEvent отправляет событие об изменении плана.
	// Ключом сообщения служит UserID: все события одного пользователя
	// попадают в одну партицию и сохраняют порядок.
	PublishPlanEvent(ctx context.Context, event *PlanEvent) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishPlanEvent преобразует событие в JSON и отправляет в топик биллинга.
func (k *kafkaProducer) PublishPlanEvent(ctx context.Context, event *PlanEvent) error {
	messageValue, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal plan event to JSON for Kafka", "error", err, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.UserID),
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "userID", event.UserID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published plan event to Kafka", "userID", event.UserID, "kind", event.Kind, "plan", event.Plan)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}

// NoopProducer заглушка для окружений без Kafka.
type NoopProducer struct{}

func (NoopProducer) PublishPlanEvent(_ context.Context, _ *PlanEvent) error { return nil }
func (NoopProducer) Close() error                                           { return nil }
