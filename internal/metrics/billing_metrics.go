package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/landlordhub/billing-service/pkg/logger"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncCheckoutInitiated(plan string)
	IncCheckoutRefused()
	IncWebhookEvent(kind string, outcome string)
	IncSubscriptionSync(outcome string)
	ObserveWebhookDuration(kind string, seconds float64)
}

type billingMetrics struct {
	log               *logger.Logger
	checkoutInitiated *prometheus.CounterVec
	checkoutRefused   prometheus.Counter
	webhookEvents     *prometheus.CounterVec
	subscriptionSyncs *prometheus.CounterVec
	webhookDuration   *prometheus.HistogramVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	checkoutInitiated := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_checkout_initiated_total",
			Help: "The total number of initiated checkout sessions",
		},
		[]string{"plan"},
	)

	checkoutRefused := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "billing_checkout_refused_total",
			Help: "The total number of checkout attempts refused because a paid subscription already exists",
		},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "The total number of processed webhook events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	subscriptionSyncs := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_syncs_total",
			Help: "The total number of staleness-triggered subscription re-syncs",
		},
		[]string{"outcome"},
	)

	webhookDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Webhook event processing duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	return &billingMetrics{
		log:               log,
		checkoutInitiated: checkoutInitiated,
		checkoutRefused:   checkoutRefused,
		webhookEvents:     webhookEvents,
		subscriptionSyncs: subscriptionSyncs,
		webhookDuration:   webhookDuration,
	}
}

// IncCheckoutInitiated увеличивает счетчик начатых checkout-сессий
func (m *billingMetrics) IncCheckoutInitiated(plan string) {
	m.checkoutInitiated.WithLabelValues(plan).Inc()
}

// IncCheckoutRefused увеличивает счетчик отклоненных checkout-попыток
func (m *billingMetrics) IncCheckoutRefused() {
	m.checkoutRefused.Inc()
}

// IncWebhookEvent увеличивает счетчик обработанных вебхуков
func (m *billingMetrics) IncWebhookEvent(kind string, outcome string) {
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// IncSubscriptionSync увеличивает счетчик пересинхронизаций
func (m *billingMetrics) IncSubscriptionSync(outcome string) {
	m.subscriptionSyncs.WithLabelValues(outcome).Inc()
}

// ObserveWebhookDuration записывает длительность обработки вебхука
func (m *billingMetrics) ObserveWebhookDuration(kind string, seconds float64) {
	m.webhookDuration.WithLabelValues(kind).Observe(seconds)
}

// nopMetrics используется в тестах и когда метрики отключены.
type nopMetrics struct{}

// NewNopMetrics возвращает метрики-заглушку.
func NewNopMetrics() BillingMetrics { return nopMetrics{} }

func (nopMetrics) IncCheckoutInitiated(string)            {}
func (nopMetrics) IncCheckoutRefused()                    {}
func (nopMetrics) IncWebhookEvent(string, string)         {}
func (nopMetrics) IncSubscriptionSync(string)             {}
func (nopMetrics) ObserveWebhookDuration(string, float64) {}
