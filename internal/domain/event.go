package domain

// EventKind закрытое перечисление обрабатываемых типов вебхук-событий.
// Новый тип события добавляется сюда и в switch процессора, а не в
// строковый диспатч.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
)

// ParseEventKind преобразует тип события Stripe в EventKind.
func ParseEventKind(eventType string) EventKind {
	switch eventType {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.payment_succeeded":
		return EventInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return EventInvoicePaymentFailed
	default:
		return EventUnknown
	}
}

// String возвращает каноническое имя типа события.
func (k EventKind) String() string {
	switch k {
	case EventSubscriptionCreated:
		return "customer.subscription.created"
	case EventSubscriptionUpdated:
		return "customer.subscription.updated"
	case EventSubscriptionDeleted:
		return "customer.subscription.deleted"
	case EventInvoicePaymentSucceeded:
		return "invoice.payment_succeeded"
	case EventInvoicePaymentFailed:
		return "invoice.payment_failed"
	default:
		return "unknown"
	}
}
