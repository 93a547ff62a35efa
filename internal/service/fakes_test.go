package service

import (
	"context"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/landlordhub/billing-service/internal/domain"
	"github.com/landlordhub/billing-service/internal/kafka"
	"github.com/landlordhub/billing-service/internal/repository"
	stripeclient "github.com/landlordhub/billing-service/internal/stripe"
	"github.com/landlordhub/billing-service/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

// fakeSubscriptionRepo реализация репозитория в памяти: одна запись на
// пользователя, как и в Postgres-схеме.
type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.SubscriptionRecord

	failUpsert        error
	failSaveCustomer  error
	failGet           error
	failApplyBySubID  error
	failApplyByUserID error
	failSetStatus     error
}

func newFakeRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{rows: make(map[string]*domain.SubscriptionRecord)}
}

func (f *fakeSubscriptionRepo) Upsert(_ context.Context, rec *domain.SubscriptionRecord) error {
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *rec
	now := time.Now()
	if existing, ok := f.rows[rec.UserID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = int64(len(f.rows) + 1)
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	f.rows[rec.UserID] = &cp
	return nil
}

func (f *fakeSubscriptionRepo) SaveCustomerID(_ context.Context, userID, stripeCustomerID string) error {
	if f.failSaveCustomer != nil {
		return f.failSaveCustomer
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.rows[userID]
	if !ok {
		rec = &domain.SubscriptionRecord{
			ID:        int64(len(f.rows) + 1),
			UserID:    userID,
			Plan:      domain.PlanFree,
			Status:    domain.SubscriptionStatusActive,
			CreatedAt: time.Now(),
		}
		f.rows[userID] = rec
	}
	rec.StripeCustomerID = &stripeCustomerID
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeSubscriptionRepo) GetByUserID(_ context.Context, userID string) ([]domain.SubscriptionRecord, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if rec, ok := f.rows[userID]; ok {
		return []domain.SubscriptionRecord{*rec}, nil
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) GetByStripeSubscriptionID(_ context.Context, stripeSubscriptionID string) (*domain.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range f.rows {
		if rec.StripeSubscriptionID != nil && *rec.StripeSubscriptionID == stripeSubscriptionID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSubscriptionRepo) ApplyBySubscriptionID(_ context.Context, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	if f.failApplyBySubID != nil {
		return f.failApplyBySubID
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range f.rows {
		if rec.StripeSubscriptionID != nil && *rec.StripeSubscriptionID == stripeSubscriptionID {
			rec.Plan = p
			rec.Status = status
			rec.CurrentPeriodEnd = periodEnd
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeSubscriptionRepo) ApplyByUserID(_ context.Context, userID, stripeSubscriptionID string, p domain.Plan, status domain.SubscriptionStatus, periodEnd time.Time) error {
	if f.failApplyByUserID != nil {
		return f.failApplyByUserID
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.rows[userID]
	if !ok {
		rec = &domain.SubscriptionRecord{
			ID:        int64(len(f.rows) + 1),
			UserID:    userID,
			CreatedAt: time.Now(),
		}
		f.rows[userID] = rec
	}
	subID := stripeSubscriptionID
	rec.StripeSubscriptionID = &subID
	rec.Plan = p
	rec.Status = status
	rec.CurrentPeriodEnd = periodEnd
	rec.UpdatedAt = time.Now()
	return nil
}

func (f *fakeSubscriptionRepo) SetStatusBySubscriptionID(_ context.Context, stripeSubscriptionID string, status domain.SubscriptionStatus) error {
	if f.failSetStatus != nil {
		return f.failSetStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range f.rows {
		if rec.StripeSubscriptionID != nil && *rec.StripeSubscriptionID == stripeSubscriptionID {
			rec.Status = status
			rec.UpdatedAt = time.Now()
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeSubscriptionRepo) row(userID string) *domain.SubscriptionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.rows[userID]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (f *fakeSubscriptionRepo) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSubscriptionRepo) seed(rec domain.SubscriptionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.rows[rec.UserID] = &cp
}

// fakeStripeClient реализация stripe.Client с настраиваемыми функциями.
type fakeStripeClient struct {
	mu sync.Mutex

	createCustomerFn        func(ctx context.Context, userID, email string) (string, error)
	getCustomerFn           func(ctx context.Context, stripeCustomerID string) (*stripe.Customer, error)
	getOrCreateCustomerFn   func(ctx context.Context, userID, email string) (string, error)
	createCheckoutSessionFn func(ctx context.Context, p stripeclient.CheckoutParams) (string, error)
	getSubscriptionFn       func(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error)
	createPortalSessionFn   func(ctx context.Context, stripeCustomerID, returnURL string) (string, error)

	checkoutCalls     []stripeclient.CheckoutParams
	getOrCreateCalls  int
	subscriptionCalls int
}

func (f *fakeStripeClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	if f.createCustomerFn != nil {
		return f.createCustomerFn(ctx, userID, email)
	}
	return "cus_fake", nil
}

func (f *fakeStripeClient) GetCustomer(ctx context.Context, stripeCustomerID string) (*stripe.Customer, error) {
	if f.getCustomerFn != nil {
		return f.getCustomerFn(ctx, stripeCustomerID)
	}
	return &stripe.Customer{ID: stripeCustomerID}, nil
}

func (f *fakeStripeClient) GetOrCreateCustomer(ctx context.Context, userID, email string) (string, error) {
	f.mu.Lock()
	f.getOrCreateCalls++
	f.mu.Unlock()
	if f.getOrCreateCustomerFn != nil {
		return f.getOrCreateCustomerFn(ctx, userID, email)
	}
	return "cus_fake", nil
}

func (f *fakeStripeClient) CreateCheckoutSession(ctx context.Context, p stripeclient.CheckoutParams) (string, error) {
	f.mu.Lock()
	f.checkoutCalls = append(f.checkoutCalls, p)
	f.mu.Unlock()
	if f.createCheckoutSessionFn != nil {
		return f.createCheckoutSessionFn(ctx, p)
	}
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeStripeClient) GetSubscription(ctx context.Context, stripeSubscriptionID string) (*stripe.Subscription, error) {
	f.mu.Lock()
	f.subscriptionCalls++
	f.mu.Unlock()
	if f.getSubscriptionFn != nil {
		return f.getSubscriptionFn(ctx, stripeSubscriptionID)
	}
	return nil, &stripe.Error{Msg: "not stubbed"}
}

func (f *fakeStripeClient) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	if f.createPortalSessionFn != nil {
		return f.createPortalSessionFn(ctx, stripeCustomerID, returnURL)
	}
	return "https://billing.stripe.test/portal", nil
}

func (f *fakeStripeClient) VerifyWebhook(_ []byte, _ string) (stripe.Event, error) {
	return stripe.Event{}, nil
}

// fakeProducer собирает опубликованные события; публикация асинхронна,
// поэтому доступ только под мьютексом.
type fakeProducer struct {
	mu     sync.Mutex
	events []kafka.PlanEvent
}

func (f *fakeProducer) PublishPlanEvent(_ context.Context, event *kafka.PlanEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// fakeNotifier собирает отправленные письма.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) SendSubscriptionActivated(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func strPtr(s string) *string { return &s }
