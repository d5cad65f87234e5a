package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ResolveSession(ctx context.Context, id, status, transactionID string, payload []byte, resolvedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, status, transactionID, payload, resolvedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) InsertPaymentRecord(ctx context.Context, rec models.PaymentRecord) (int, bool, error) {
	args := m.Called(ctx, rec)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetSubscription(ctx context.Context, userUID string) (*models.Subscription, bool, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Subscription), args.Bool(1), args.Error(2)
}

func (m *MockRepository) UpsertPaymentMethod(ctx context.Context, userUID, planType, token, lastFour, expiry string, trialEndsAt time.Time) error {
	args := m.Called(ctx, userUID, planType, token, lastFour, expiry, trialEndsAt)
	return args.Error(0)
}

func (m *MockRepository) ActivateSubscription(ctx context.Context, userUID, planType string, periodEndsAt, nextChargeDate *time.Time) error {
	args := m.Called(ctx, userUID, planType, periodEndsAt, nextChargeDate)
	return args.Error(0)
}

func (m *MockRepository) RecordPaymentFailure(ctx context.Context, userUID, reason string, failedAt time.Time) (bool, error) {
	args := m.Called(ctx, userUID, reason, failedAt)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Invalidate(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(repo *MockRepository, notifier *MockNotifier, cache *MockCache, now time.Time) *Service {
	svc := New(repo, notifier, cache, newNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func annualSession() *models.PaymentSession {
	return &models.PaymentSession{
		ID:                "sess-1",
		ProviderSessionID: "lp-1",
		UserUID:           "user-1",
		PlanID:            "annual",
		Amount:            3371,
		Operation:         models.OperationChargeAndCreateToken,
		Status:            models.SessionStatusPending,
		ReturnValue:       "annual:user-1:1700000000",
	}
}

func successResult() *paymentprovider.LowProfileResult {
	return &paymentprovider.LowProfileResult{
		ResponseCode: 0,
		LowProfileID: "lp-1",
		ReturnValue:  "annual:user-1:1700000000",
		TokenInfo: &paymentprovider.TokenInfo{
			Token:        "tok-1",
			CardLastFour: "4242",
			TokenExpiry:  "1226",
		},
		TranzactionInfo: &paymentprovider.TranzactionInfo{
			TranzactionID: 555001,
			Amount:        3371,
			CardLastFour:  "4242",
		},
	}
}

func TestReconcile_ChargeAndTokenSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	notifier := new(MockNotifier)
	cache := new(MockCache)
	svc := newTestService(repo, notifier, cache, now)

	sess := annualSession()
	result := successResult()

	periodEnd := now.AddDate(0, 12, 0)

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusCompleted,
		"555001", mock.Anything, now).Return(true, nil).Once()
	repo.On("UpsertPaymentMethod", mock.Anything, "user-1", models.PlanTypeAnnual,
		"tok-1", "4242", "1226", mock.Anything).Return(nil).Once()
	repo.On("InsertPaymentRecord", mock.Anything, mock.MatchedBy(func(rec models.PaymentRecord) bool {
		return rec.SessionID == "sess-1" &&
			rec.TransactionID == "555001" &&
			rec.Status == models.PaymentStatusCompleted &&
			rec.Amount == 3371
	})).Return(1, true, nil).Once()
	repo.On("ActivateSubscription", mock.Anything, "user-1", models.PlanTypeAnnual,
		&periodEnd, &periodEnd).Return(nil).Once()
	cache.On("Invalidate", "entitlement:user-1").Return(nil).Once()
	notifier.On("Publish", "payment.succeeded", mock.Anything).Return(nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, result)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "555001", out.TransactionID)

	repo.AssertExpectations(t)
	notifier.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestReconcile_TokenOnlySuccessKeepsTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	notifier := new(MockNotifier)
	cache := new(MockCache)
	svc := newTestService(repo, notifier, cache, now)

	sess := annualSession()
	sess.PlanID = "monthly"
	sess.Amount = 0
	sess.Operation = models.OperationCreateTokenOnly

	result := successResult()
	result.TranzactionInfo = nil

	trialEndsAt := now.AddDate(0, 0, 14)

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusCompleted,
		"", mock.Anything, now).Return(true, nil).Once()
	repo.On("UpsertPaymentMethod", mock.Anything, "user-1", models.PlanTypeMonthly,
		"tok-1", "4242", "1226", trialEndsAt).Return(nil).Once()
	cache.On("Invalidate", "entitlement:user-1").Return(nil).Once()
	notifier.On("Publish", "payment.succeeded", mock.Anything).Return(nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, result)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)

	// Токенизация не трогает журнал платежей и не активирует подписку.
	repo.AssertNotCalled(t, "InsertPaymentRecord", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReconcile_TokenMissingIsFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	notifier := new(MockNotifier)
	cache := new(MockCache)
	svc := newTestService(repo, notifier, cache, now)

	sess := annualSession()
	sess.PlanID = "monthly"
	sess.Operation = models.OperationCreateTokenOnly

	result := successResult()
	result.TokenInfo = nil
	result.TranzactionInfo = nil

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusFailed,
		"", mock.Anything, now).Return(true, nil).Once()
	repo.On("InsertPaymentRecord", mock.Anything, mock.MatchedBy(func(rec models.PaymentRecord) bool {
		return rec.Status == models.PaymentStatusFailed && rec.Reason == "token missing"
	})).Return(2, true, nil).Once()
	repo.On("GetSubscription", mock.Anything, "user-1").Return(nil, false, nil).Once()
	cache.On("Invalidate", "entitlement:user-1").Return(nil).Once()
	notifier.On("Publish", "payment.failed", mock.Anything).Return(nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, result)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, out.Status)
	assert.Equal(t, "token missing", out.Reason)

	repo.AssertExpectations(t)
}

func TestReconcile_DeclinedChargeMarksFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	notifier := new(MockNotifier)
	cache := new(MockCache)
	svc := newTestService(repo, notifier, cache, now)

	sess := annualSession()
	result := &paymentprovider.LowProfileResult{
		ResponseCode: 51,
		Description:  "Insufficient funds",
		LowProfileID: "lp-1",
		ReturnValue:  sess.ReturnValue,
	}

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusFailed,
		"", mock.Anything, now).Return(true, nil).Once()
	repo.On("InsertPaymentRecord", mock.Anything, mock.MatchedBy(func(rec models.PaymentRecord) bool {
		return rec.Status == models.PaymentStatusFailed
	})).Return(3, true, nil).Once()
	repo.On("GetSubscription", mock.Anything, "user-1").
		Return(&models.Subscription{UserUID: "user-1", Status: models.SubscriptionStatusActive}, true, nil).Once()
	repo.On("RecordPaymentFailure", mock.Anything, "user-1", mock.Anything, now).Return(true, nil).Once()
	cache.On("Invalidate", "entitlement:user-1").Return(nil).Once()
	notifier.On("Publish", "payment.failed", mock.Anything).Return(nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, result)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, out.Status)
	assert.Contains(t, out.Reason, "insufficient funds")

	repo.AssertExpectations(t)
}

func TestReconcile_AlreadyResolvedReturnsPriorResult(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockNotifier), new(MockCache), now)

	sess := annualSession()
	sess.Status = models.SessionStatusCompleted
	sess.TransactionID = "555001"

	out, err := svc.Reconcile(context.Background(), sess, successResult())
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, models.PaymentStatusCompleted, out.Status)
	assert.Equal(t, "555001", out.TransactionID)

	repo.AssertNotCalled(t, "ResolveSession", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_ConcurrentDeliveryLosesRace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockNotifier), new(MockCache), now)

	sess := annualSession()

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusCompleted,
		"555001", mock.Anything, now).Return(false, nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, successResult())
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	repo.AssertNotCalled(t, "InsertPaymentRecord", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReconcile_DuplicateLedgerRowSkipsActivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	notifier := new(MockNotifier)
	cache := new(MockCache)
	svc := newTestService(repo, notifier, cache, now)

	sess := annualSession()

	repo.On("ResolveSession", mock.Anything, "sess-1", models.SessionStatusCompleted,
		"555001", mock.Anything, now).Return(true, nil).Once()
	repo.On("UpsertPaymentMethod", mock.Anything, "user-1", models.PlanTypeAnnual,
		"tok-1", "4242", "1226", mock.Anything).Return(nil).Once()
	repo.On("InsertPaymentRecord", mock.Anything, mock.Anything).Return(0, false, nil).Once()
	cache.On("Invalidate", "entitlement:user-1").Return(nil).Once()
	notifier.On("Publish", "payment.succeeded", mock.Anything).Return(nil).Once()

	out, err := svc.Reconcile(context.Background(), sess, successResult())
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	repo.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReconcile_UnknownPlan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(new(MockRepository), new(MockNotifier), new(MockCache), now)

	sess := annualSession()
	sess.PlanID = "no-such-plan"

	_, err := svc.Reconcile(context.Background(), sess, successResult())
	assert.ErrorIs(t, err, models.ErrUnknownPlan)
}

func TestReconcile_ResolveError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockNotifier), new(MockCache), now)

	repo.On("ResolveSession", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("db error")).Once()

	_, err := svc.Reconcile(context.Background(), annualSession(), successResult())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestDeclineReason(t *testing.T) {
	assert.Equal(t, "insufficient funds", DeclineReason(51, ""))
	assert.Contains(t, DeclineReason(999, "weird code"), "weird code")
}
