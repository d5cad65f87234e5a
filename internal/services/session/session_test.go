package session

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

	"github.com/tradervault/billing-engine/internal/config"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindOutstandingSession(ctx context.Context, ownerKey, planID string, now time.Time) (*models.PaymentSession, bool, error) {
	args := m.Called(ctx, ownerKey, planID, now)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.PaymentSession), args.Bool(1), args.Error(2)
}

func (m *MockRepository) CreateSession(ctx context.Context, sess models.PaymentSession) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateLowProfile(ctx context.Context, req paymentprovider.CreateLowProfileRequest) (*paymentprovider.CreateLowProfileResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.CreateLowProfileResponse), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(repo *MockRepository, provider *MockProvider, now time.Time) *Service {
	cfg := config.PaymentProvider{
		SuccessURL: "https://app.test/success",
		FailureURL: "https://app.test/failure",
		WebhookURL: "https://billing.test/webhook",
	}
	svc := New(repo, provider, cfg, 30*time.Minute, newNoopLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func TestCreateSession_NewSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	provider := new(MockProvider)
	svc := newTestService(repo, provider, now)

	repo.On("FindOutstandingSession", mock.Anything, "user-1", "annual", now).
		Return(nil, false, nil).Once()
	provider.On("CreateLowProfile", mock.Anything, mock.MatchedBy(func(req paymentprovider.CreateLowProfileRequest) bool {
		return req.Operation == models.OperationChargeAndCreateToken &&
			req.Amount == 3371 &&
			req.WebHookURL == "https://billing.test/webhook"
	})).Return(&paymentprovider.CreateLowProfileResponse{
		ResponseCode: 0,
		LowProfileID: "lp-1",
		URL:          "https://provider.test/pay/lp-1",
	}, nil).Once()
	repo.On("CreateSession", mock.Anything, mock.MatchedBy(func(sess models.PaymentSession) bool {
		return sess.ProviderSessionID == "lp-1" &&
			sess.UserUID == "user-1" &&
			sess.PlanID == "annual" &&
			sess.Status == models.SessionStatusPending &&
			sess.ExpiresAt.Equal(now.Add(30*time.Minute))
	})).Return(nil).Once()

	handle, err := svc.CreateSession(context.Background(), Request{
		PlanID:   "annual",
		UserUID:  "user-1",
		Email:    "trader@example.com",
		FullName: "Trader One",
	})
	require.NoError(t, err)
	assert.Equal(t, "lp-1", handle.ProviderSessionID)
	assert.Equal(t, "https://provider.test/pay/lp-1", handle.URL)
	assert.False(t, handle.Reused)
	assert.NotEmpty(t, handle.SessionID)

	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestCreateSession_ReusesOutstandingSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	provider := new(MockProvider)
	svc := newTestService(repo, provider, now)

	existing := &models.PaymentSession{
		ID:                "sess-1",
		ProviderSessionID: "lp-1",
		UserUID:           "user-1",
		PlanID:            "annual",
		Status:            models.SessionStatusPending,
		PaymentURL:        "https://provider.test/pay/lp-1",
	}
	repo.On("FindOutstandingSession", mock.Anything, "user-1", "annual", now).
		Return(existing, true, nil).Once()

	handle, err := svc.CreateSession(context.Background(), Request{
		PlanID:  "annual",
		UserUID: "user-1",
	})
	require.NoError(t, err)
	assert.True(t, handle.Reused)
	assert.Equal(t, "sess-1", handle.SessionID)

	// Провайдер не вызывается при переиспользовании.
	provider.AssertNotCalled(t, "CreateLowProfile", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCreateSession_AnonymousGetsGeneratedKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	provider := new(MockProvider)
	svc := newTestService(repo, provider, now)

	repo.On("FindOutstandingSession", mock.Anything, mock.Anything, "vip", now).
		Return(nil, false, nil).Once()
	provider.On("CreateLowProfile", mock.Anything, mock.Anything).
		Return(&paymentprovider.CreateLowProfileResponse{
			ResponseCode: 0,
			LowProfileID: "lp-2",
			URL:          "https://provider.test/pay/lp-2",
		}, nil).Once()
	repo.On("CreateSession", mock.Anything, mock.MatchedBy(func(sess models.PaymentSession) bool {
		return sess.UserUID == "" && sess.AnonymousKey != ""
	})).Return(nil).Once()

	handle, err := svc.CreateSession(context.Background(), Request{PlanID: "vip"})
	require.NoError(t, err)
	assert.False(t, handle.Reused)

	repo.AssertExpectations(t)
}

func TestCreateSession_UnknownPlan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(new(MockRepository), new(MockProvider), now)

	_, err := svc.CreateSession(context.Background(), Request{PlanID: "gold"})
	assert.ErrorIs(t, err, models.ErrUnknownPlan)
}

func TestCreateSession_ProviderErrorPersistsNothing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	provider := new(MockProvider)
	svc := newTestService(repo, provider, now)

	repo.On("FindOutstandingSession", mock.Anything, "user-1", "annual", now).
		Return(nil, false, nil).Once()
	provider.On("CreateLowProfile", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	_, err := svc.CreateSession(context.Background(), Request{
		PlanID:  "annual",
		UserUID: "user-1",
	})
	assert.Error(t, err)

	repo.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCreateSession_ProviderDeclinedOpen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := new(MockRepository)
	provider := new(MockProvider)
	svc := newTestService(repo, provider, now)

	repo.On("FindOutstandingSession", mock.Anything, "user-1", "annual", now).
		Return(nil, false, nil).Once()
	provider.On("CreateLowProfile", mock.Anything, mock.Anything).
		Return(&paymentprovider.CreateLowProfileResponse{
			ResponseCode: 500,
			Description:  "terminal disabled",
		}, nil).Once()

	_, err := svc.CreateSession(context.Background(), Request{
		PlanID:  "annual",
		UserUID: "user-1",
	})
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)

	repo.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}
