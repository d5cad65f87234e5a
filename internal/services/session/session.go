// Package session реализует менеджер платёжных сессий: разрешает план,
// переиспользует незавершённую сессию того же владельца (защита от
// двойного клика), открывает low-profile сессию у провайдера и
// сохраняет запись. При ошибке провайдера не сохраняется ничего:
// частичных строк для несостоявшихся вызовов не бывает.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradervault/billing-engine/internal/config"
	"github.com/tradervault/billing-engine/internal/models"
	"github.com/tradervault/billing-engine/internal/paymentprovider"
)

// Repository описывает операции хранилища сессий.
type Repository interface {
	FindOutstandingSession(ctx context.Context, ownerKey, planID string, now time.Time) (*models.PaymentSession, bool, error)
	CreateSession(ctx context.Context, sess models.PaymentSession) error
}

// ProviderClient описывает вызов открытия сессии у провайдера.
type ProviderClient interface {
	CreateLowProfile(ctx context.Context, req paymentprovider.CreateLowProfileRequest) (*paymentprovider.CreateLowProfileResponse, error)
}

// Request — запрос на создание платёжной сессии. UserUID пуст для
// посетителей без учётной записи, тогда владельцем считается
// AnonymousKey (при его отсутствии генерируется новый).
type Request struct {
	PlanID       string
	UserUID      string
	AnonymousKey string
	Email        string
	FullName     string
}

// Handle — навигационная цель для клиента: внутренний id сессии и URL
// платёжной страницы провайдера.
type Handle struct {
	SessionID         string `json:"session_id"`
	ProviderSessionID string `json:"provider_session_id"`
	URL               string `json:"url"`
	Reused            bool   `json:"reused"`
}

// Service реализует менеджер платёжных сессий.
type Service struct {
	repo     Repository
	provider ProviderClient
	cfg      config.PaymentProvider
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New создает новый Service.
func New(repo Repository, provider ProviderClient, cfg config.PaymentProvider, ttl time.Duration, log *slog.Logger) *Service {
	if ttl == 0 {
		ttl = models.SessionTTL
	}
	return &Service{
		repo:     repo,
		provider: provider,
		cfg:      cfg,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
}

// CreateSession открывает платёжную попытку. Создание идемпотентно:
// незавершённая и непросроченная сессия того же владельца по тому же
// плану возвращается как есть, без нового обращения к провайдеру.
func (s *Service) CreateSession(ctx context.Context, req Request) (*Handle, error) {
	const op = "session.CreateSession"
	log := s.log.With(slog.String("op", op), slog.String("plan_id", req.PlanID))

	plan, ok := models.PlanByID(req.PlanID)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, models.ErrUnknownPlan, req.PlanID)
	}

	ownerKey := req.UserUID
	if ownerKey == "" {
		ownerKey = req.AnonymousKey
	}
	if ownerKey == "" {
		ownerKey = uuid.NewString()
		req.AnonymousKey = ownerKey
	}

	existing, found, err := s.repo.FindOutstandingSession(ctx, ownerKey, plan.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if found {
		log.Info("reusing outstanding session", slog.String("session_id", existing.ID))
		return &Handle{
			SessionID:         existing.ID,
			ProviderSessionID: existing.ProviderSessionID,
			URL:               existing.PaymentURL,
			Reused:            true,
		}, nil
	}

	now := s.now()
	sessionID := uuid.NewString()
	// ReturnValue — единственное, что гарантированно вернётся через
	// провайдера и позволит переузнать сессию, если low-profile id
	// потеряется.
	returnValue := fmt.Sprintf("%s:%s:%d", plan.ID, ownerKey, now.Unix())

	providerResp, err := s.provider.CreateLowProfile(ctx, paymentprovider.CreateLowProfileRequest{
		Operation:   plan.Operation,
		Amount:      plan.Price,
		ProductName: plan.Name,
		ReturnValue: returnValue,
		SuccessURL:  s.cfg.SuccessURL + "?session_id=" + sessionID,
		FailedURL:   s.cfg.FailureURL + "?session_id=" + sessionID,
		WebHookURL:  s.cfg.WebhookURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if providerResp.ResponseCode != paymentprovider.ResponseCodeOK {
		return nil, fmt.Errorf("%s: %w: %s (code %d)", op,
			models.ErrProviderUnavailable, providerResp.Description, providerResp.ResponseCode)
	}

	sess := models.PaymentSession{
		ID:                sessionID,
		ProviderSessionID: providerResp.LowProfileID,
		UserUID:           req.UserUID,
		AnonymousKey:      req.AnonymousKey,
		PlanID:            plan.ID,
		Amount:            plan.Price,
		Operation:         plan.Operation,
		Status:            models.SessionStatusPending,
		ReturnValue:       returnValue,
		Email:             req.Email,
		FullName:          req.FullName,
		PaymentURL:        providerResp.URL,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("created payment session",
		slog.String("session_id", sessionID),
		slog.String("low_profile_id", providerResp.LowProfileID))
	return &Handle{
		SessionID:         sessionID,
		ProviderSessionID: providerResp.LowProfileID,
		URL:               providerResp.URL,
	}, nil
}
