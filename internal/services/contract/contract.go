// Package contract реализует гейт договора: фиксирует юридически
// значимое подписание и выставляет предусловие contract_signed, которое
// машина состояний проверяет раньше любого статуса оплаты. Порядок
// намеренный: договор подписывается до активации подписки платежом.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradervault/billing-engine/internal/lib/sl"
	"github.com/tradervault/billing-engine/internal/models"
)

// Repository описывает операции хранилища для гейта договора.
type Repository interface {
	InsertContractSignature(ctx context.Context, cs models.ContractSignature) (int, error)
	SetContractSigned(ctx context.Context, userUID, planType string, signedAt time.Time) error
}

// Cache описывает инвалидацию кеша снимков права доступа.
type Cache interface {
	Invalidate(key string) error
}

// SignRequest — полный пакет подписания договора.
type SignRequest struct {
	UserUID         string
	PlanID          string
	FullName        string
	IDNumber        string
	Email           string
	ContractHTML    string
	SignatureImage  string
	AgreedTerms     bool
	AgreedPrivacy   bool
	IPAddress       string
	UserAgent       string
	ContractVersion string
}

// Service реализует гейт договора.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
	now   func() time.Time
}

// New создает новый Service.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
		now:   time.Now,
	}
}

// Sign записывает подписание договора и возвращает ID записи.
// Оба согласия обязательны; частичная запись подписи невозможна —
// без согласий не сохраняется ничего. Запись хранит полный снимок
// HTML договора, показанного пользователю, а не номер версии.
func (s *Service) Sign(ctx context.Context, req SignRequest) (int, error) {
	const op = "contract.Sign"
	log := s.log.With(slog.String("op", op), slog.String("user_uid", req.UserUID))

	if !req.AgreedTerms || !req.AgreedPrivacy {
		return 0, fmt.Errorf("%s: %w", op, models.ErrConsentRequired)
	}

	plan, ok := models.PlanByID(req.PlanID)
	if !ok {
		return 0, fmt.Errorf("%s: %w: %s", op, models.ErrUnknownPlan, req.PlanID)
	}

	signedAt := s.now()
	id, err := s.repo.InsertContractSignature(ctx, models.ContractSignature{
		UserUID:         req.UserUID,
		PlanID:          plan.ID,
		FullName:        req.FullName,
		IDNumber:        req.IDNumber,
		Email:           req.Email,
		ContractHTML:    req.ContractHTML,
		SignatureImage:  req.SignatureImage,
		AgreedTerms:     req.AgreedTerms,
		AgreedPrivacy:   req.AgreedPrivacy,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
		ContractVersion: req.ContractVersion,
		SignedAt:        signedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.repo.SetContractSigned(ctx, req.UserUID, plan.Type, signedAt); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Invalidate("entitlement:" + req.UserUID); err != nil {
		log.Warn("failed to invalidate entitlement cache", sl.Err(err))
	}

	log.Info("contract signed", slog.Int("signature_id", id))
	return id, nil
}
