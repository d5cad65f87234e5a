package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tradervault/billing-engine/internal/models"
)

// InsertContractSignature добавляет неизменяемую запись о подписании
// договора и возвращает её ID.
func (s *Storage) InsertContractSignature(ctx context.Context, cs models.ContractSignature) (int, error) {
	const op = "storage.InsertContractSignature"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO contract_signatures (user_uid, plan_id, full_name, id_number,
		      email, contract_html, signature_image, agreed_terms, agreed_privacy,
		      ip_address, user_agent, contract_version, signed_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			  RETURNING id`
	var newID int
	err := s.DB.QueryRowContext(ctx, query,
		cs.UserUID, cs.PlanID, cs.FullName, cs.IDNumber, cs.Email, cs.ContractHTML,
		cs.SignatureImage, cs.AgreedTerms, cs.AgreedPrivacy, cs.IPAddress,
		cs.UserAgent, cs.ContractVersion, cs.SignedAt).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindUserUIDByEmail сопоставляет email пользователю по последней
// записи о подписании договора. Используется сервисом восстановления,
// когда корреляционный токен webhook не привёл к пользователю.
func (s *Storage) FindUserUIDByEmail(ctx context.Context, email string) (string, bool, error) {
	const op = "storage.FindUserUIDByEmail"
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_uid FROM contract_signatures
			  WHERE email = $1
			  ORDER BY signed_at DESC
			  LIMIT 1`
	var userUID string
	if err := s.DB.QueryRowContext(ctx, query, email).Scan(&userUID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return userUID, true, nil
}
