package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/internal/models"
)

const escrowColumns = `
  id, request_id, provider_ref, amount, platform_fee, payout_amount,
  refunded_amount, status, created_at, updated_at`

func scanEscrow(row rowScanner) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	if err := row.Scan(
		&e.ID, &e.RequestID, &e.ProviderRef, &e.Amount, &e.PlatformFee, &e.PayoutAmount,
		&e.RefundedAmount, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) GetEscrowByRequest(ctx context.Context, requestID uuid.UUID) (*models.EscrowTransaction, error) {
	row := s.db.QueryRow(ctx, `SELECT`+escrowColumns+` FROM escrow_transactions WHERE request_id = $1`, requestID)
	e, err := scanEscrow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan escrow")
	}
	return e, nil
}

// CreateEscrow вставляет ровно одну эскроу-транзакцию на заявку.
// false — запись уже есть (конкурент успел первым), это не ошибка.
func (s *Storage) CreateEscrow(ctx context.Context, e *models.EscrowTransaction) (bool, error) {
	now := time.Now().UTC()
	ct, err := s.db.Exec(ctx, `
INSERT INTO escrow_transactions (
  id, request_id, provider_ref, amount, platform_fee, payout_amount,
  refunded_amount, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (request_id) DO NOTHING
`, e.ID, e.RequestID, e.ProviderRef, e.Amount, e.PlatformFee, e.PayoutAmount,
		e.RefundedAmount, e.Status, now)
	if err != nil {
		return false, errors.Wrap(err, "insert escrow")
	}
	return ct.RowsAffected() == 1, nil
}

// SettleEscrow — CAS по статусу эскроу-транзакции; повторное урегулирование
// уже урегулированной записи вернёт false, деньги не двигаются дважды.
func (s *Storage) SettleEscrow(ctx context.Context, requestID uuid.UUID, from, to string, refunded decimal.Decimal) (bool, error) {
	ct, err := s.db.Exec(ctx, `
UPDATE escrow_transactions
SET status = $3, refunded_amount = $4, updated_at = now()
WHERE request_id = $1 AND status = $2
`, requestID, from, to, refunded)
	if err != nil {
		return false, errors.Wrap(err, "settle escrow")
	}
	return ct.RowsAffected() == 1, nil
}
