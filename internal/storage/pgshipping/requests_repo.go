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

// ErrInsufficientCapacity — на листинге не хватает остатка под вес заявки.
// Возвращается из атомарного декремента remaining_kg.
var ErrInsufficientCapacity = errors.New("insufficient remaining capacity")

const requestColumns = `
  id, listing_id, sender_id, traveler_id, weight_kg,
  description, instructions,
  total_price, platform_fee, payout_amount,
  status, confirmation_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ShipmentRequest, error) {
	var r models.ShipmentRequest
	var code *string
	if err := row.Scan(
		&r.ID, &r.ListingID, &r.SenderID, &r.TravelerID, &r.WeightKg,
		&r.Description, &r.Instructions,
		&r.TotalPrice, &r.PlatformFee, &r.PayoutAmount,
		&r.Status, &code, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ConfirmationCode = code
	return &r, nil
}

// CreateRequest фиксирует total_price в момент создания: дальнейшие изменения
// цены листинга на заявку не влияют.
func (s *Storage) CreateRequest(ctx context.Context, in models.RequestCreateInput, travelerID uuid.UUID, totalPrice decimal.Decimal) (*models.ShipmentRequest, error) {
	now := time.Now().UTC()
	id := uuid.New()

	_, err := s.db.Exec(ctx, `
INSERT INTO shipment_requests (
  id, listing_id, sender_id, traveler_id, weight_kg,
  description, instructions, total_price, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
`, id, in.ListingID, in.SenderID, travelerID, in.WeightKg,
		in.Description, in.Instructions, totalPrice, models.RequestStatusPending, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment request")
	}

	return s.GetRequestByID(ctx, id)
}

func (s *Storage) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ShipmentRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT`+requestColumns+` FROM shipment_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan shipment request")
	}
	return r, nil
}

// UpdateRequestStatus — compare-and-swap по статусу. false означает, что
// статус уже не from: либо гонка, либо устаревшее чтение у вызывающего.
func (s *Storage) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
UPDATE shipment_requests SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, id, from, to)
	if err != nil {
		return false, errors.Wrap(err, "cas request status")
	}
	return ct.RowsAffected() == 1, nil
}

// AcceptRequest в одной транзакции переводит pending->accepted и атомарно
// списывает remaining_kg листинга. Из двух конкурентных accept выигрывает
// ровно один; второй получает false по CAS.
func (s *Storage) AcceptRequest(ctx context.Context, id uuid.UUID, listingID uuid.UUID, weight decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
UPDATE shipment_requests SET status = $2, updated_at = now()
WHERE id = $1 AND status = $3
`, id, models.RequestStatusAccepted, models.RequestStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "cas accept")
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	ct, err = tx.Exec(ctx, `
UPDATE listings SET remaining_kg = remaining_kg - $2, updated_at = now()
WHERE id = $1 AND remaining_kg >= $2
`, listingID, weight)
	if err != nil {
		return false, errors.Wrap(err, "decrement listing capacity")
	}
	if ct.RowsAffected() != 1 {
		// Откатываем и CAS: ёмкость выбрали конкурирующие заявки.
		return false, ErrInsufficientCapacity
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// CancelRequest переводит from->cancelled; если restoreKg положителен,
// в той же транзакции возвращает ёмкость листингу.
func (s *Storage) CancelRequest(ctx context.Context, id uuid.UUID, listingID uuid.UUID, from string, restoreKg decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
UPDATE shipment_requests SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, id, from, models.RequestStatusCancelled)
	if err != nil {
		return false, errors.Wrap(err, "cas cancel")
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	if restoreKg.IsPositive() {
		_, err = tx.Exec(ctx, `
UPDATE listings SET remaining_kg = LEAST(available_kg, remaining_kg + $2), updated_at = now()
WHERE id = $1
`, listingID, restoreKg)
		if err != nil {
			return false, errors.Wrap(err, "restore listing capacity")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// MarkRequestPaid — единственное место, где появляется confirmation_code.
// Предикат confirmation_code IS NULL гарантирует, что код выдаётся ровно
// один раз и после этого неизменяем.
func (s *Storage) MarkRequestPaid(ctx context.Context, id uuid.UUID, code string, fee, payout decimal.Decimal) (bool, error) {
	ct, err := s.db.Exec(ctx, `
UPDATE shipment_requests
SET status = $2, confirmation_code = $3, platform_fee = $4, payout_amount = $5, updated_at = now()
WHERE id = $1 AND status = $6 AND confirmation_code IS NULL
`, id, models.RequestStatusPaid, code, fee, payout, models.RequestStatusAccepted)
	if err != nil {
		return false, errors.Wrap(err, "mark request paid")
	}
	return ct.RowsAffected() == 1, nil
}

// ClaimStalePendingRequests выбирает заявки, висящие в pending дольше
// порога, и в той же транзакции отменяет их. SELECT ... FOR UPDATE SKIP
// LOCKED, чтобы конкурирующие свиперы не отменяли одно и то же.
func (s *Storage) ClaimStalePendingRequests(ctx context.Context, olderThan time.Time, limit int) ([]*models.ShipmentRequest, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+requestColumns+`
FROM shipment_requests
WHERE status = $1
  AND created_at <= $2
ORDER BY created_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, models.RequestStatusPending, olderThan.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale pending")
	}

	var picked []*models.ShipmentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan stale pending")
		}
		picked = append(picked, r)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	for _, r := range picked {
		_, err := tx.Exec(ctx, `
UPDATE shipment_requests SET status = $2, updated_at = now() WHERE id = $1
`, r.ID, models.RequestStatusCancelled)
		if err != nil {
			return nil, errors.Wrap(err, "cancel stale pending")
		}
		r.Status = models.RequestStatusCancelled
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
