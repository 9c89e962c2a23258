package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/KiloMates/ShipBox/internal/models"
)

const disputeColumns = `
  id, request_id, raised_by, reason, resolution, resolved_by, resolved_at, created_at`

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	if err := row.Scan(
		&d.ID, &d.RequestID, &d.RaisedBy, &d.Reason,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Storage) GetDisputeByRequest(ctx context.Context, requestID uuid.UUID) (*models.Dispute, error) {
	row := s.db.QueryRow(ctx, `SELECT`+disputeColumns+` FROM disputes WHERE request_id = $1`, requestID)
	d, err := scanDispute(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan dispute")
	}
	return d, nil
}

// OpenDispute в одной транзакции создаёт спор (не более одного на заявку)
// и CAS-ом замораживает заявку: from->disputed. Возвращает (created,
// frozen): (false, _) — спор уже был, (true, false) — статус ушёл из-под
// ног, транзакция откатывается целиком.
func (s *Storage) OpenDispute(ctx context.Context, requestID, raisedBy uuid.UUID, reason, from string) (bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
INSERT INTO disputes (id, request_id, raised_by, reason, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (request_id) DO NOTHING
`, uuid.New(), requestID, raisedBy, reason, now)
	if err != nil {
		return false, false, errors.Wrap(err, "insert dispute")
	}
	if ct.RowsAffected() != 1 {
		return false, false, nil
	}

	ct, err = tx.Exec(ctx, `
UPDATE shipment_requests SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, requestID, from, models.RequestStatusDisputed)
	if err != nil {
		return false, false, errors.Wrap(err, "cas freeze request")
	}
	if ct.RowsAffected() != 1 {
		return true, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, errors.Wrap(err, "commit tx")
	}
	return true, true, nil
}

// ResolveDispute фиксирует резолюцию (ровно один раз) и переводит заявку
// disputed -> toStatus в одной транзакции.
func (s *Storage) ResolveDispute(ctx context.Context, requestID, resolvedBy uuid.UUID, resolution, toStatus string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
UPDATE disputes SET resolution = $2, resolved_by = $3, resolved_at = $4
WHERE request_id = $1 AND resolution IS NULL
`, requestID, resolution, resolvedBy, now)
	if err != nil {
		return false, errors.Wrap(err, "resolve dispute")
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	ct, err = tx.Exec(ctx, `
UPDATE shipment_requests SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
`, requestID, models.RequestStatusDisputed, toStatus)
	if err != nil {
		return false, errors.Wrap(err, "cas unfreeze request")
	}
	if ct.RowsAffected() != 1 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}
