package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/KiloMates/ShipBox/internal/models"
)

// CreateReview — не более одного отзыва от каждого участника заявки.
// false — этот рецензент уже оставлял отзыв.
func (s *Storage) CreateReview(ctx context.Context, r *models.Review) (bool, error) {
	now := time.Now().UTC()
	ct, err := s.db.Exec(ctx, `
INSERT INTO reviews (id, request_id, reviewer_id, reviewee_id, rating, comment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (request_id, reviewer_id) DO NOTHING
`, r.ID, r.RequestID, r.ReviewerID, r.RevieweeID, r.Rating, r.Comment, now)
	if err != nil {
		return false, errors.Wrap(err, "insert review")
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Storage) ListReviewsByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Review, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, request_id, reviewer_id, reviewee_id, rating, comment, created_at
FROM reviews
WHERE request_id = $1
ORDER BY created_at ASC
`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, "select reviews")
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.ReviewerID, &r.RevieweeID, &r.Rating, &r.Comment, &r.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan review")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
