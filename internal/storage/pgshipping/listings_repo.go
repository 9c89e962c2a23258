package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/KiloMates/ShipBox/internal/models"
)

func (s *Storage) CreateListing(ctx context.Context, in models.ListingCreateInput) (*models.Listing, error) {
	now := time.Now().UTC()
	id := uuid.New()

	_, err := s.db.Exec(ctx, `
INSERT INTO listings (
  id, traveler_id, route_from, route_to, departure_at,
  available_kg, remaining_kg, price_per_kg, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6,$7,$8,$9,$9)
`, id, in.TravelerID, in.RouteFrom, in.RouteTo, in.DepartureAt.UTC(),
		in.AvailableKg, in.PricePerKg, models.ListingStatusActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert listing")
	}

	return s.GetListingByID(ctx, id)
}

func (s *Storage) GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.db.QueryRow(ctx, `
SELECT
  id, traveler_id, route_from, route_to, departure_at,
  available_kg, remaining_kg, price_per_kg, status, created_at, updated_at
FROM listings
WHERE id = $1
`, id)

	var l models.Listing
	err := row.Scan(
		&l.ID, &l.TravelerID, &l.RouteFrom, &l.RouteTo, &l.DepartureAt,
		&l.AvailableKg, &l.RemainingKg, &l.PricePerKg, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan listing")
	}
	return &l, nil
}
