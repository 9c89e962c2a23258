package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS listings (
  id UUID PRIMARY KEY,
  traveler_id UUID NOT NULL,
  route_from TEXT NOT NULL,
  route_to TEXT NOT NULL,
  departure_at TIMESTAMPTZ NOT NULL,
  available_kg NUMERIC(6,2) NOT NULL,
  remaining_kg NUMERIC(6,2) NOT NULL,
  price_per_kg NUMERIC(10,2) NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK (remaining_kg >= 0)
)`,
		`
CREATE TABLE IF NOT EXISTS shipment_requests (
  id UUID PRIMARY KEY,
  listing_id UUID NOT NULL REFERENCES listings(id),
  sender_id UUID NOT NULL,
  traveler_id UUID NOT NULL,
  weight_kg NUMERIC(6,2) NOT NULL,
  description TEXT NOT NULL,
  instructions TEXT NOT NULL DEFAULT '',
  total_price NUMERIC(12,2) NOT NULL,
  platform_fee NUMERIC(12,2) NOT NULL DEFAULT 0,
  payout_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  confirmation_code TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_requests_listing_id ON shipment_requests(listing_id)`,
		// Индекс под свипер: выборка давно висящих pending.
		`CREATE INDEX IF NOT EXISTS idx_shipment_requests_status_created_at ON shipment_requests(status, created_at)`,
		`
CREATE TABLE IF NOT EXISTS escrow_transactions (
  id UUID PRIMARY KEY,
  request_id UUID NOT NULL UNIQUE REFERENCES shipment_requests(id),
  provider_ref TEXT NOT NULL,
  amount NUMERIC(12,2) NOT NULL,
  platform_fee NUMERIC(12,2) NOT NULL,
  payout_amount NUMERIC(12,2) NOT NULL,
  refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS disputes (
  id UUID PRIMARY KEY,
  request_id UUID NOT NULL UNIQUE REFERENCES shipment_requests(id),
  raised_by UUID NOT NULL,
  reason TEXT NOT NULL,
  resolution TEXT NULL,
  resolved_by UUID NULL,
  resolved_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS reviews (
  id UUID PRIMARY KEY,
  request_id UUID NOT NULL REFERENCES shipment_requests(id),
  reviewer_id UUID NOT NULL,
  reviewee_id UUID NOT NULL,
  rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
  comment TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (request_id, reviewer_id)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
