package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы заявки на перевозку. Движение только по рёбрам из services/requests.
const (
	RequestStatusPending   = "pending"
	RequestStatusAccepted  = "accepted"
	RequestStatusPaid      = "paid"
	RequestStatusCollected = "collected"
	RequestStatusInTransit = "in_transit"
	RequestStatusDelivered = "delivered"
	RequestStatusConfirmed = "confirmed"
	RequestStatusCancelled = "cancelled"
	RequestStatusDisputed  = "disputed"
)

const (
	EscrowStatusAuthorized = "authorized"
	EscrowStatusCaptured   = "captured"
	EscrowStatusReleased   = "released"
	EscrowStatusRefunded   = "refunded"
	EscrowStatusFailed     = "failed"
)

const (
	DisputeResolutionRefund  = "refund"
	DisputeResolutionRelease = "release"
)

const (
	ListingStatusActive = "active"
	ListingStatusClosed = "closed"
)

// Предельный вес одной заявки, кг.
var MaxRequestWeightKg = decimal.NewFromInt(30)

// Listing — заявленная путешественником свободная ёмкость на маршруте.
// RemainingKg уменьшается атомарно при accept и возвращается при отмене.
type Listing struct {
	ID          uuid.UUID
	TravelerID  uuid.UUID
	RouteFrom   string
	RouteTo     string
	DepartureAt time.Time
	AvailableKg decimal.Decimal
	RemainingKg decimal.Decimal
	PricePerKg  decimal.Decimal
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShipmentRequest — транзакционный агрегат. TotalPrice фиксируется при
// создании и больше никогда не пересчитывается, даже если листинг подорожал.
// PlatformFee/PayoutAmount заполняются оркестратором при оплате,
// ConfirmationCode выдаётся ровно один раз в момент оплаты.
type ShipmentRequest struct {
	ID               uuid.UUID
	ListingID        uuid.UUID
	SenderID         uuid.UUID
	TravelerID       uuid.UUID
	WeightKg         decimal.Decimal
	Description      string
	Instructions     string
	TotalPrice       decimal.Decimal
	PlatformFee      decimal.Decimal
	PayoutAmount     decimal.Decimal
	Status           string
	ConfirmationCode *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EscrowTransaction — один к одному с заявкой, создаётся только оркестратором.
type EscrowTransaction struct {
	ID             uuid.UUID
	RequestID      uuid.UUID
	ProviderRef    string
	Amount         decimal.Decimal
	PlatformFee    decimal.Decimal
	PayoutAmount   decimal.Decimal
	RefundedAmount decimal.Decimal
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Dispute — ноль или один на заявку; после резолюции терминален.
type Dispute struct {
	ID         uuid.UUID
	RequestID  uuid.UUID
	RaisedBy   uuid.UUID
	Reason     string
	Resolution *string
	ResolvedBy *uuid.UUID
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

type Review struct {
	ID         uuid.UUID
	RequestID  uuid.UUID
	ReviewerID uuid.UUID
	RevieweeID uuid.UUID
	Rating     int32
	Comment    string
	CreatedAt  time.Time
}

type ListingCreateInput struct {
	TravelerID  uuid.UUID
	RouteFrom   string
	RouteTo     string
	DepartureAt time.Time
	AvailableKg decimal.Decimal
	PricePerKg  decimal.Decimal
}

type RequestCreateInput struct {
	SenderID     uuid.UUID
	ListingID    uuid.UUID
	WeightKg     decimal.Decimal
	Description  string
	Instructions string
}
