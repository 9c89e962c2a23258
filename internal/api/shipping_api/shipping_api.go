package shipping_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/internal/models"
	"github.com/KiloMates/ShipBox/internal/services/escrow"
	"github.com/KiloMates/ShipBox/internal/services/requests"
)

// actorHeader — идентификация вызывающего. Аутентификация живёт на шлюзе,
// сюда прилетает уже проверенный user id.
const actorHeader = "X-Actor-Id"

type Service interface {
	CreateListing(ctx context.Context, in models.ListingCreateInput) (*models.Listing, error)
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)

	CreateRequest(ctx context.Context, in models.RequestCreateInput) (*models.ShipmentRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*models.ShipmentRequest, error)
	Transition(ctx context.Context, requestID, actorID uuid.UUID, action requests.Action) (*models.ShipmentRequest, error)
	ConfirmDelivery(ctx context.Context, requestID, senderID uuid.UUID, code string) (*models.ShipmentRequest, error)

	OpenDispute(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, requestID, adminID uuid.UUID, resolution string) (*models.ShipmentRequest, error)

	SubmitReview(ctx context.Context, requestID, reviewerID uuid.UUID, rating int32, comment string) (*models.Review, error)
	ListReviews(ctx context.Context, requestID uuid.UUID) ([]*models.Review, error)
}

type ShippingAPI struct {
	svc Service
}

func New(svc Service) *ShippingAPI {
	return &ShippingAPI{svc: svc}
}

func (a *ShippingAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/listings", a.createListing)
		r.Get("/listings/{id}", a.getListing)

		r.Post("/requests", a.createRequest)
		r.Get("/requests/{id}", a.getRequest)
		r.Post("/requests/{id}/transitions", a.transition)
		r.Post("/requests/{id}/confirmation", a.confirmDelivery)
		r.Post("/requests/{id}/disputes", a.openDispute)
		r.Post("/requests/{id}/disputes/resolution", a.resolveDispute)
		r.Post("/requests/{id}/reviews", a.submitReview)
		r.Get("/requests/{id}/reviews", a.listReviews)
	})
}

// --- DTO ---------------------------------------------------------------

type listingDTO struct {
	ID          uuid.UUID       `json:"id"`
	TravelerID  uuid.UUID       `json:"travelerId"`
	RouteFrom   string          `json:"routeFrom"`
	RouteTo     string          `json:"routeTo"`
	DepartureAt time.Time       `json:"departureAt"`
	AvailableKg decimal.Decimal `json:"availableKg"`
	RemainingKg decimal.Decimal `json:"remainingKg"`
	PricePerKg  decimal.Decimal `json:"pricePerKg"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type requestDTO struct {
	ID           uuid.UUID       `json:"id"`
	ListingID    uuid.UUID       `json:"listingId"`
	SenderID     uuid.UUID       `json:"senderId"`
	TravelerID   uuid.UUID       `json:"travelerId"`
	WeightKg     decimal.Decimal `json:"weightKg"`
	Description  string          `json:"description"`
	Instructions string          `json:"instructions,omitempty"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	PayoutAmount decimal.Decimal `json:"payoutAmount"`
	Status       string          `json:"status"`
	// Код подтверждения видит только отправитель.
	ConfirmationCode *string   `json:"confirmationCode,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type disputeDTO struct {
	ID         uuid.UUID  `json:"id"`
	RequestID  uuid.UUID  `json:"requestId"`
	RaisedBy   uuid.UUID  `json:"raisedBy"`
	Reason     string     `json:"reason"`
	Resolution *string    `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type reviewDTO struct {
	ID         uuid.UUID `json:"id"`
	RequestID  uuid.UUID `json:"requestId"`
	ReviewerID uuid.UUID `json:"reviewerId"`
	RevieweeID uuid.UUID `json:"revieweeId"`
	Rating     int32     `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toListingDTO(l *models.Listing) listingDTO {
	return listingDTO{
		ID:          l.ID,
		TravelerID:  l.TravelerID,
		RouteFrom:   l.RouteFrom,
		RouteTo:     l.RouteTo,
		DepartureAt: l.DepartureAt,
		AvailableKg: l.AvailableKg,
		RemainingKg: l.RemainingKg,
		PricePerKg:  l.PricePerKg,
		Status:      l.Status,
		CreatedAt:   l.CreatedAt,
	}
}

func toRequestDTO(r *models.ShipmentRequest, viewerID uuid.UUID) requestDTO {
	dto := requestDTO{
		ID:           r.ID,
		ListingID:    r.ListingID,
		SenderID:     r.SenderID,
		TravelerID:   r.TravelerID,
		WeightKg:     r.WeightKg,
		Description:  r.Description,
		Instructions: r.Instructions,
		TotalPrice:   r.TotalPrice,
		PlatformFee:  r.PlatformFee,
		PayoutAmount: r.PayoutAmount,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if viewerID == r.SenderID {
		dto.ConfirmationCode = r.ConfirmationCode
	}
	return dto
}

func toDisputeDTO(d *models.Dispute) disputeDTO {
	return disputeDTO{
		ID:         d.ID,
		RequestID:  d.RequestID,
		RaisedBy:   d.RaisedBy,
		Reason:     d.Reason,
		Resolution: d.Resolution,
		ResolvedBy: d.ResolvedBy,
		ResolvedAt: d.ResolvedAt,
		CreatedAt:  d.CreatedAt,
	}
}

func toReviewDTO(r *models.Review) reviewDTO {
	return reviewDTO{
		ID:         r.ID,
		RequestID:  r.RequestID,
		ReviewerID: r.ReviewerID,
		RevieweeID: r.RevieweeID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
	}
}

// --- handlers ----------------------------------------------------------

func (a *ShippingAPI) createListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		RouteFrom   string          `json:"routeFrom"`
		RouteTo     string          `json:"routeTo"`
		DepartureAt time.Time       `json:"departureAt"`
		AvailableKg decimal.Decimal `json:"availableKg"`
		PricePerKg  decimal.Decimal `json:"pricePerKg"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	l, err := a.svc.CreateListing(r.Context(), models.ListingCreateInput{
		TravelerID:  actor,
		RouteFrom:   body.RouteFrom,
		RouteTo:     body.RouteTo,
		DepartureAt: body.DepartureAt,
		AvailableKg: body.AvailableKg,
		PricePerKg:  body.PricePerKg,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toListingDTO(l))
}

func (a *ShippingAPI) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	l, err := a.svc.GetListing(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toListingDTO(l))
}

func (a *ShippingAPI) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		ListingID    uuid.UUID       `json:"listingId"`
		WeightKg     decimal.Decimal `json:"weightKg"`
		Description  string          `json:"description"`
		Instructions string          `json:"instructions"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.svc.CreateRequest(r.Context(), models.RequestCreateInput{
		SenderID:     actor,
		ListingID:    body.ListingID,
		WeightKg:     body.WeightKg,
		Description:  body.Description,
		Instructions: body.Instructions,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toRequestDTO(req, actor))
}

func (a *ShippingAPI) getRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	req, err := a.svc.GetRequest(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toRequestDTO(req, actor))
}

func (a *ShippingAPI) transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.svc.Transition(r.Context(), id, actor, requests.Action(body.Action))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toRequestDTO(req, actor))
}

func (a *ShippingAPI) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.svc.ConfirmDelivery(r.Context(), id, actor, body.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toRequestDTO(req, actor))
}

func (a *ShippingAPI) openDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	d, err := a.svc.OpenDispute(r.Context(), id, actor, body.Reason)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toDisputeDTO(d))
}

func (a *ShippingAPI) resolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Resolution string `json:"resolution"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	req, err := a.svc.ResolveDispute(r.Context(), id, actor, body.Resolution)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toRequestDTO(req, actor))
}

func (a *ShippingAPI) submitReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Rating  int32  `json:"rating"`
		Comment string `json:"comment"`
	}
	if !a.decode(w, r, &body) {
		return
	}
	rev, err := a.svc.SubmitReview(r.Context(), id, actor, body.Rating, body.Comment)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toReviewDTO(rev))
}

func (a *ShippingAPI) listReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	revs, err := a.svc.ListReviews(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]reviewDTO, 0, len(revs))
	for _, rev := range revs {
		out = append(out, toReviewDTO(rev))
	}
	a.writeJSON(w, http.StatusOK, out)
}

// --- plumbing ----------------------------------------------------------

func (a *ShippingAPI) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(actorHeader)
	if raw == "" {
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-Actor-Id header is required"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-Actor-Id must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *ShippingAPI) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (a *ShippingAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json body"})
		return false
	}
	return true
}

func (a *ShippingAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}

// writeError переводит таксономию сервиса в HTTP-коды. Конкурентные
// проигрыши и нарушения жизненного цикла — это 409: клиент должен
// перечитать состояние, а не ретраить вслепую.
func (a *ShippingAPI) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, requests.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, requests.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, requests.ErrNotParticipant), errors.Is(err, requests.ErrNotAdmin):
		status = http.StatusForbidden
	case errors.Is(err, requests.ErrInvalidConfirmationCode):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, requests.ErrTooManyCodeAttempts):
		status = http.StatusTooManyRequests
	case errors.Is(err, requests.ErrInvalidTransition),
		errors.Is(err, requests.ErrConflict),
		errors.Is(err, requests.ErrTerminalState),
		errors.Is(err, requests.ErrDisputePending),
		errors.Is(err, requests.ErrAlreadyDisputed),
		errors.Is(err, requests.ErrAlreadyReviewed),
		errors.Is(err, requests.ErrNotConfirmed),
		errors.Is(err, requests.ErrCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrPaymentFailed),
		errors.Is(err, escrow.ErrPayoutFailed),
		errors.Is(err, escrow.ErrRefundFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "error", err.Error())
		a.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
