package requests

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/internal/broker/messages"
	"github.com/KiloMates/ShipBox/internal/cache"
	"github.com/KiloMates/ShipBox/internal/codes"
	"github.com/KiloMates/ShipBox/internal/fees"
	"github.com/KiloMates/ShipBox/internal/models"
	"github.com/KiloMates/ShipBox/internal/storage/pgshipping"
)

const maxReviewCommentLen = 1000

type Repository interface {
	CreateListing(ctx context.Context, in models.ListingCreateInput) (*models.Listing, error)
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)

	CreateRequest(ctx context.Context, in models.RequestCreateInput, travelerID uuid.UUID, totalPrice decimal.Decimal) (*models.ShipmentRequest, error)
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.ShipmentRequest, error)
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	AcceptRequest(ctx context.Context, id, listingID uuid.UUID, weight decimal.Decimal) (bool, error)
	CancelRequest(ctx context.Context, id, listingID uuid.UUID, from string, restoreKg decimal.Decimal) (bool, error)
	MarkRequestPaid(ctx context.Context, id uuid.UUID, code string, fee, payout decimal.Decimal) (bool, error)

	GetDisputeByRequest(ctx context.Context, requestID uuid.UUID) (*models.Dispute, error)
	OpenDispute(ctx context.Context, requestID, raisedBy uuid.UUID, reason, from string) (created, frozen bool, err error)
	ResolveDispute(ctx context.Context, requestID, resolvedBy uuid.UUID, resolution, toStatus string) (bool, error)

	CreateReview(ctx context.Context, r *models.Review) (bool, error)
	ListReviewsByRequest(ctx context.Context, requestID uuid.UUID) ([]*models.Review, error)
}

// Escrow — оркестратор платежей (services/escrow). Вызовы идемпотентны
// по id заявки.
type Escrow interface {
	AuthorizeAndCapture(ctx context.Context, req *models.ShipmentRequest) (*models.EscrowTransaction, error)
	Release(ctx context.Context, req *models.ShipmentRequest) error
	Refund(ctx context.Context, req *models.ShipmentRequest) error
	RefundIfCaptured(ctx context.Context, req *models.ShipmentRequest) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Service — авторитетный владелец статуса заявки. Все переходы идут только
// через него; клиентские оптимистичные апдейты сверяются с его ответом.
type Service struct {
	repo   Repository
	escrow Escrow

	cache    cache.BytesCache
	cacheTTL time.Duration

	producer Producer
	topic    string

	rl             RateLimiter
	confirmLimit   int64
	confirmWindow  time.Duration
	feePercent     decimal.Decimal
	admins         map[uuid.UUID]bool
}

func New(repo Repository, esc Escrow, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:          repo,
		escrow:        esc,
		cache:         c,
		cacheTTL:      cacheTTL,
		feePercent:    fees.DefaultPercent,
		confirmLimit:  5,
		confirmWindow: time.Hour,
		admins:        map[uuid.UUID]bool{},
	}
}

func (s *Service) WithEvents(p Producer, topic string) *Service {
	s.producer = p
	if topic != "" {
		s.topic = topic
	}
	return s
}

func (s *Service) WithConfirmLimits(rl RateLimiter, limit int64, window time.Duration) *Service {
	s.rl = rl
	if limit > 0 {
		s.confirmLimit = limit
	}
	if window > 0 {
		s.confirmWindow = window
	}
	return s
}

func (s *Service) WithFeePercent(p decimal.Decimal) *Service {
	if p.IsPositive() {
		s.feePercent = p
	}
	return s
}

func (s *Service) WithAdmins(ids []uuid.UUID) *Service {
	for _, id := range ids {
		s.admins[id] = true
	}
	return s
}

// --- листинги -------------------------------------------------------------

func (s *Service) CreateListing(ctx context.Context, in models.ListingCreateInput) (*models.Listing, error) {
	if in.TravelerID == uuid.Nil {
		return nil, errors.Wrap(ErrValidation, "travelerId is required")
	}
	if in.RouteFrom == "" || in.RouteTo == "" {
		return nil, errors.Wrap(ErrValidation, "route is required")
	}
	if !in.AvailableKg.IsPositive() {
		return nil, errors.Wrap(ErrValidation, "availableKg must be positive")
	}
	if !in.PricePerKg.IsPositive() {
		return nil, errors.Wrap(ErrValidation, "pricePerKg must be positive")
	}
	return s.repo.CreateListing(ctx, in)
}

func (s *Service) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	l, err := s.repo.GetListingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.Wrap(ErrNotFound, "listing")
	}
	return l, nil
}

// --- создание заявки --------------------------------------------------------

// CreateRequest валидирует вход и фиксирует total_price по текущей цене
// листинга. Ёмкость на этом шаге только проверяется; резервируется она
// атомарно при accept.
func (s *Service) CreateRequest(ctx context.Context, in models.RequestCreateInput) (*models.ShipmentRequest, error) {
	if in.SenderID == uuid.Nil {
		return nil, errors.Wrap(ErrValidation, "senderId is required")
	}
	if in.ListingID == uuid.Nil {
		return nil, errors.Wrap(ErrValidation, "listingId is required")
	}
	if !in.WeightKg.IsPositive() || in.WeightKg.GreaterThan(models.MaxRequestWeightKg) {
		return nil, errors.Wrapf(ErrValidation, "weightKg must be in (0, %s]", models.MaxRequestWeightKg)
	}
	if in.Description == "" {
		return nil, errors.Wrap(ErrValidation, "description is required")
	}

	l, err := s.repo.GetListingByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.Wrap(ErrNotFound, "listing")
	}
	if l.Status != models.ListingStatusActive {
		return nil, errors.Wrap(ErrValidation, "listing is not active")
	}
	if l.TravelerID == in.SenderID {
		return nil, errors.Wrap(ErrValidation, "sender cannot ship on own listing")
	}
	if in.WeightKg.GreaterThan(l.RemainingKg) {
		return nil, errors.Wrapf(ErrCapacityExceeded, "requested %s kg, remaining %s kg", in.WeightKg, l.RemainingKg)
	}

	total := l.PricePerKg.Mul(in.WeightKg).Round(2)
	req, err := s.repo.CreateRequest(ctx, in, l.TravelerID, total)
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, req)
	s.publish(ctx, req, "", req.Status, "create", in.SenderID)
	return req, nil
}

// GetRequest — чтение с best-effort кэшем текущего состояния.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*models.ShipmentRequest, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var r models.ShipmentRequest
			if json.Unmarshal(b, &r) == nil {
				return &r, nil
			}
		}
	}

	r, err := s.repo.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	s.refreshCache(ctx, r)
	return r, nil
}

// --- переходы ----------------------------------------------------------------

// Transition выполняет действие контрагента. Ровно один из двух конкурентных
// вызовов с одинаковым ожидаемым статусом выигрывает CAS; проигравший
// получает ErrConflict, молча потерянных записей не бывает.
func (s *Service) Transition(ctx context.Context, requestID, actorID uuid.UUID, action Action) (*models.ShipmentRequest, error) {
	e, ok := transitions[action]
	if !ok {
		return nil, errors.Wrapf(ErrValidation, "unknown action %q", action)
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}

	if err := s.gateActor(req, actorID, e.role); err != nil {
		return nil, err
	}
	if !statusAllowed(e, req.Status) {
		return nil, errors.Wrapf(classifyBlocked(req.Status), "action %s from status %s", action, req.Status)
	}

	from := req.Status
	switch action {
	case ActionAccept:
		accepted, err := s.repo.AcceptRequest(ctx, req.ID, req.ListingID, req.WeightKg)
		if errors.Is(err, pgshipping.ErrInsufficientCapacity) {
			return nil, errors.Wrap(ErrCapacityExceeded, "accept")
		}
		if err != nil {
			return nil, err
		}
		if !accepted {
			return nil, errors.Wrap(ErrConflict, "accept")
		}

	case ActionReject, ActionCancel:
		// Если деньги уже в эскроу (защитная ветка), сперва возврат,
		// и только потом переключение статуса.
		if err := s.escrow.RefundIfCaptured(ctx, req); err != nil {
			return nil, err
		}
		restore := decimal.Zero
		if from == models.RequestStatusAccepted {
			restore = req.WeightKg
		}
		okCancel, err := s.repo.CancelRequest(ctx, req.ID, req.ListingID, from, restore)
		if err != nil {
			return nil, err
		}
		if !okCancel {
			return nil, errors.Wrapf(ErrConflict, "%s", action)
		}

	case ActionPay:
		return s.pay(ctx, req, actorID)

	default: // маркеры collected / in_transit / delivered
		okCAS, err := s.repo.UpdateRequestStatus(ctx, req.ID, from, e.to)
		if err != nil {
			return nil, err
		}
		if !okCAS {
			return nil, errors.Wrapf(ErrConflict, "%s", action)
		}
	}

	return s.finish(ctx, req.ID, from, e.to, string(action), actorID)
}

// pay: списание в эскроу вне транзакции БД, затем CAS accepted->paid с
// одновременной выдачей кода подтверждения. При отказе провайдера статус
// остаётся accepted и ничего не персистится.
func (s *Service) pay(ctx context.Context, req *models.ShipmentRequest, actorID uuid.UUID) (*models.ShipmentRequest, error) {
	et, err := s.escrow.AuthorizeAndCapture(ctx, req)
	if err != nil {
		return nil, err
	}

	code, err := codes.Generate()
	if err != nil {
		return nil, err
	}

	okCAS, err := s.repo.MarkRequestPaid(ctx, req.ID, code, et.PlatformFee, et.PayoutAmount)
	if err != nil {
		return nil, err
	}
	if !okCAS {
		// Захват уже состоялся (идемпотентно), но статус успел уйти из-под
		// accepted. Если это была отмена, прошедшая свою проверку возврата
		// до нашего списания, эскроу завис бы в captured навсегда —
		// компенсируем на проигравшей стороне.
		cur, curErr := s.repo.GetRequestByID(ctx, req.ID)
		if curErr != nil {
			return nil, curErr
		}
		if cur != nil && cur.Status == models.RequestStatusCancelled {
			if refundErr := s.escrow.RefundIfCaptured(ctx, cur); refundErr != nil {
				return nil, refundErr
			}
		}
		return nil, errors.Wrap(ErrConflict, "pay")
	}

	return s.finish(ctx, req.ID, models.RequestStatusAccepted, models.RequestStatusPaid, string(ActionPay), actorID)
}

// ConfirmDelivery сверяет код за постоянное время и отпускает выплату.
// Неверный код не меняет ни статус, ни эскроу. Подбор кода душится
// рейт-лимитером: код знает только отправитель.
func (s *Service) ConfirmDelivery(ctx context.Context, requestID, senderID uuid.UUID, submitted string) (*models.ShipmentRequest, error) {
	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.SenderID != senderID {
		return nil, errors.Wrap(ErrNotParticipant, "confirm")
	}
	if req.Status != models.RequestStatusDelivered {
		return nil, errors.Wrapf(classifyBlocked(req.Status), "confirm from status %s", req.Status)
	}

	if s.rl != nil {
		allowed, n, err := s.rl.Allow(ctx, confirmKey(requestID), s.confirmLimit, s.confirmWindow)
		if err != nil {
			// Лимитер недоступен — не блокируем легитимное подтверждение.
			slog.Warn("confirm rate limiter unavailable", "request_id", requestID, "error", err.Error())
		} else if !allowed {
			slog.Warn("confirm attempts exceeded", "request_id", requestID, "count", n)
			return nil, ErrTooManyCodeAttempts
		}
	}

	if req.ConfirmationCode == nil || !codes.Verify(*req.ConfirmationCode, submitted) {
		return nil, ErrInvalidConfirmationCode
	}

	// Сначала CAS delivered->confirmed: из confirmed спор уже не открыть,
	// поэтому выплата не может пересечься с заморозкой. Упавшая выплата
	// откатывает статус обратно в delivered и безопасно ретраится.
	okCAS, err := s.repo.UpdateRequestStatus(ctx, req.ID, models.RequestStatusDelivered, models.RequestStatusConfirmed)
	if err != nil {
		return nil, err
	}
	if !okCAS {
		return nil, errors.Wrap(ErrConflict, "confirm")
	}

	if err := s.escrow.Release(ctx, req); err != nil {
		if _, rbErr := s.repo.UpdateRequestStatus(ctx, req.ID, models.RequestStatusConfirmed, models.RequestStatusDelivered); rbErr != nil {
			slog.Error("rollback confirm after failed release", "request_id", req.ID, "error", rbErr.Error())
		}
		return nil, err
	}

	return s.finish(ctx, req.ID, models.RequestStatusDelivered, models.RequestStatusConfirmed, string(actionConfirm), senderID)
}

// --- споры ---------------------------------------------------------------

func (s *Service) OpenDispute(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, errors.Wrap(ErrValidation, "reason is required")
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if actorID != req.SenderID && actorID != req.TravelerID {
		return nil, errors.Wrap(ErrNotParticipant, "open dispute")
	}
	if req.Status == models.RequestStatusDisputed {
		return nil, ErrAlreadyDisputed
	}
	if !disputableStatuses[req.Status] {
		return nil, errors.Wrapf(classifyBlocked(req.Status), "dispute from status %s", req.Status)
	}

	created, frozen, err := s.repo.OpenDispute(ctx, requestID, actorID, reason, req.Status)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyDisputed
	}
	if !frozen {
		return nil, errors.Wrap(ErrConflict, "open dispute")
	}

	if _, err := s.finish(ctx, requestID, req.Status, models.RequestStatusDisputed, string(actionOpenDispute), actorID); err != nil {
		return nil, err
	}
	return s.repo.GetDisputeByRequest(ctx, requestID)
}

// ResolveDispute — только администратор; резолюция строго refund|release.
// Сначала идемпотентное движение денег, затем CAS disputed->терминал.
func (s *Service) ResolveDispute(ctx context.Context, requestID, adminID uuid.UUID, resolution string) (*models.ShipmentRequest, error) {
	if !s.admins[adminID] {
		return nil, errors.Wrap(ErrNotAdmin, "resolve dispute")
	}
	if resolution != models.DisputeResolutionRefund && resolution != models.DisputeResolutionRelease {
		return nil, errors.Wrapf(ErrValidation, "unknown resolution %q", resolution)
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.Status != models.RequestStatusDisputed {
		return nil, errors.Wrapf(classifyBlocked(req.Status), "resolve from status %s", req.Status)
	}

	toStatus := models.RequestStatusConfirmed
	if resolution == models.DisputeResolutionRefund {
		toStatus = models.RequestStatusCancelled
		err = s.escrow.Refund(ctx, req)
	} else {
		err = s.escrow.Release(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	okCAS, err := s.repo.ResolveDispute(ctx, requestID, adminID, resolution, toStatus)
	if err != nil {
		return nil, err
	}
	if !okCAS {
		return nil, errors.Wrap(ErrConflict, "resolve dispute")
	}

	return s.finish(ctx, requestID, models.RequestStatusDisputed, toStatus, string(actionResolveLabel), adminID)
}

// --- отзывы -----------------------------------------------------------------

func (s *Service) SubmitReview(ctx context.Context, requestID, reviewerID uuid.UUID, rating int32, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, errors.Wrap(ErrValidation, "rating must be 1..5")
	}
	if len(comment) > maxReviewCommentLen {
		return nil, errors.Wrapf(ErrValidation, "comment longer than %d chars", maxReviewCommentLen)
	}

	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}

	var reviewee uuid.UUID
	switch reviewerID {
	case req.SenderID:
		reviewee = req.TravelerID
	case req.TravelerID:
		reviewee = req.SenderID
	default:
		return nil, errors.Wrap(ErrNotParticipant, "review")
	}

	if req.Status != models.RequestStatusConfirmed {
		return nil, errors.Wrapf(ErrNotConfirmed, "status %s", req.Status)
	}

	review := &models.Review{
		ID:         uuid.New(),
		RequestID:  requestID,
		ReviewerID: reviewerID,
		RevieweeID: reviewee,
		Rating:     rating,
		Comment:    comment,
	}
	created, err := s.repo.CreateReview(ctx, review)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyReviewed
	}
	return review, nil
}

func (s *Service) ListReviews(ctx context.Context, requestID uuid.UUID) ([]*models.Review, error) {
	return s.repo.ListReviewsByRequest(ctx, requestID)
}

// --- внутреннее ---------------------------------------------------------------

func (s *Service) gateActor(req *models.ShipmentRequest, actorID uuid.UUID, role actorRole) error {
	switch role {
	case roleSender:
		if actorID != req.SenderID {
			return errors.Wrap(ErrNotParticipant, "sender action")
		}
	case roleTraveler:
		if actorID != req.TravelerID {
			return errors.Wrap(ErrNotParticipant, "traveler action")
		}
	}
	return nil
}

// finish перечитывает авторитетное состояние, обновляет кэш и публикует
// событие перехода.
func (s *Service) finish(ctx context.Context, requestID uuid.UUID, from, to, action string, actorID uuid.UUID) (*models.ShipmentRequest, error) {
	req, err := s.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}

	s.refreshCache(ctx, req)
	s.publish(ctx, req, from, to, action, actorID)
	return req, nil
}

func (s *Service) refreshCache(ctx context.Context, req *models.ShipmentRequest) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(req)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(req.ID), b, s.cacheTTL)
}

// publish — best effort: нотификатор вторичен по отношению к самой сделке,
// неудачную публикацию только логируем.
func (s *Service) publish(ctx context.Context, req *models.ShipmentRequest, from, to, action string, actorID uuid.UUID) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.RequestTransitioned{
		RequestID:  req.ID,
		ListingID:  req.ListingID,
		From:       from,
		To:         to,
		Action:     action,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(req.ID.String()), b); err != nil {
		slog.Error("publish request transition", "request_id", req.ID, "action", action, "error", err.Error())
	}
}

func currentKey(id uuid.UUID) string {
	return fmt.Sprintf("request:%s:current", id)
}

func confirmKey(id uuid.UUID) string {
	return fmt.Sprintf("confirm:%s", id)
}
