package escrow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/internal/fees"
	"github.com/KiloMates/ShipBox/internal/integrations/payments"
	"github.com/KiloMates/ShipBox/internal/models"
)

// Политика возврата при отмене/споре: полная сумма или за вычетом комиссии.
const (
	RefundPolicyFull     = "full"
	RefundPolicyNetOfFee = "net_of_fee"
)

// Провайдерские ошибки: восстановимы ретраем, агрегат остаётся в последнем
// хорошем состоянии.
var (
	ErrPaymentFailed = errors.New("payment capture failed")
	ErrPayoutFailed  = errors.New("payout release failed")
	ErrRefundFailed  = errors.New("refund failed")
	ErrNotCaptured   = errors.New("escrow transaction is not captured")
)

type Repository interface {
	GetEscrowByRequest(ctx context.Context, requestID uuid.UUID) (*models.EscrowTransaction, error)
	CreateEscrow(ctx context.Context, e *models.EscrowTransaction) (bool, error)
	SettleEscrow(ctx context.Context, requestID uuid.UUID, from, to string, refunded decimal.Decimal) (bool, error)
}

// Orchestrator — мост между жизненным циклом заявки и платёжным провайдером.
// Никогда не держит транзакцию БД через сетевой вызов: сначала провайдер,
// потом фиксация исхода. Все операции идемпотентны по id заявки.
type Orchestrator struct {
	repo     Repository
	provider payments.Provider

	feePercent   decimal.Decimal
	refundPolicy string
}

func New(repo Repository, provider payments.Provider, feePercent decimal.Decimal, refundPolicy string) *Orchestrator {
	if feePercent.IsZero() {
		feePercent = fees.DefaultPercent
	}
	if refundPolicy == "" {
		refundPolicy = RefundPolicyFull
	}
	return &Orchestrator{repo: repo, provider: provider, feePercent: feePercent, refundPolicy: refundPolicy}
}

// AuthorizeAndCapture списывает total_price с отправителя в эскроу.
// При отказе провайдера не персистится ничего. Повторный вызов по уже
// захваченной заявке — no-op: возвращается существующая транзакция.
func (o *Orchestrator) AuthorizeAndCapture(ctx context.Context, req *models.ShipmentRequest) (*models.EscrowTransaction, error) {
	existing, err := o.repo.GetEscrowByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != models.EscrowStatusFailed {
		return existing, nil
	}

	fee, payout, err := fees.Split(req.TotalPrice, o.feePercent)
	if err != nil {
		return nil, err
	}

	// Таймаут здесь — "исход неизвестен": ретрай пойдёт с тем же ключом
	// идемпотентности, провайдер не спишет дважды.
	ref, err := o.provider.Charge(ctx, payments.IdempotencyKey(req.ID, payments.OpCharge), req.SenderID, req.TotalPrice)
	if err != nil {
		return nil, errors.Wrapf(ErrPaymentFailed, "request %s: %v", req.ID, err)
	}

	e := &models.EscrowTransaction{
		ID:             uuid.New(),
		RequestID:      req.ID,
		ProviderRef:    ref,
		Amount:         req.TotalPrice,
		PlatformFee:    fee,
		PayoutAmount:   payout,
		RefundedAmount: decimal.Zero,
		Status:         models.EscrowStatusCaptured,
	}
	created, err := o.repo.CreateEscrow(ctx, e)
	if err != nil {
		return nil, err
	}
	if !created {
		// Конкурент успел первым; благодаря общему ключу идемпотентности
		// списание всё равно одно.
		slog.Info("escrow already captured by concurrent call", "request_id", req.ID)
		return o.repo.GetEscrowByRequest(ctx, req.ID)
	}
	return e, nil
}

// Release переводит payout_amount путешественнику. Уже released — no-op.
// Отказ провайдера восстановим: заявка остаётся в пред-релизном статусе.
func (o *Orchestrator) Release(ctx context.Context, req *models.ShipmentRequest) error {
	e, err := o.repo.GetEscrowByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	if e == nil {
		return errors.Wrapf(ErrNotCaptured, "request %s has no escrow", req.ID)
	}
	switch e.Status {
	case models.EscrowStatusReleased:
		return nil
	case models.EscrowStatusCaptured:
	default:
		return errors.Wrapf(ErrNotCaptured, "request %s escrow status=%s", req.ID, e.Status)
	}

	_, err = o.provider.Payout(ctx, payments.IdempotencyKey(req.ID, payments.OpPayout), req.TravelerID, e.PayoutAmount)
	if err != nil {
		return errors.Wrapf(ErrPayoutFailed, "request %s: %v", req.ID, err)
	}

	ok, err := o.repo.SettleEscrow(ctx, req.ID, models.EscrowStatusCaptured, models.EscrowStatusReleased, decimal.Zero)
	if err != nil {
		return err
	}
	if !ok {
		// Проигранная гонка с другим release безвредна: выплата одна.
		cur, err := o.repo.GetEscrowByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == models.EscrowStatusReleased {
			return nil
		}
		return errors.Wrapf(ErrNotCaptured, "request %s escrow settled concurrently", req.ID)
	}
	return nil
}

// Refund возвращает деньги отправителю по настроенной политике.
// Уже refunded — no-op.
func (o *Orchestrator) Refund(ctx context.Context, req *models.ShipmentRequest) error {
	e, err := o.repo.GetEscrowByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	if e == nil {
		return errors.Wrapf(ErrNotCaptured, "request %s has no escrow", req.ID)
	}
	switch e.Status {
	case models.EscrowStatusRefunded:
		return nil
	case models.EscrowStatusCaptured:
	default:
		return errors.Wrapf(ErrNotCaptured, "request %s escrow status=%s", req.ID, e.Status)
	}

	amount := e.Amount
	if o.refundPolicy == RefundPolicyNetOfFee {
		amount = e.PayoutAmount
	}

	_, err = o.provider.Refund(ctx, payments.IdempotencyKey(req.ID, payments.OpRefund), req.SenderID, amount)
	if err != nil {
		return errors.Wrapf(ErrRefundFailed, "request %s: %v", req.ID, err)
	}

	ok, err := o.repo.SettleEscrow(ctx, req.ID, models.EscrowStatusCaptured, models.EscrowStatusRefunded, amount)
	if err != nil {
		return err
	}
	if !ok {
		cur, err := o.repo.GetEscrowByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == models.EscrowStatusRefunded {
			return nil
		}
		return errors.Wrapf(ErrNotCaptured, "request %s escrow settled concurrently", req.ID)
	}
	return nil
}

// RefundIfCaptured — возврат при отмене: если эскроу не создавалось или уже
// возвращено, делать нечего; released возвращать нельзя.
func (o *Orchestrator) RefundIfCaptured(ctx context.Context, req *models.ShipmentRequest) error {
	e, err := o.repo.GetEscrowByRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	if e == nil || e.Status == models.EscrowStatusFailed || e.Status == models.EscrowStatusRefunded {
		return nil
	}
	if e.Status == models.EscrowStatusReleased {
		return errors.Wrapf(ErrNotCaptured, "request %s payout already released", req.ID)
	}
	return o.Refund(ctx, req)
}
