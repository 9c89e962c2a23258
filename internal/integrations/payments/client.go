package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Operation string

const (
	OpCharge Operation = "charge"
	OpPayout Operation = "payout"
	OpRefund Operation = "refund"
)

// IdempotencyKey — ключ идемпотентности провайдера, детерминированный от
// (заявка, вид операции). Ретраи после таймаута обязаны слать тот же ключ:
// таймаут — это "исход неизвестен", а не "не прошло".
func IdempotencyKey(requestID uuid.UUID, op Operation) string {
	return fmt.Sprintf("%s:%s", op, requestID)
}

// Provider — внешний платёжный провайдер (эскроу-холд, выплата, возврат).
// Все вызовы — блокирующий сетевой I/O; провайдер сам дедуплицирует по idemKey.
type Provider interface {
	Charge(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error)
	Payout(ctx context.Context, idemKey string, payeeID uuid.UUID, amount decimal.Decimal) (string, error)
	Refund(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error)
}
