package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/KiloMates/ShipBox/internal/integrations/payments"
)

var _ payments.Provider = (*FakeProvider)(nil)

// FakeProvider — провайдер-заглушка для локального запуска и тестов.
// Дедуплицирует по idemKey так же, как настоящий шлюз: повторный вызов
// с тем же ключом возвращает прежний reference и денег не двигает.
type FakeProvider struct {
	mu   sync.Mutex
	seq  int
	refs map[string]string
	// суммы по ключам, чтобы тесты могли проверить "не списали дважды"
	amounts map[string]decimal.Decimal

	FailCharges bool
	FailPayouts bool
	FailRefunds bool
}

func New() *FakeProvider {
	return &FakeProvider{
		refs:    map[string]string{},
		amounts: map[string]decimal.Decimal{},
	}
}

func (f *FakeProvider) Charge(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	if f.FailCharges {
		return "", errors.New("fake provider: charge declined")
	}
	return f.settle("ch", idemKey, amount)
}

func (f *FakeProvider) Payout(ctx context.Context, idemKey string, payeeID uuid.UUID, amount decimal.Decimal) (string, error) {
	if f.FailPayouts {
		return "", errors.New("fake provider: payout rejected")
	}
	return f.settle("po", idemKey, amount)
}

func (f *FakeProvider) Refund(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	if f.FailRefunds {
		return "", errors.New("fake provider: refund rejected")
	}
	return f.settle("rf", idemKey, amount)
}

func (f *FakeProvider) settle(kind, idemKey string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ref, ok := f.refs[idemKey]; ok {
		return ref, nil
	}
	f.seq++
	ref := fmt.Sprintf("fake-%s-%04d", kind, f.seq)
	f.refs[idemKey] = ref
	f.amounts[idemKey] = amount
	return ref, nil
}

// Calls возвращает число реально проведённых операций (дубли не считаются).
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// Amount возвращает сумму, проведённую по ключу идемпотентности.
func (f *FakeProvider) Amount(idemKey string) (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.amounts[idemKey]
	return a, ok
}
