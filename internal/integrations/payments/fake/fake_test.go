package fake

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/KiloMates/ShipBox/internal/integrations/payments"
)

func TestFakeProvider_Idempotency(t *testing.T) {
	ctx := context.Background()
	f := New()

	id := uuid.New()
	payer := uuid.New()
	key := payments.IdempotencyKey(id, payments.OpCharge)
	amount := decimal.RequireFromString("49.99")

	ref1, err := f.Charge(ctx, key, payer, amount)
	require.NoError(t, err)

	// повтор с тем же ключом: тот же reference, денег второй раз не двигаем
	ref2, err := f.Charge(ctx, key, payer, amount)
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)
	require.Equal(t, 1, f.Calls())

	got, ok := f.Amount(key)
	require.True(t, ok)
	require.True(t, got.Equal(amount))

	// другой ключ — другая операция
	ref3, err := f.Payout(ctx, payments.IdempotencyKey(id, payments.OpPayout), payer, amount)
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref3)
	require.Equal(t, 2, f.Calls())
}

func TestFakeProvider_FailFlags(t *testing.T) {
	ctx := context.Background()
	payer := uuid.New()
	amount := decimal.NewFromInt(10)

	f := New()
	f.FailCharges = true
	_, err := f.Charge(ctx, "k1", payer, amount)
	require.Error(t, err)
	require.Equal(t, 0, f.Calls())

	f.FailCharges = false
	f.FailPayouts = true
	_, err = f.Payout(ctx, "k2", payer, amount)
	require.Error(t, err)

	f.FailPayouts = false
	f.FailRefunds = true
	_, err = f.Refund(ctx, "k3", payer, amount)
	require.Error(t, err)
}
