package pgshipping

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/KiloMates/ShipBox/internal/models"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "shipbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/shipbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func createPair(t *testing.T, st *Storage, availableKg, weightKg int64) (*models.Listing, *models.ShipmentRequest) {
	t.Helper()
	ctx := context.Background()

	l, err := st.CreateListing(ctx, models.ListingCreateInput{
		TravelerID:  uuid.New(),
		RouteFrom:   "Moscow",
		RouteTo:     "Berlin",
		DepartureAt: time.Now().Add(48 * time.Hour).UTC(),
		AvailableKg: decimal.NewFromInt(availableKg),
		PricePerKg:  decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.True(t, l.RemainingKg.Equal(l.AvailableKg))

	r, err := st.CreateRequest(ctx, models.RequestCreateInput{
		SenderID:    uuid.New(),
		ListingID:   l.ID,
		WeightKg:    decimal.NewFromInt(weightKg),
		Description: "books",
	}, l.TravelerID, decimal.NewFromInt(10*weightKg))
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, r.Status)
	return l, r
}

func TestPGShipping_RequestLifecycle(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	l, r := createPair(t, st, 20, 5)

	// accept резервирует ёмкость
	ok, err := st.AcceptRequest(ctx, r.ID, l.ID, r.WeightKg)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetListingByID(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingKg.Equal(decimal.NewFromInt(15)))

	// повторный accept проигрывает CAS
	ok, err = st.AcceptRequest(ctx, r.ID, l.ID, r.WeightKg)
	require.NoError(t, err)
	require.False(t, ok)

	// оплата выдаёт код ровно один раз
	ok, err = st.MarkRequestPaid(ctx, r.ID, "123456", decimal.NewFromInt(5), decimal.NewFromInt(45))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.MarkRequestPaid(ctx, r.ID, "654321", decimal.NewFromInt(5), decimal.NewFromInt(45))
	require.NoError(t, err)
	require.False(t, ok)

	cur, err := st.GetRequestByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPaid, cur.Status)
	require.NotNil(t, cur.ConfirmationCode)
	require.Equal(t, "123456", *cur.ConfirmationCode)
	require.True(t, cur.PlatformFee.Equal(decimal.NewFromInt(5)))

	// paid -> delivered -> confirmed
	ok, err = st.UpdateRequestStatus(ctx, r.ID, models.RequestStatusPaid, models.RequestStatusDelivered)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.UpdateRequestStatus(ctx, r.ID, models.RequestStatusDelivered, models.RequestStatusConfirmed)
	require.NoError(t, err)
	require.True(t, ok)

	// из терминального статуса не уйти
	ok, err = st.UpdateRequestStatus(ctx, r.ID, models.RequestStatusConfirmed, models.RequestStatusPaid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPGShipping_AcceptInsufficientCapacity(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	l, r := createPair(t, st, 3, 5)
	_, err := st.AcceptRequest(ctx, r.ID, l.ID, r.WeightKg)
	require.ErrorIs(t, err, ErrInsufficientCapacity)

	// заявка осталась в pending, ёмкость не тронута
	cur, err := st.GetRequestByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, cur.Status)

	got, err := st.GetListingByID(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingKg.Equal(decimal.NewFromInt(3)))
}

func TestPGShipping_ConcurrentAccept_OneWinner(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	// две заявки по 6 кг на листинг с 10 кг: примется ровно одна
	l, _ := createPair(t, st, 10, 6)
	sender := uuid.New()
	r1, err := st.CreateRequest(ctx, models.RequestCreateInput{
		SenderID: sender, ListingID: l.ID,
		WeightKg: decimal.NewFromInt(6), Description: "a",
	}, l.TravelerID, decimal.NewFromInt(60))
	require.NoError(t, err)
	r2, err := st.CreateRequest(ctx, models.RequestCreateInput{
		SenderID: sender, ListingID: l.ID,
		WeightKg: decimal.NewFromInt(6), Description: "b",
	}, l.TravelerID, decimal.NewFromInt(60))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	oks := make([]bool, 2)
	for i, id := range []uuid.UUID{r1.ID, r2.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			oks[i], results[i] = st.AcceptRequest(ctx, id, l.ID, decimal.NewFromInt(6))
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		if results[i] == nil && oks[i] {
			winners++
		} else if results[i] != nil {
			require.ErrorIs(t, results[i], ErrInsufficientCapacity)
		}
	}
	require.Equal(t, 1, winners)

	got, err := st.GetListingByID(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingKg.Equal(decimal.NewFromInt(4)), "remaining=%s", got.RemainingKg)
}

func TestPGShipping_CancelRestoresCapacity(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	l, r := createPair(t, st, 10, 4)
	ok, err := st.AcceptRequest(ctx, r.ID, l.ID, r.WeightKg)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.CancelRequest(ctx, r.ID, l.ID, models.RequestStatusAccepted, r.WeightKg)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetListingByID(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingKg.Equal(decimal.NewFromInt(10)))

	// повторная отмена — проигрыш CAS
	ok, err = st.CancelRequest(ctx, r.ID, l.ID, models.RequestStatusAccepted, r.WeightKg)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPGShipping_EscrowOnePerRequest(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	_, r := createPair(t, st, 10, 5)

	e := &models.EscrowTransaction{
		ID:           uuid.New(),
		RequestID:    r.ID,
		ProviderRef:  "ch_1",
		Amount:       decimal.NewFromInt(50),
		PlatformFee:  decimal.NewFromInt(5),
		PayoutAmount: decimal.NewFromInt(45),
		Status:       models.EscrowStatusCaptured,
	}
	created, err := st.CreateEscrow(ctx, e)
	require.NoError(t, err)
	require.True(t, created)

	dup := *e
	dup.ID = uuid.New()
	created, err = st.CreateEscrow(ctx, &dup)
	require.NoError(t, err)
	require.False(t, created)

	got, err := st.GetEscrowByRequest(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, e.ID, got.ID)
	require.True(t, got.Amount.Equal(e.Amount))

	// settle captured -> released; повтор проигрывает
	ok, err := st.SettleEscrow(ctx, r.ID, models.EscrowStatusCaptured, models.EscrowStatusReleased, decimal.Zero)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.SettleEscrow(ctx, r.ID, models.EscrowStatusCaptured, models.EscrowStatusReleased, decimal.Zero)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPGShipping_DisputeOncePerRequest(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	l, r := createPair(t, st, 10, 5)
	ok, err := st.AcceptRequest(ctx, r.ID, l.ID, r.WeightKg)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.MarkRequestPaid(ctx, r.ID, "111111", decimal.NewFromInt(5), decimal.NewFromInt(45))
	require.NoError(t, err)
	require.True(t, ok)

	raisedBy := uuid.New()
	created, frozen, err := st.OpenDispute(ctx, r.ID, raisedBy, "damaged", models.RequestStatusPaid)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, frozen)

	// второй спор не создаётся
	created, _, err = st.OpenDispute(ctx, r.ID, uuid.New(), "me too", models.RequestStatusPaid)
	require.NoError(t, err)
	require.False(t, created)

	cur, err := st.GetRequestByID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusDisputed, cur.Status)

	// резолюция ровно одна
	admin := uuid.New()
	ok, err = st.ResolveDispute(ctx, r.ID, admin, models.DisputeResolutionRefund, models.RequestStatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.ResolveDispute(ctx, r.ID, admin, models.DisputeResolutionRelease, models.RequestStatusConfirmed)
	require.NoError(t, err)
	require.False(t, ok)

	d, err := st.GetDisputeByRequest(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Resolution)
	require.Equal(t, models.DisputeResolutionRefund, *d.Resolution)
	require.NotNil(t, d.ResolvedAt)
}

func TestPGShipping_ReviewUniquePerReviewer(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	_, r := createPair(t, st, 10, 5)
	reviewer := uuid.New()

	created, err := st.CreateReview(ctx, &models.Review{
		ID:         uuid.New(),
		RequestID:  r.ID,
		ReviewerID: reviewer,
		RevieweeID: r.TravelerID,
		Rating:     5,
		Comment:    "great",
	})
	require.NoError(t, err)
	require.True(t, created)

	created, err = st.CreateReview(ctx, &models.Review{
		ID:         uuid.New(),
		RequestID:  r.ID,
		ReviewerID: reviewer,
		RevieweeID: r.TravelerID,
		Rating:     1,
	})
	require.NoError(t, err)
	require.False(t, created)

	revs, err := st.ListReviewsByRequest(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.Equal(t, int32(5), revs[0].Rating)
}

func TestPGShipping_ClaimStalePending(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	_, stale := createPair(t, st, 10, 2)
	_, fresh := createPair(t, st, 10, 2)

	// состариваем одну заявку
	_, err := st.db.Exec(ctx, `UPDATE shipment_requests SET created_at = now() - interval '100 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	picked, err := st.ClaimStalePendingRequests(ctx, time.Now().UTC().Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, picked, 1)
	require.Equal(t, stale.ID, picked[0].ID)
	require.Equal(t, models.RequestStatusCancelled, picked[0].Status)

	cur, err := st.GetRequestByID(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, cur.Status)

	// повторный заход ничего не находит
	picked, err = st.ClaimStalePendingRequests(ctx, time.Now().UTC().Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, picked)
}
