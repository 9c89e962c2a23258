package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/KiloMates/ShipBox/internal/models"
)

type repoMock struct {
	mock.Mock
}

func (m *repoMock) GetEscrowByRequest(ctx context.Context, requestID uuid.UUID) (*models.EscrowTransaction, error) {
	args := m.Called(ctx, requestID)
	e, _ := args.Get(0).(*models.EscrowTransaction)
	return e, args.Error(1)
}

func (m *repoMock) CreateEscrow(ctx context.Context, e *models.EscrowTransaction) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *repoMock) SettleEscrow(ctx context.Context, requestID uuid.UUID, from, to string, refunded decimal.Decimal) (bool, error) {
	args := m.Called(ctx, requestID, from, to, refunded)
	return args.Bool(0), args.Error(1)
}

type providerMock struct {
	mock.Mock
}

func (m *providerMock) Charge(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, idemKey, payerID, amount)
	return args.String(0), args.Error(1)
}

func (m *providerMock) Payout(ctx context.Context, idemKey string, payeeID uuid.UUID, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, idemKey, payeeID, amount)
	return args.String(0), args.Error(1)
}

func (m *providerMock) Refund(ctx context.Context, idemKey string, payerID uuid.UUID, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, idemKey, payerID, amount)
	return args.String(0), args.Error(1)
}

type OrchestratorSuite struct {
	suite.Suite

	repo     *repoMock
	provider *providerMock
	orc      *Orchestrator

	req *models.ShipmentRequest
}

func (s *OrchestratorSuite) SetupTest() {
	s.repo = &repoMock{}
	s.provider = &providerMock{}
	s.orc = New(s.repo, s.provider, decimal.NewFromInt(10), RefundPolicyFull)
	s.req = &models.ShipmentRequest{
		ID:         uuid.New(),
		SenderID:   uuid.New(),
		TravelerID: uuid.New(),
		TotalPrice: decimal.RequireFromString("49.99"),
		Status:     models.RequestStatusAccepted,
	}
}

func (s *OrchestratorSuite) captured() *models.EscrowTransaction {
	return &models.EscrowTransaction{
		ID:           uuid.New(),
		RequestID:    s.req.ID,
		ProviderRef:  "ch_1",
		Amount:       s.req.TotalPrice,
		PlatformFee:  decimal.RequireFromString("5.00"),
		PayoutAmount: decimal.RequireFromString("44.99"),
		Status:       models.EscrowStatusCaptured,
	}
}

func (s *OrchestratorSuite) TestAuthorizeAndCapture_OK() {
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).
		Return((*models.EscrowTransaction)(nil), nil).Once()

	s.provider.On("Charge", mock.Anything, "charge:"+s.req.ID.String(), s.req.SenderID,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(s.req.TotalPrice) })).
		Return("ch_1", nil).Once()

	s.repo.On("CreateEscrow", mock.Anything, mock.MatchedBy(func(e *models.EscrowTransaction) bool {
		return e.RequestID == s.req.ID &&
			e.Status == models.EscrowStatusCaptured &&
			e.ProviderRef == "ch_1" &&
			e.PlatformFee.Equal(decimal.RequireFromString("5.00")) &&
			e.PayoutAmount.Equal(decimal.RequireFromString("44.99"))
	})).Return(true, nil).Once()

	e, err := s.orc.AuthorizeAndCapture(context.Background(), s.req)
	s.Require().NoError(err)
	s.Require().True(e.PlatformFee.Add(e.PayoutAmount).Equal(e.Amount))
	s.repo.AssertExpectations(s.T())
	s.provider.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestAuthorizeAndCapture_AlreadyCaptured_NoProviderCall() {
	existing := s.captured()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(existing, nil).Once()

	e, err := s.orc.AuthorizeAndCapture(context.Background(), s.req)
	s.Require().NoError(err)
	s.Require().Equal(existing.ID, e.ID)
	s.provider.AssertNotCalled(s.T(), "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestAuthorizeAndCapture_ProviderDeclines() {
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).
		Return((*models.EscrowTransaction)(nil), nil).Once()
	s.provider.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("card declined")).Once()

	_, err := s.orc.AuthorizeAndCapture(context.Background(), s.req)
	s.Require().ErrorIs(err, ErrPaymentFailed)
	s.repo.AssertNotCalled(s.T(), "CreateEscrow", mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestAuthorizeAndCapture_LostInsertRace_ReturnsWinner() {
	winner := s.captured()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).
		Return((*models.EscrowTransaction)(nil), nil).Once()
	s.provider.On("Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("ch_1", nil).Once()
	s.repo.On("CreateEscrow", mock.Anything, mock.Anything).Return(false, nil).Once()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(winner, nil).Once()

	e, err := s.orc.AuthorizeAndCapture(context.Background(), s.req)
	s.Require().NoError(err)
	s.Require().Equal(winner.ID, e.ID)
	s.repo.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestRelease_OK() {
	e := s.captured()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()
	s.provider.On("Payout", mock.Anything, "payout:"+s.req.ID.String(), s.req.TravelerID,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(e.PayoutAmount) })).
		Return("po_1", nil).Once()
	s.repo.On("SettleEscrow", mock.Anything, s.req.ID,
		models.EscrowStatusCaptured, models.EscrowStatusReleased,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.IsZero() })).
		Return(true, nil).Once()

	s.Require().NoError(s.orc.Release(context.Background(), s.req))
	s.repo.AssertExpectations(s.T())
	s.provider.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestRelease_AlreadyReleased_NoOp() {
	e := s.captured()
	e.Status = models.EscrowStatusReleased
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()

	s.Require().NoError(s.orc.Release(context.Background(), s.req))
	s.provider.AssertNotCalled(s.T(), "Payout", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestRelease_NoEscrow() {
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).
		Return((*models.EscrowTransaction)(nil), nil).Once()
	s.Require().ErrorIs(s.orc.Release(context.Background(), s.req), ErrNotCaptured)
}

func (s *OrchestratorSuite) TestRelease_ProviderFails() {
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(s.captured(), nil).Once()
	s.provider.On("Payout", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("gateway timeout")).Once()

	s.Require().ErrorIs(s.orc.Release(context.Background(), s.req), ErrPayoutFailed)
	s.repo.AssertNotCalled(s.T(), "SettleEscrow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestRelease_LostSettleRace_Benign() {
	e := s.captured()
	released := s.captured()
	released.Status = models.EscrowStatusReleased

	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()
	s.provider.On("Payout", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("po_1", nil).Once()
	s.repo.On("SettleEscrow", mock.Anything, s.req.ID,
		models.EscrowStatusCaptured, models.EscrowStatusReleased, mock.Anything).
		Return(false, nil).Once()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(released, nil).Once()

	s.Require().NoError(s.orc.Release(context.Background(), s.req))
}

func (s *OrchestratorSuite) TestRefund_FullPolicy() {
	e := s.captured()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()
	s.provider.On("Refund", mock.Anything, "refund:"+s.req.ID.String(), s.req.SenderID,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(e.Amount) })).
		Return("rf_1", nil).Once()
	s.repo.On("SettleEscrow", mock.Anything, s.req.ID,
		models.EscrowStatusCaptured, models.EscrowStatusRefunded,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(e.Amount) })).
		Return(true, nil).Once()

	s.Require().NoError(s.orc.Refund(context.Background(), s.req))
	s.provider.AssertExpectations(s.T())
}

func (s *OrchestratorSuite) TestRefund_NetOfFeePolicy() {
	orc := New(s.repo, s.provider, decimal.NewFromInt(10), RefundPolicyNetOfFee)
	e := s.captured()
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()
	s.provider.On("Refund", mock.Anything, mock.Anything, s.req.SenderID,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(e.PayoutAmount) })).
		Return("rf_1", nil).Once()
	s.repo.On("SettleEscrow", mock.Anything, s.req.ID,
		models.EscrowStatusCaptured, models.EscrowStatusRefunded,
		mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(e.PayoutAmount) })).
		Return(true, nil).Once()

	s.Require().NoError(orc.Refund(context.Background(), s.req))
}

func (s *OrchestratorSuite) TestRefund_AlreadyRefunded_NoOp() {
	e := s.captured()
	e.Status = models.EscrowStatusRefunded
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()

	s.Require().NoError(s.orc.Refund(context.Background(), s.req))
	s.provider.AssertNotCalled(s.T(), "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestRefundIfCaptured_NoEscrow_NoOp() {
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).
		Return((*models.EscrowTransaction)(nil), nil).Once()
	s.Require().NoError(s.orc.RefundIfCaptured(context.Background(), s.req))
	s.provider.AssertNotCalled(s.T(), "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *OrchestratorSuite) TestRefundIfCaptured_Released_Error() {
	e := s.captured()
	e.Status = models.EscrowStatusReleased
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Once()
	s.Require().ErrorIs(s.orc.RefundIfCaptured(context.Background(), s.req), ErrNotCaptured)
}

func (s *OrchestratorSuite) TestRefundIfCaptured_Captured_Refunds() {
	e := s.captured()
	// RefundIfCaptured перечитывает эскроу внутри Refund
	s.repo.On("GetEscrowByRequest", mock.Anything, s.req.ID).Return(e, nil).Twice()
	s.provider.On("Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("rf_1", nil).Once()
	s.repo.On("SettleEscrow", mock.Anything, s.req.ID,
		models.EscrowStatusCaptured, models.EscrowStatusRefunded, mock.Anything).
		Return(true, nil).Once()

	s.Require().NoError(s.orc.RefundIfCaptured(context.Background(), s.req))
	s.provider.AssertExpectations(s.T())
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}
