package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"
	"github.com/ferreirogomes/matricula/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestFullTransferFlow percorre proposta, aceite, quatro assinaturas, liquidação e auditoria.
func TestFullTransferFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	asset := f.registerAsset(t, "M-001", owner)
	assert.Equal(t, "mock-registro-M-001", asset.SettlementRef)
	assert.Equal(t, "0xowner", asset.CurrentOwner)

	proposal := f.propose(t, "M-001", buyer, 250_000)
	assert.Equal(t, models.ProposalPending, proposal.Status)
	assert.Equal(t, "0xowner", proposal.Owner)

	proposal, err := f.svc.DecideProposal(ctx, proposal.ID, owner.Wallet, models.DecisionAccept)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalAccepted, proposal.Status)
	require.NotNil(t, proposal.DecidedAt)

	transfer, err := f.svc.InitiateTransfer(ctx, proposal.ID, owner.Wallet)
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, transfer.Status)
	assert.Equal(t, "0xbuyer", transfer.Buyer)
	assert.False(t, transfer.OwnerSigned || transfer.BuyerSigned || transfer.RegulatorSigned || transfer.FinancialSigned)

	for _, signer := range []models.Identity{owner, buyer, regulator} {
		transfer, err = f.svc.ApplySignature(ctx, proposal.ID, signer, models.ActionSign)
		require.NoError(t, err)
		assert.Equal(t, models.TransferPending, transfer.Status)
	}
	assert.True(t, transfer.OwnerSigned && transfer.BuyerSigned && transfer.RegulatorSigned)
	assert.False(t, transfer.FinancialSigned)

	f.ledger.On("Settle", mock.Anything, models.SettlementRequest{
		AssetID:       "M-001",
		PreviousOwner: "0xowner",
		NewOwner:      "0xbuyer",
		Latitude:      -23.5,
		Longitude:     -46.625,
	}).Return("0xsettled", nil).Once()

	transfer, err = f.svc.ApplySignature(ctx, proposal.ID, financial, models.ActionSign)
	require.NoError(t, err)
	assert.Equal(t, models.TransferExecuted, transfer.Status)
	assert.Equal(t, "0xsettled", transfer.SettlementRef)
	assert.True(t, transfer.FullySigned())
	f.ledger.AssertExpectations(t)

	asset, err = f.svc.GetAsset(ctx, "M-001")
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", asset.CurrentOwner)
	assert.Equal(t, "0xowner", asset.PreviousOwner)
	assert.Equal(t, "0xsettled", asset.SettlementRef)

	_, err = f.svc.ApplySignature(ctx, proposal.ID, financial, models.ActionSign)
	assert.ErrorIs(t, err, models.ErrConflict)

	history, err := f.svc.AssetHistory(ctx, "M-001", regulator.Role)
	require.NoError(t, err)
	assert.Equal(t, asset, history.Asset)
	require.Len(t, history.Proposals, 1)
	require.Len(t, history.Transfers, 1)
	assert.Equal(t, models.TransferExecuted, history.Transfers[0].Status)

	assert.Equal(t, []models.EventKind{
		models.EventProposalCreated,
		models.EventProposalDecided,
		models.EventTransferInitiated,
		models.EventTransferSigned,
		models.EventTransferSigned,
		models.EventTransferSigned,
		models.EventTransferExecuted,
		models.EventTransferExecuted,
	}, f.notifier.kinds())
}

func TestRegisterAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerAsset(t, "M-001", owner)

	_, err := f.svc.RegisterAsset(ctx, owner, models.RegisterAssetInput{Matricula: "M-001", CurrentOwner: "0xother", Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.RegisterAsset(ctx, owner, models.RegisterAssetInput{Matricula: "M", CurrentOwner: "0xowner"})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.RegisterAsset(ctx, owner, models.RegisterAssetInput{Matricula: "M-002", CurrentOwner: "0xowner", Latitude: 91})
	assert.ErrorIs(t, err, models.ErrValidation)

	f.ledger.On("Settle", mock.Anything, registrationFor("M-003", "0xowner")).Return("", errors.New("rpc down")).Once()
	_, err = f.svc.RegisterAsset(ctx, owner, models.RegisterAssetInput{Matricula: "M-003", CurrentOwner: "0xowner"})
	assert.ErrorIs(t, err, models.ErrServiceFailure)
	_, err = f.svc.GetAsset(ctx, "M-003")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerAsset(t, "M-001", owner)

	_, err := f.svc.CreateProposal(ctx, services.CreateProposalInput{AssetID: "M-404", Proposer: buyer.Wallet, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.CreateProposal(ctx, services.CreateProposalInput{AssetID: "M-001", Proposer: buyer.Wallet, Amount: decimal.Zero})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.CreateProposal(ctx, services.CreateProposalInput{
		AssetID:    "M-001",
		Proposer:   buyer.Wallet,
		Amount:     decimal.NewFromInt(10),
		Percentage: decimal.NewNullDecimal(decimal.NewFromInt(150)),
	})
	assert.ErrorIs(t, err, models.ErrValidation)

	p, err := f.svc.CreateProposal(ctx, services.CreateProposalInput{
		AssetID:    "M-001",
		Proposer:   "0xBUYER",
		Amount:     decimal.RequireFromString("1000.25"),
		Percentage: decimal.NewNullDecimal(decimal.NewFromInt(25)),
		Note:       "  metade do terreno ",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xbuyer", p.Proposer)
	assert.Equal(t, "metade do terreno", p.Note)
	assert.True(t, p.Percentage.Valid)
	assert.Equal(t, []models.EventKind{models.EventProposalCreated}, f.notifier.kinds())
	assert.Equal(t, "0xowner", f.notifier.events[0].Recipient)
}

func TestDecideProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerAsset(t, "M-001", owner)
	p := f.propose(t, "M-001", buyer, 10)

	_, err := f.svc.DecideProposal(ctx, p.ID, buyer.Wallet, models.DecisionAccept)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.DecideProposal(ctx, p.ID, owner.Wallet, models.Decision("MAYBE"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.DecideProposal(ctx, "nope", owner.Wallet, models.DecisionAccept)
	assert.ErrorIs(t, err, models.ErrNotFound)

	decided, err := f.svc.DecideProposal(ctx, p.ID, "0xOWNER", models.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, decided.Status)

	_, err = f.svc.DecideProposal(ctx, p.ID, owner.Wallet, models.DecisionAccept)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.InitiateTransfer(ctx, p.ID, owner.Wallet)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestInitiateTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerAsset(t, "M-001", owner)
	p := f.propose(t, "M-001", buyer, 10)

	_, err := f.svc.InitiateTransfer(ctx, "nope", owner.Wallet)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.InitiateTransfer(ctx, p.ID, owner.Wallet)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.DecideProposal(ctx, p.ID, owner.Wallet, models.DecisionAccept)
	require.NoError(t, err)

	_, err = f.svc.InitiateTransfer(ctx, p.ID, buyer.Wallet)
	assert.ErrorIs(t, err, models.ErrForbidden)

	first, err := f.svc.InitiateTransfer(ctx, p.ID, owner.Wallet)
	require.NoError(t, err)
	second, err := f.svc.InitiateTransfer(ctx, p.ID, owner.Wallet)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	transfers, err := f.svc.AllTransfers(ctx, models.RoleRegulator)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	initiated := 0
	for _, k := range f.notifier.kinds() {
		if k == models.EventTransferInitiated {
			initiated++
		}
	}
	assert.Equal(t, 1, initiated)
}

func TestApplySignatureSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.pendingTransfer(t, "M-001")

	_, err := f.svc.ApplySignature(ctx, "nope", owner, models.ActionSign)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.ApplySignature(ctx, tr.ProposalID, outsider, models.ActionSign)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.ApplySignature(ctx, tr.ProposalID, owner, models.SignatureAction("MAYBE"))
	assert.ErrorIs(t, err, models.ErrValidation)

	// O proprietário com papel de regulador ocupa o slot de proprietário.
	ownerAsRegulator := models.Identity{Wallet: owner.Wallet, Role: models.RoleRegulator}
	got, err := f.svc.ApplySignature(ctx, tr.ProposalID, ownerAsRegulator, models.ActionSign)
	require.NoError(t, err)
	assert.True(t, got.OwnerSigned)
	assert.False(t, got.RegulatorSigned)

	// Assinar de novo não muda nada.
	again, err := f.svc.ApplySignature(ctx, tr.ProposalID, owner, models.ActionSign)
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, again.Status)
	assert.True(t, again.OwnerSigned)
	assert.False(t, again.BuyerSigned)
}

func TestRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.pendingTransfer(t, "M-001")

	_, err := f.svc.ApplySignature(ctx, tr.ProposalID, owner, models.ActionSign)
	require.NoError(t, err)

	rejected, err := f.svc.ApplySignature(ctx, tr.ProposalID, regulator, models.ActionReject)
	require.NoError(t, err)
	assert.Equal(t, models.TransferRejected, rejected.Status)
	assert.True(t, rejected.OwnerSigned)
	assert.False(t, rejected.RegulatorSigned)

	for _, signer := range []models.Identity{buyer, financial, owner} {
		_, err = f.svc.ApplySignature(ctx, tr.ProposalID, signer, models.ActionSign)
		assert.ErrorIs(t, err, models.ErrConflict)
	}
	f.ledger.AssertNumberOfCalls(t, "Settle", 1) // só o registro do imóvel
}

func TestSettlementFailureKeepsTransferPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.pendingTransfer(t, "M-001")

	for _, signer := range []models.Identity{owner, buyer, regulator} {
		_, err := f.svc.ApplySignature(ctx, tr.ProposalID, signer, models.ActionSign)
		require.NoError(t, err)
	}

	f.ledger.On("Settle", mock.Anything, mock.MatchedBy(func(req models.SettlementRequest) bool {
		return req.NewOwner == "0xbuyer"
	})).Return("", errors.New("nonce too low")).Once()

	_, err := f.svc.ApplySignature(ctx, tr.ProposalID, financial, models.ActionSign)
	assert.ErrorIs(t, err, models.ErrServiceFailure)

	stored, err := f.store.GetTransferByProposal(ctx, tr.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, stored.Status)
	assert.False(t, stored.FinancialSigned)
	assert.Empty(t, stored.SettlementRef)

	asset, err := f.svc.GetAsset(ctx, "M-001")
	require.NoError(t, err)
	assert.Equal(t, "0xowner", asset.CurrentOwner)

	// Nova tentativa com o ledger de volta conclui a transferência.
	f.ledger.On("Settle", mock.Anything, mock.MatchedBy(func(req models.SettlementRequest) bool {
		return req.NewOwner == "0xbuyer"
	})).Return("0xretry", nil).Once()

	done, err := f.svc.ApplySignature(ctx, tr.ProposalID, financial, models.ActionSign)
	require.NoError(t, err)
	assert.Equal(t, models.TransferExecuted, done.Status)
	assert.Equal(t, "0xretry", done.SettlementRef)
}

func TestSettlementTimeoutIsServiceFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.WithSettlementTimeout(20*time.Millisecond))
	tr := f.pendingTransfer(t, "M-001")
	for _, signer := range []models.Identity{owner, buyer, regulator} {
		_, err := f.svc.ApplySignature(ctx, tr.ProposalID, signer, models.ActionSign)
		require.NoError(t, err)
	}

	f.ledger.On("Settle", mock.Anything, mock.MatchedBy(func(req models.SettlementRequest) bool {
		return req.NewOwner == "0xbuyer"
	})).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return("", context.DeadlineExceeded).Once()

	_, err := f.svc.ApplySignature(ctx, tr.ProposalID, financial, models.ActionSign)
	assert.ErrorIs(t, err, models.ErrServiceFailure)
}

// staleLookupStore esconde da transação a transferência já gravada, como quando duas
// chamadas concorrentes fazem a leitura antes de qualquer inserção.
type staleLookupStore struct {
	services.Store
}

func (s staleLookupStore) WithinTx(ctx context.Context, fn func(repo services.Repository) error) error {
	return s.Store.WithinTx(ctx, func(repo services.Repository) error {
		return fn(staleLookupRepo{repo})
	})
}

type staleLookupRepo struct {
	services.Repository
}

func (staleLookupRepo) GetTransferByProposal(context.Context, string) (models.Transfer, error) {
	return models.Transfer{}, models.ErrNotFound
}

func backends() map[string]func(t *testing.T) services.Store {
	return map[string]func(t *testing.T) services.Store{
		"memory": func(*testing.T) services.Store { return storage.NewMemoryStore() },
		"sqlite": sqliteStore,
	}
}

func TestInitiateTransferAfterConcurrentInsert(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixtureOn(t, open(t))
			first := f.pendingTransfer(t, "M-001")

			racing := services.NewRegistryService(staleLookupStore{f.store}, f.ledger, f.notifier,
				services.WithLogger(zaptest.NewLogger(t)))
			again, err := racing.InitiateTransfer(ctx, first.ProposalID, owner.Wallet)
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
			assert.Equal(t, models.TransferPending, again.Status)

			initiated := 0
			for _, k := range f.notifier.kinds() {
				if k == models.EventTransferInitiated {
					initiated++
				}
			}
			assert.Equal(t, 1, initiated)
		})
	}
}

func TestConcurrentFinalSignaturesSettleOnce(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixtureOn(t, open(t))
			tr := f.pendingTransfer(t, "M-001")
			for _, signer := range []models.Identity{owner, buyer, regulator} {
				_, err := f.svc.ApplySignature(ctx, tr.ProposalID, signer, models.ActionSign)
				require.NoError(t, err)
			}

			f.ledger.On("Settle", mock.Anything, mock.MatchedBy(func(req models.SettlementRequest) bool {
				return req.NewOwner == "0xbuyer"
			})).Return("0xsettled", nil).Once()

			const callers = 8
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.svc.ApplySignature(ctx, tr.ProposalID, financial, models.ActionSign)
				}()
			}
			wg.Wait()

			ok, conflicts := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, models.ErrConflict):
					conflicts++
				default:
					t.Errorf("erro inesperado: %v", err)
				}
			}
			assert.Equal(t, 1, ok)
			assert.Equal(t, callers-1, conflicts)
			// Registro do imóvel e uma única liquidação.
			f.ledger.AssertNumberOfCalls(t, "Settle", 2)

			asset, err := f.svc.GetAsset(ctx, "M-001")
			require.NoError(t, err)
			assert.Equal(t, "0xbuyer", asset.CurrentOwner)
			assert.Equal(t, "0xsettled", asset.SettlementRef)
		})
	}
}
