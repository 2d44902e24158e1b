package services_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"
	"github.com/ferreirogomes/matricula/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	owner     = models.Identity{Wallet: "0xowner", Role: models.RoleUser}
	buyer     = models.Identity{Wallet: "0xbuyer", Role: models.RoleUser}
	regulator = models.Identity{Wallet: "0xregulator", Role: models.RoleRegulator}
	financial = models.Identity{Wallet: "0xfinancial", Role: models.RoleFinancial}
	outsider  = models.Identity{Wallet: "0xoutsider", Role: models.RoleUser}
)

// MockLedger é um mock do LedgerGateway.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) kinds() []models.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.EventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

// tickingClock avança um segundo a cada leitura, o que deixa a ordem de criação determinística.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	store    services.Store
	ledger   *MockLedger
	notifier *recordingNotifier
	svc      *services.RegistryService
}

func newFixture(t *testing.T, opts ...services.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, storage.NewMemoryStore(), opts...)
}

// newFixtureOn monta o serviço sobre um store específico.
func newFixtureOn(t *testing.T, store services.Store, opts ...services.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    store,
		ledger:   new(MockLedger),
		notifier: &recordingNotifier{},
	}
	opts = append([]services.Option{
		services.WithClock(tickingClock()),
		services.WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	f.svc = services.NewRegistryService(f.store, f.ledger, f.notifier, opts...)
	return f
}

// sqliteStore abre um banco SQLite migrado num diretório temporário.
func sqliteStore(t *testing.T) services.Store {
	t.Helper()
	db, err := storage.NewDB("sqlite", filepath.Join(t.TempDir(), "registro.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Store()
}

func registrationFor(matricula, currentOwner string) any {
	return mock.MatchedBy(func(req models.SettlementRequest) bool {
		return req.AssetID == matricula && req.NewOwner == currentOwner && req.PreviousOwner == ""
	})
}

func (f *fixture) registerAsset(t *testing.T, matricula string, by models.Identity) models.Asset {
	t.Helper()
	f.ledger.On("Settle", mock.Anything, registrationFor(matricula, by.Wallet)).Return("mock-registro-"+matricula, nil).Once()
	asset, err := f.svc.RegisterAsset(context.Background(), by, models.RegisterAssetInput{
		Matricula:    matricula,
		CurrentOwner: by.Wallet,
		Latitude:     -23.5,
		Longitude:    -46.625,
	})
	require.NoError(t, err)
	return asset
}

func (f *fixture) propose(t *testing.T, matricula string, from models.Identity, amount int64) models.Proposal {
	t.Helper()
	p, err := f.svc.CreateProposal(context.Background(), services.CreateProposalInput{
		AssetID:  matricula,
		Proposer: from.Wallet,
		Amount:   decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return p
}

// acceptedProposal registra o imóvel, cria e aceita uma proposta do comprador.
func (f *fixture) acceptedProposal(t *testing.T, matricula string) models.Proposal {
	t.Helper()
	f.registerAsset(t, matricula, owner)
	p := f.propose(t, matricula, buyer, 100_000)
	p, err := f.svc.DecideProposal(context.Background(), p.ID, owner.Wallet, models.DecisionAccept)
	require.NoError(t, err)
	return p
}

// pendingTransfer vai até a transferência aberta.
func (f *fixture) pendingTransfer(t *testing.T, matricula string) models.Transfer {
	t.Helper()
	p := f.acceptedProposal(t, matricula)
	tr, err := f.svc.InitiateTransfer(context.Background(), p.ID, owner.Wallet)
	require.NoError(t, err)
	return tr
}
