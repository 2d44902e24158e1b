package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"
	"github.com/ferreirogomes/matricula/storage"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSQLiteStore(t *testing.T) services.Store {
	t.Helper()
	db, err := storage.NewDB("sqlite", filepath.Join(t.TempDir(), "registro.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.Store()
}

// stores roda o mesmo teste contra as duas implementações.
func stores(t *testing.T, fn func(t *testing.T, store services.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, storage.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedAsset(t *testing.T, store services.Store, matricula, owner string) models.Asset {
	t.Helper()
	asset := models.Asset{
		ID:           "asset-" + matricula,
		Matricula:    matricula,
		CurrentOwner: owner,
		Latitude:     -23.55,
		Longitude:    -46.63,
		CreatedBy:    owner,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
	require.NoError(t, store.CreateAsset(context.Background(), asset))
	return asset
}

func seedProposal(t *testing.T, store services.Store, id, matricula string, at time.Time) models.Proposal {
	t.Helper()
	p := models.Proposal{
		ID:        id,
		AssetID:   matricula,
		Proposer:  "0xbuyer",
		Owner:     "0xowner",
		Amount:    decimal.RequireFromString("250000.50"),
		Status:    models.ProposalPending,
		CreatedAt: at,
	}
	require.NoError(t, store.CreateProposal(context.Background(), p))
	return p
}

func TestAssetRoundTripAndDuplicate(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		asset := seedAsset(t, store, "M-001", "0xowner")

		got, err := store.GetAsset(ctx, "M-001")
		require.NoError(t, err)
		assert.Equal(t, asset, got)

		err = store.CreateAsset(ctx, asset)
		assert.ErrorIs(t, err, models.ErrConflict)

		_, err = store.GetAsset(ctx, "M-404")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestProposalStatusIsGuarded(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		seedAsset(t, store, "M-001", "0xowner")
		p := seedProposal(t, store, "p-1", "M-001", base)

		got, err := store.GetProposal(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, p.Amount.Equal(got.Amount))
		assert.Equal(t, "250000.5", got.Amount.String())
		assert.False(t, got.Percentage.Valid)

		require.NoError(t, store.UpdateProposalStatus(ctx, p.ID, models.ProposalPending, models.ProposalAccepted, base.Add(time.Minute)))
		err = store.UpdateProposalStatus(ctx, p.ID, models.ProposalPending, models.ProposalRejected, base.Add(2*time.Minute))
		assert.ErrorIs(t, err, models.ErrConflict)

		got, err = store.GetProposal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ProposalAccepted, got.Status)
		require.NotNil(t, got.DecidedAt)
		assert.True(t, got.DecidedAt.Equal(base.Add(time.Minute)))

		err = store.UpdateProposalStatus(ctx, "nope", models.ProposalPending, models.ProposalAccepted, base)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestProposalOrdering(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		seedAsset(t, store, "M-001", "0xowner")
		seedAsset(t, store, "M-002", "0xother")
		seedProposal(t, store, "p-1", "M-001", base)
		seedProposal(t, store, "p-2", "M-002", base.Add(time.Second))
		seedProposal(t, store, "p-3", "M-001", base.Add(2*time.Second))

		byAsset, err := store.ListProposalsByAsset(ctx, "M-001")
		require.NoError(t, err)
		require.Len(t, byAsset, 2)
		assert.Equal(t, "p-1", byAsset[0].ID)
		assert.Equal(t, "p-3", byAsset[1].ID)

		all, err := store.ListProposals(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "p-3", all[0].ID)
		assert.Equal(t, "p-1", all[2].ID)
	})
}

func TestTransferVersionCheck(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		seedAsset(t, store, "M-001", "0xowner")
		seedProposal(t, store, "p-1", "M-001", base)
		transfer := models.Transfer{
			ID:         "t-1",
			ProposalID: "p-1",
			AssetID:    "M-001",
			Owner:      "0xowner",
			Buyer:      "0xbuyer",
			Status:     models.TransferPending,
			CreatedAt:  base,
			UpdatedAt:  base,
		}
		require.NoError(t, store.CreateTransfer(ctx, transfer))
		assert.ErrorIs(t, store.CreateTransfer(ctx, models.Transfer{ID: "t-2", ProposalID: "p-1", AssetID: "M-001", Status: models.TransferPending, CreatedAt: base, UpdatedAt: base}), models.ErrConflict)

		stale, err := store.GetTransferByProposal(ctx, "p-1")
		require.NoError(t, err)

		fresh := stale
		fresh.OwnerSigned = true
		updated, err := store.UpdateTransfer(ctx, fresh)
		require.NoError(t, err)
		assert.Equal(t, stale.Version+1, updated.Version)

		stale.BuyerSigned = true
		_, err = store.UpdateTransfer(ctx, stale)
		assert.ErrorIs(t, err, models.ErrConflict)

		got, err := store.GetTransferByProposal(ctx, "p-1")
		require.NoError(t, err)
		assert.True(t, got.OwnerSigned)
		assert.False(t, got.BuyerSigned)

		list, err := store.ListTransfersByAsset(ctx, "M-001")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestWithinTxRollsBack(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		seedAsset(t, store, "M-001", "0xowner")
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(repo services.Repository) error {
			asset, err := repo.GetAsset(ctx, "M-001")
			require.NoError(t, err)
			asset.CurrentOwner = "0xbuyer"
			require.NoError(t, repo.UpdateAsset(ctx, asset))
			require.NoError(t, repo.CreateAsset(ctx, models.Asset{ID: "x", Matricula: "M-002", CurrentOwner: "0xa", CreatedAt: base, UpdatedAt: base}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		asset, err := store.GetAsset(ctx, "M-001")
		require.NoError(t, err)
		assert.Equal(t, "0xowner", asset.CurrentOwner)
		_, err = store.GetAsset(ctx, "M-002")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestNoncesAndUsers(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateNonce(ctx, models.Nonce{ID: "n-1", Wallet: "0xabc", Value: "deadbeef", CreatedAt: base}))

		n, err := store.GetNonce(ctx, "deadbeef")
		require.NoError(t, err)
		assert.Nil(t, n.ConsumedAt)

		require.NoError(t, store.ConsumeNonce(ctx, "deadbeef", base.Add(time.Second)))
		assert.ErrorIs(t, store.ConsumeNonce(ctx, "deadbeef", base.Add(2*time.Second)), models.ErrConflict)

		n, err = store.GetNonce(ctx, "deadbeef")
		require.NoError(t, err)
		require.NotNil(t, n.ConsumedAt)

		_, err = store.GetUserByWallet(ctx, "0xABC")
		assert.ErrorIs(t, err, models.ErrNotFound)

		u, err := store.SaveUser(ctx, models.User{ID: "u-1", Wallet: "0xABC", Role: models.RoleUser, CreatedAt: base})
		require.NoError(t, err)
		assert.Equal(t, "0xabc", u.Wallet)

		u, err = store.SaveUser(ctx, models.User{ID: "u-2", Wallet: "0xabc", Role: models.RoleRegulator, CreatedAt: base})
		require.NoError(t, err)
		assert.Equal(t, "u-1", u.ID)
		assert.Equal(t, models.RoleRegulator, u.Role)
	})
}

func TestValidationRecords(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		first := models.ValidationRecord{ID: "v-1", TxRef: "0x01", Validators: []string{"a", "b", "c"}, Approvals: 3, Required: 3, Status: models.ValidationValidated, SettlementRef: "pos-1", CreatedAt: base}
		second := models.ValidationRecord{ID: "v-2", TxRef: "0x02", Validators: []string{"a", "b", "c"}, Approvals: 0, Required: 3, Status: models.ValidationRejected, CreatedAt: base.Add(time.Second)}
		require.NoError(t, store.CreateValidationRecord(ctx, first))
		require.NoError(t, store.CreateValidationRecord(ctx, second))

		list, err := store.ListValidationRecords(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second, list[0])
		assert.Equal(t, first, list[1])
	})
}

func TestSameTimestampKeepsInsertionOrder(t *testing.T) {
	stores(t, func(t *testing.T, store services.Store) {
		ctx := context.Background()
		seedAsset(t, store, "M-001", "0xowner")
		inserted := []string{"p-c", "p-a", "p-b"}
		for _, id := range inserted {
			seedProposal(t, store, id, "M-001", base)
			require.NoError(t, store.CreateTransfer(ctx, models.Transfer{
				ID:         "t-" + id,
				ProposalID: id,
				AssetID:    "M-001",
				Owner:      "0xowner",
				Buyer:      "0xbuyer",
				Status:     models.TransferPending,
				CreatedAt:  base,
				UpdatedAt:  base,
			}))
			require.NoError(t, store.CreateValidationRecord(ctx, models.ValidationRecord{
				ID:         "v-" + id,
				TxRef:      "0x" + id,
				Validators: []string{"a"},
				Approvals:  1,
				Required:   1,
				Status:     models.ValidationValidated,
				CreatedAt:  base,
			}))
		}

		byAsset, err := store.ListProposalsByAsset(ctx, "M-001")
		require.NoError(t, err)
		assert.Equal(t, inserted, proposalIDs(byAsset))

		all, err := store.ListProposals(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"p-b", "p-a", "p-c"}, proposalIDs(all))

		transfers, err := store.ListTransfersByAsset(ctx, "M-001")
		require.NoError(t, err)
		require.Len(t, transfers, 3)
		assert.Equal(t, []string{"t-p-c", "t-p-a", "t-p-b"}, []string{transfers[0].ID, transfers[1].ID, transfers[2].ID})

		allTransfers, err := store.ListTransfers(ctx)
		require.NoError(t, err)
		require.Len(t, allTransfers, 3)
		assert.Equal(t, "t-p-b", allTransfers[0].ID)
		assert.Equal(t, "t-p-c", allTransfers[2].ID)

		records, err := store.ListValidationRecords(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []string{"v-p-b", "v-p-a", "v-p-c"}, []string{records[0].ID, records[1].ID, records[2].ID})
	})
}

func TestMigrateDownAndUp(t *testing.T) {
	db, err := storage.NewDB("sqlite", filepath.Join(t.TempDir(), "registro.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	n, err := db.Migrate(migrate.Down)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.Migrate(migrate.Up)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	store := db.Store()
	seedAsset(t, store, "M-001", "0xowner")
	seedProposal(t, store, "p-1", "M-001", base)
}

func proposalIDs(ps []models.Proposal) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}
