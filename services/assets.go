package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ferreirogomes/matricula/models"

	"go.uber.org/zap"
)

// RegisterAsset cadastra um imóvel e ancora o registro no ledger.
func (s *RegistryService) RegisterAsset(ctx context.Context, creator models.Identity, in models.RegisterAssetInput) (asset models.Asset, err error) {
	defer func() { s.metrics.observe("register_asset", err) }()

	matricula := strings.TrimSpace(in.Matricula)
	owner := models.CanonicalWallet(in.CurrentOwner)
	switch {
	case len(matricula) < 3 || len(matricula) > 128:
		return models.Asset{}, fmt.Errorf("%w: matrícula deve ter entre 3 e 128 caracteres", models.ErrValidation)
	case len(owner) < 3:
		return models.Asset{}, fmt.Errorf("%w: proprietário atual ausente", models.ErrValidation)
	case in.Latitude < -90 || in.Latitude > 90:
		return models.Asset{}, fmt.Errorf("%w: latitude fora de [-90, 90]", models.ErrValidation)
	case in.Longitude < -180 || in.Longitude > 180:
		return models.Asset{}, fmt.Errorf("%w: longitude fora de [-180, 180]", models.ErrValidation)
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		_, err := repo.GetAsset(ctx, matricula)
		if err == nil {
			return fmt.Errorf("%w: matrícula %q já registrada", models.ErrConflict, matricula)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		previous := models.CanonicalWallet(in.PreviousOwner)
		ref, err := s.settle(ctx, models.SettlementRequest{
			AssetID:       matricula,
			PreviousOwner: previous,
			NewOwner:      owner,
			Latitude:      in.Latitude,
			Longitude:     in.Longitude,
		})
		if err != nil {
			return err
		}

		now := s.now()
		asset = models.Asset{
			ID:            newID(),
			Matricula:     matricula,
			PreviousOwner: previous,
			CurrentOwner:  owner,
			Latitude:      in.Latitude,
			Longitude:     in.Longitude,
			SettlementRef: ref,
			CreatedBy:     models.CanonicalWallet(creator.Wallet),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return repo.CreateAsset(ctx, asset)
	})
	if err != nil {
		return models.Asset{}, err
	}

	s.log.Info("imóvel registrado", zap.String("matricula", asset.Matricula), zap.String("tx_hash", asset.SettlementRef))
	return asset, nil
}

func (s *RegistryService) GetAsset(ctx context.Context, matricula string) (models.Asset, error) {
	asset, err := s.store.GetAsset(ctx, strings.TrimSpace(matricula))
	if err != nil {
		return models.Asset{}, fmt.Errorf("imóvel %q: %w", matricula, err)
	}
	return asset, nil
}
