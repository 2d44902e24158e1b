package services

import (
	"context"
	"fmt"

	"github.com/ferreirogomes/matricula/models"
)

// AssetHistory é o estado atual do imóvel com propostas e transferências em ordem de criação.
type AssetHistory struct {
	Asset     models.Asset      `json:"property"`
	Proposals []models.Proposal `json:"proposals"`
	Transfers []models.Transfer `json:"transfers"`
}

func requireAuditor(role models.Role) error {
	if !role.CanAudit() {
		return fmt.Errorf("%w: auditoria restrita ao regulador", models.ErrForbidden)
	}
	return nil
}

func (s *RegistryService) AssetHistory(ctx context.Context, assetID string, role models.Role) (history AssetHistory, err error) {
	defer func() { s.metrics.observe("audit_asset", err) }()

	if err := requireAuditor(role); err != nil {
		return AssetHistory{}, err
	}
	asset, err := s.store.GetAsset(ctx, assetID)
	if err != nil {
		return AssetHistory{}, fmt.Errorf("imóvel %q: %w", assetID, err)
	}
	proposals, err := s.store.ListProposalsByAsset(ctx, asset.Matricula)
	if err != nil {
		return AssetHistory{}, err
	}
	transfers, err := s.store.ListTransfersByAsset(ctx, asset.Matricula)
	if err != nil {
		return AssetHistory{}, err
	}
	return AssetHistory{Asset: asset, Proposals: proposals, Transfers: transfers}, nil
}

// AllTransfers lista todas as transferências, da mais recente para a mais antiga.
func (s *RegistryService) AllTransfers(ctx context.Context, role models.Role) (transfers []models.Transfer, err error) {
	defer func() { s.metrics.observe("audit_transfers", err) }()

	if err := requireAuditor(role); err != nil {
		return nil, err
	}
	return s.store.ListTransfers(ctx)
}

func (s *RegistryService) AllProposals(ctx context.Context, role models.Role) (proposals []models.Proposal, err error) {
	defer func() { s.metrics.observe("audit_proposals", err) }()

	if err := requireAuditor(role); err != nil {
		return nil, err
	}
	return s.store.ListProposals(ctx)
}

func (s *RegistryService) ValidationLog(ctx context.Context, role models.Role) (records []models.ValidationRecord, err error) {
	defer func() { s.metrics.observe("audit_validations", err) }()

	if err := requireAuditor(role); err != nil {
		return nil, err
	}
	return s.store.ListValidationRecords(ctx)
}
