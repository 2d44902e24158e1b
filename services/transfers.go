package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferreirogomes/matricula/models"

	"go.uber.org/zap"
)

// InitiateTransfer abre a transferência de uma proposta aceita. Chamadas repetidas devolvem a mesma transferência.
func (s *RegistryService) InitiateTransfer(ctx context.Context, proposalID, caller string) (transfer models.Transfer, err error) {
	defer func() { s.metrics.observe("initiate_transfer", err) }()

	created := false
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		p, err := repo.GetProposal(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("proposta %q: %w", proposalID, err)
		}
		if p.Status != models.ProposalAccepted {
			return fmt.Errorf("%w: proposta está %s, esperado %s", models.ErrConflict, p.Status, models.ProposalAccepted)
		}
		if !models.SameWallet(caller, p.Owner) {
			return fmt.Errorf("%w: apenas o proprietário inicia a transferência", models.ErrForbidden)
		}

		existing, err := repo.GetTransferByProposal(ctx, p.ID)
		if err == nil {
			transfer = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		now := s.now()
		transfer = models.Transfer{
			ID:         newID(),
			ProposalID: p.ID,
			AssetID:    p.AssetID,
			Owner:      p.Owner,
			Buyer:      p.Proposer,
			Status:     models.TransferPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		created = true
		return repo.CreateTransfer(ctx, transfer)
	})
	if created && errors.Is(err, models.ErrConflict) {
		// Outra chamada criou a transferência entre a leitura e a inserção.
		existing, getErr := s.store.GetTransferByProposal(ctx, proposalID)
		if getErr == nil {
			transfer, created, err = existing, false, nil
		}
	}
	if err != nil {
		return models.Transfer{}, err
	}

	if created {
		s.log.Info("transferência iniciada", zap.String("transfer_id", transfer.ID), zap.String("proposal_id", proposalID))
		s.notify(ctx, models.EventTransferInitiated, transfer.Buyer, transferPayload(transfer))
	}
	return transfer, nil
}

// ApplySignature registra a assinatura (ou rejeição) de um dos quatro signatários. Quando a
// quarta assinatura chega, o ledger é acionado e a titularidade do imóvel muda na mesma transação.
func (s *RegistryService) ApplySignature(ctx context.Context, proposalID string, caller models.Identity, action models.SignatureAction) (transfer models.Transfer, err error) {
	defer func() { s.metrics.observe("sign_transfer", err) }()

	switch action {
	case models.ActionSign, models.ActionReject:
	default:
		return models.Transfer{}, fmt.Errorf("%w: ação %q", models.ErrValidation, action)
	}

	var slot models.SignerSlot
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		t, err := repo.GetTransferByProposal(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("transferência da proposta %q: %w", proposalID, err)
		}
		if t.Status != models.TransferPending {
			return fmt.Errorf("%w: transferência já está %s", models.ErrConflict, t.Status)
		}

		var ok bool
		slot, ok = resolveSignerSlot(t, caller)
		if !ok {
			return fmt.Errorf("%w: chamador não é signatário desta transferência", models.ErrForbidden)
		}

		now := s.now()
		t.UpdatedAt = now
		if action == models.ActionReject {
			t.Status = models.TransferRejected
			transfer, err = repo.UpdateTransfer(ctx, t)
			return err
		}

		t.Mark(slot)
		if t.FullySigned() {
			asset, err := repo.GetAsset(ctx, t.AssetID)
			if err != nil {
				return fmt.Errorf("imóvel %q: %w", t.AssetID, err)
			}
			ref, err := s.settle(ctx, models.SettlementRequest{
				AssetID:       asset.Matricula,
				PreviousOwner: asset.CurrentOwner,
				NewOwner:      t.Buyer,
				Latitude:      asset.Latitude,
				Longitude:     asset.Longitude,
			})
			if err != nil {
				return err
			}

			t.Status = models.TransferExecuted
			t.SettlementRef = ref
			asset.PreviousOwner = asset.CurrentOwner
			asset.CurrentOwner = t.Buyer
			asset.SettlementRef = ref
			asset.UpdatedAt = now
			if err := repo.UpdateAsset(ctx, asset); err != nil {
				return err
			}
		}

		transfer, err = repo.UpdateTransfer(ctx, t)
		return err
	})
	if err != nil {
		return models.Transfer{}, err
	}

	s.log.Info("assinatura aplicada",
		zap.String("transfer_id", transfer.ID),
		zap.String("slot", string(slot)),
		zap.String("action", string(action)),
		zap.String("status", string(transfer.Status)))

	payload := transferPayload(transfer)
	payload["slot"] = string(slot)
	switch transfer.Status {
	case models.TransferRejected:
		s.notify(ctx, models.EventTransferRejected, transfer.Owner, payload)
		s.notify(ctx, models.EventTransferRejected, transfer.Buyer, payload)
	case models.TransferExecuted:
		s.notify(ctx, models.EventTransferExecuted, transfer.Owner, payload)
		s.notify(ctx, models.EventTransferExecuted, transfer.Buyer, payload)
	default:
		s.notify(ctx, models.EventTransferSigned, transfer.Owner, payload)
	}
	return transfer, nil
}

// resolveSignerSlot: identidade primeiro (proprietário, comprador), depois papel (regulador, financeiro).
func resolveSignerSlot(t models.Transfer, caller models.Identity) (models.SignerSlot, bool) {
	switch {
	case models.SameWallet(caller.Wallet, t.Owner):
		return models.SlotOwner, true
	case models.SameWallet(caller.Wallet, t.Buyer):
		return models.SlotBuyer, true
	}
	return caller.Role.SignerSlot()
}

func transferPayload(t models.Transfer) map[string]any {
	return map[string]any{
		"transfer_id": t.ID,
		"proposal_id": t.ProposalID,
		"matricula":   t.AssetID,
		"status":      string(t.Status),
		"tx_hash":     t.SettlementRef,
	}
}
