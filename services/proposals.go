package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferreirogomes/matricula/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CreateProposalInput são os dados de uma oferta sobre um imóvel.
type CreateProposalInput struct {
	AssetID    string
	Proposer   string
	Amount     decimal.Decimal
	Percentage decimal.NullDecimal // fração desejada em (0, 100]; ausente = imóvel inteiro
	Note       string
}

// CreateProposal registra uma proposta PENDING com o proprietário atual do imóvel.
func (s *RegistryService) CreateProposal(ctx context.Context, in CreateProposalInput) (proposal models.Proposal, err error) {
	defer func() { s.metrics.observe("create_proposal", err) }()

	proposer := models.CanonicalWallet(in.Proposer)
	if proposer == "" {
		return models.Proposal{}, fmt.Errorf("%w: proponente ausente", models.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return models.Proposal{}, fmt.Errorf("%w: valor deve ser positivo", models.ErrValidation)
	}
	if in.Percentage.Valid && (!in.Percentage.Decimal.IsPositive() || in.Percentage.Decimal.GreaterThan(hundred)) {
		return models.Proposal{}, fmt.Errorf("%w: percentual deve estar em (0, 100]", models.ErrValidation)
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		asset, err := repo.GetAsset(ctx, strings.TrimSpace(in.AssetID))
		if err != nil {
			return fmt.Errorf("imóvel %q: %w", in.AssetID, err)
		}
		proposal = models.Proposal{
			ID:         newID(),
			AssetID:    asset.Matricula,
			Proposer:   proposer,
			Owner:      models.CanonicalWallet(asset.CurrentOwner),
			Amount:     in.Amount,
			Percentage: in.Percentage,
			Note:       strings.TrimSpace(in.Note),
			Status:     models.ProposalPending,
			CreatedAt:  s.now(),
		}
		return repo.CreateProposal(ctx, proposal)
	})
	if err != nil {
		return models.Proposal{}, err
	}

	s.log.Info("proposta criada",
		zap.String("proposal_id", proposal.ID),
		zap.String("matricula", proposal.AssetID),
		zap.String("proposer", proposal.Proposer))
	s.notify(ctx, models.EventProposalCreated, proposal.Owner, map[string]any{
		"proposal_id": proposal.ID,
		"matricula":   proposal.AssetID,
		"proposer":    proposal.Proposer,
		"amount":      proposal.Amount.String(),
	})
	return proposal, nil
}

// DecideProposal aceita ou rejeita uma proposta. Só o proprietário decide, e uma única vez.
func (s *RegistryService) DecideProposal(ctx context.Context, proposalID, decider string, decision models.Decision) (proposal models.Proposal, err error) {
	defer func() { s.metrics.observe("decide_proposal", err) }()

	var target models.ProposalStatus
	switch decision {
	case models.DecisionAccept:
		target = models.ProposalAccepted
	case models.DecisionReject:
		target = models.ProposalRejected
	default:
		return models.Proposal{}, fmt.Errorf("%w: decisão %q", models.ErrValidation, decision)
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		p, err := repo.GetProposal(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("proposta %q: %w", proposalID, err)
		}
		if !models.SameWallet(decider, p.Owner) {
			return fmt.Errorf("%w: apenas o proprietário decide a proposta", models.ErrForbidden)
		}
		if p.Status != models.ProposalPending {
			return fmt.Errorf("%w: proposta já está %s", models.ErrConflict, p.Status)
		}

		now := s.now()
		if err := repo.UpdateProposalStatus(ctx, p.ID, models.ProposalPending, target, now); err != nil {
			return err
		}
		p.Status = target
		p.DecidedAt = &now
		proposal = p
		return nil
	})
	if err != nil {
		return models.Proposal{}, err
	}

	s.log.Info("proposta decidida", zap.String("proposal_id", proposal.ID), zap.String("status", string(proposal.Status)))
	s.notify(ctx, models.EventProposalDecided, proposal.Proposer, map[string]any{
		"proposal_id": proposal.ID,
		"matricula":   proposal.AssetID,
		"status":      string(proposal.Status),
	})
	return proposal, nil
}
