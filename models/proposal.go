package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalAccepted ProposalStatus = "ACCEPTED"
	ProposalRejected ProposalStatus = "REJECTED"
)

type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// ParseDecision aceita ACCEPT ou REJECT, sem diferenciar maiúsculas.
func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(upper(raw)); d {
	case DecisionAccept, DecisionReject:
		return d, nil
	}
	return "", invalidf("decisão inválida %q", raw)
}

// Proposal é uma oferta de compra (total ou fracionada) de um imóvel.
type Proposal struct {
	ID         string              `json:"id"`
	AssetID    string              `json:"matricula"`
	Proposer   string              `json:"proposer"`
	Owner      string              `json:"owner"` // Copiado do imóvel no momento da criação
	Amount     decimal.Decimal     `json:"amount"`
	Percentage decimal.NullDecimal `json:"percentage"`
	Note       string              `json:"note,omitempty"`
	Status     ProposalStatus      `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	DecidedAt  *time.Time          `json:"decided_at,omitempty"`
}
