package models

import "time"

type TransferStatus string

const (
	TransferPending  TransferStatus = "PENDING"
	TransferRejected TransferStatus = "REJECTED"
	TransferExecuted TransferStatus = "EXECUTED"
)

type SignatureAction string

const (
	ActionSign   SignatureAction = "SIGN"
	ActionReject SignatureAction = "REJECT"
)

func ParseSignatureAction(raw string) (SignatureAction, error) {
	switch a := SignatureAction(upper(raw)); a {
	case ActionSign, ActionReject:
		return a, nil
	}
	return "", invalidf("ação inválida %q", raw)
}

// SignerSlot identifica qual das quatro assinaturas exigidas um participante ocupa.
type SignerSlot string

const (
	SlotOwner     SignerSlot = "owner"
	SlotBuyer     SignerSlot = "buyer"
	SlotRegulator SignerSlot = "regulator"
	SlotFinancial SignerSlot = "financial"
)

// Transfer é o processo multiassinatura que conclui uma proposta aceita.
type Transfer struct {
	ID              string         `json:"id"`
	ProposalID      string         `json:"proposal_id"`
	AssetID         string         `json:"matricula"`
	Owner           string         `json:"owner"`
	Buyer           string         `json:"buyer"`
	OwnerSigned     bool           `json:"owner_signed"`
	BuyerSigned     bool           `json:"buyer_signed"`
	RegulatorSigned bool           `json:"regulator_signed"`
	FinancialSigned bool           `json:"financial_signed"`
	Status          TransferStatus `json:"status"`
	SettlementRef   string         `json:"tx_hash,omitempty"`
	Version         int64          `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// FullySigned informa se as quatro assinaturas foram coletadas.
func (t Transfer) FullySigned() bool {
	return t.OwnerSigned && t.BuyerSigned && t.RegulatorSigned && t.FinancialSigned
}

// Mark liga a flag correspondente ao slot.
func (t *Transfer) Mark(slot SignerSlot) {
	switch slot {
	case SlotOwner:
		t.OwnerSigned = true
	case SlotBuyer:
		t.BuyerSigned = true
	case SlotRegulator:
		t.RegulatorSigned = true
	case SlotFinancial:
		t.FinancialSigned = true
	}
}
