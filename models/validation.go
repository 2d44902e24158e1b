package models

import "time"

type ValidationStatus string

const (
	ValidationValidated ValidationStatus = "VALIDATED"
	ValidationRejected  ValidationStatus = "REJECTED"
)

// Validator é um participante do pool com seu peso de stake.
type Validator struct {
	Name  string `json:"name" yaml:"name"`
	Stake uint64 `json:"stake" yaml:"stake"`
}

// ValidationRecord é o registro imutável de uma checagem de quórum.
type ValidationRecord struct {
	ID            string           `json:"id"`
	TxRef         string           `json:"tx_ref"`
	Validators    []string         `json:"validators"`
	Approvals     int              `json:"approvals"`
	Required      int              `json:"required"`
	Status        ValidationStatus `json:"status"`
	SettlementRef string           `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
