package models

import "time"

// Asset representa uma matrícula de imóvel registrada.
type Asset struct {
	ID            string    `json:"id"`
	Matricula     string    `json:"matricula"`                // Identificador externo único do imóvel
	PreviousOwner string    `json:"previous_owner,omitempty"` // Carteira do proprietário anterior, se houver
	CurrentOwner  string    `json:"current_owner"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	SettlementRef string    `json:"tx_hash"` // Referência da última liquidação no ledger
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RegisterAssetInput carrega os dados de cadastro de um imóvel.
type RegisterAssetInput struct {
	Matricula     string
	PreviousOwner string
	CurrentOwner  string
	Latitude      float64
	Longitude     float64
}

// SettlementRequest é o que o ledger recebe para registrar uma mudança de titularidade.
type SettlementRequest struct {
	AssetID       string
	PreviousOwner string
	NewOwner      string
	Latitude      float64
	Longitude     float64
}
