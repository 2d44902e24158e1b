// Package ledger contém os gateways que registram mudanças de titularidade fora do banco:
// um mock local, um contrato Ethereum e um memo na Solana.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ferreirogomes/matricula/models"
)

// MockGateway não fala com rede nenhuma; devolve "mock-" seguido de 16 bytes aleatórios.
type MockGateway struct{}

func (MockGateway) Settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("falha ao gerar hash sintético: %w", err)
	}
	return "mock-" + hex.EncodeToString(raw), nil
}

// microdegrees guarda coordenadas como inteiros, truncando como o contrato espera.
func microdegrees(v float64) int64 {
	return int64(v * 1_000_000)
}
