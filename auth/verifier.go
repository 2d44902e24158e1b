package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrSignatureMismatch = errors.New("assinatura não corresponde ao endereço")

// EthereumVerifier confere assinaturas personal_sign (EIP-191) recuperando a chave pública.
type EthereumVerifier struct{}

func (EthereumVerifier) Verify(address, message, signature string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("endereço inválido %q", address)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("assinatura malformada: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("assinatura com %d bytes, esperado %d", len(sig), crypto.SignatureLength)
	}
	// Carteiras devolvem v em {27, 28}; a recuperação espera {0, 1}.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("falha ao recuperar chave: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return ErrSignatureMismatch
	}
	return nil
}
