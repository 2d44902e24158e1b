// Package auth implementa o lado de credenciais do login por carteira: a mensagem SIWE,
// a recuperação da assinatura e a emissão de JWT.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// MessageParams identifica o site que pede a assinatura.
type MessageParams struct {
	Domain  string
	URI     string
	ChainID int64
}

// BuildMessage monta a mensagem SIWE mínima que o frontend assina.
func BuildMessage(p MessageParams, address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n"+
		"%s\n\n"+
		"URI: %s\n"+
		"Version: 1\n"+
		"Chain ID: %d\n"+
		"Nonce: %s\n"+
		"Issued At: %s",
		p.Domain, address, p.URI, p.ChainID, nonce, issuedAt.UTC().Format("2006-01-02T15:04:05Z"))
}

// NonceFromMessage extrai o valor da linha "Nonce:"; devolve "" se não houver.
func NonceFromMessage(message string) string {
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Nonce:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// NewNonce devolve 16 bytes aleatórios em hexadecimal.
func NewNonce() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("falha ao gerar nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
