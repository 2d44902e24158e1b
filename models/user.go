package models

import (
	"strings"
	"time"
)

// Role é o papel de uma carteira no fluxo de aprovação.
type Role string

const (
	RoleUser      Role = "USER"
	RoleRegulator Role = "REGULATOR"
	RoleFinancial Role = "FINANCIAL"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(upper(raw)); r {
	case RoleUser, RoleRegulator, RoleFinancial:
		return r, nil
	}
	return "", invalidf("papel inválido %q", raw)
}

// CanAudit: somente o regulador lê a trilha de auditoria.
func (r Role) CanAudit() bool {
	switch r {
	case RoleRegulator:
		return true
	case RoleUser, RoleFinancial:
		return false
	}
	return false
}

// CanValidate: regulador e agente financeiro disparam validações.
func (r Role) CanValidate() bool {
	switch r {
	case RoleRegulator, RoleFinancial:
		return true
	case RoleUser:
		return false
	}
	return false
}

// SignerSlot devolve o slot de assinatura que o papel ocupa, se algum.
func (r Role) SignerSlot() (SignerSlot, bool) {
	switch r {
	case RoleRegulator:
		return SlotRegulator, true
	case RoleFinancial:
		return SlotFinancial, true
	case RoleUser:
		return "", false
	}
	return "", false
}

// User é uma carteira conhecida pelo registro.
type User struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity é quem está chamando, já resolvido pela autenticação.
type Identity struct {
	Wallet string
	Role   Role
}

// UnboundWallet marca o nonce emitido sem carteira; qualquer endereço pode usá-lo.
const UnboundWallet = "*"

// Nonce é o desafio de uso único do fluxo SIWE.
type Nonce struct {
	ID         string
	Wallet     string
	Value      string
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// Bound informa se o nonce foi emitido para uma carteira específica.
func (n Nonce) Bound() bool {
	return n.Wallet != "" && n.Wallet != UnboundWallet
}

// CanonicalWallet normaliza uma carteira para comparação.
func CanonicalWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// SameWallet compara carteiras sem diferenciar maiúsculas.
func SameWallet(a, b string) bool {
	return CanonicalWallet(a) != "" && CanonicalWallet(a) == CanonicalWallet(b)
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
