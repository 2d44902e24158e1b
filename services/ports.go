package services

import (
	"context"
	"time"

	"github.com/ferreirogomes/matricula/models"
)

// Repository é o acesso ao armazenamento que o núcleo usa. Leituras por chave inexistente
// devolvem models.ErrNotFound; escritas que violam unicidade ou o estado esperado devolvem
// models.ErrConflict.
type Repository interface {
	CreateNonce(ctx context.Context, nonce models.Nonce) error
	GetNonce(ctx context.Context, value string) (models.Nonce, error)
	ConsumeNonce(ctx context.Context, value string, at time.Time) error

	GetUserByWallet(ctx context.Context, wallet string) (models.User, error)
	SaveUser(ctx context.Context, user models.User) (models.User, error)

	CreateAsset(ctx context.Context, asset models.Asset) error
	GetAsset(ctx context.Context, matricula string) (models.Asset, error)
	UpdateAsset(ctx context.Context, asset models.Asset) error

	CreateProposal(ctx context.Context, proposal models.Proposal) error
	GetProposal(ctx context.Context, id string) (models.Proposal, error)
	UpdateProposalStatus(ctx context.Context, id string, from, to models.ProposalStatus, at time.Time) error
	ListProposalsByAsset(ctx context.Context, matricula string) ([]models.Proposal, error)
	ListProposals(ctx context.Context) ([]models.Proposal, error)

	CreateTransfer(ctx context.Context, transfer models.Transfer) error
	// GetTransferByProposal trava a linha quando chamado dentro de uma transação.
	GetTransferByProposal(ctx context.Context, proposalID string) (models.Transfer, error)
	// UpdateTransfer compara Version e devolve a transferência com a nova versão.
	UpdateTransfer(ctx context.Context, transfer models.Transfer) (models.Transfer, error)
	ListTransfersByAsset(ctx context.Context, matricula string) ([]models.Transfer, error)
	ListTransfers(ctx context.Context) ([]models.Transfer, error)

	CreateValidationRecord(ctx context.Context, record models.ValidationRecord) error
	ListValidationRecords(ctx context.Context) ([]models.ValidationRecord, error)
}

// Store acrescenta a fronteira transacional: fn roda atomicamente e qualquer erro desfaz tudo.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}

// LedgerGateway registra a mudança de titularidade e devolve a referência da transação.
type LedgerGateway interface {
	Settle(ctx context.Context, req models.SettlementRequest) (string, error)
}

// Notifier entrega eventos fora de banda. Não devolve erro: falhas ficam com quem implementa.
type Notifier interface {
	Notify(ctx context.Context, event models.Event)
}

// SignatureVerifier confere que signature assina message com a chave de address.
type SignatureVerifier interface {
	Verify(address, message, signature string) error
}

// TokenIssuer emite e resolve as credenciais de sessão.
type TokenIssuer interface {
	Issue(user models.User) (string, error)
	Parse(token string) (models.Identity, error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Event) {}
