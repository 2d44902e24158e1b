package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ferreirogomes/matricula/models"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// SolanaRPC é o subconjunto do rpc.Client usado pelo gateway.
type SolanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// SolanaGateway ancora a mudança de titularidade como um memo assinado pelo fee payer.
type SolanaGateway struct {
	rpc      SolanaRPC
	feePayer solana.PrivateKey
}

type settlementMemo struct {
	Matricula     string `json:"matricula"`
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
	LatitudeE6    int64  `json:"lat_e6"`
	LongitudeE6   int64  `json:"lon_e6"`
}

func NewSolanaGateway(client SolanaRPC, feePayerKeyBase58 string) (*SolanaGateway, error) {
	feePayer, err := solana.PrivateKeyFromBase58(feePayerKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar chave privada do fee payer: %w", err)
	}
	return &SolanaGateway{rpc: client, feePayer: feePayer}, nil
}

func (g *SolanaGateway) Settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	memo, err := json.Marshal(settlementMemo{
		Matricula:     req.AssetID,
		PreviousOwner: req.PreviousOwner,
		NewOwner:      req.NewOwner,
		LatitudeE6:    microdegrees(req.Latitude),
		LongitudeE6:   microdegrees(req.Longitude),
	})
	if err != nil {
		return "", fmt.Errorf("falha ao serializar memo: %w", err)
	}

	recent, err := g.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("falha ao obter blockhash recente: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return "", errors.New("resposta de blockhash vazia")
	}

	payer := g.feePayer.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(memoProgramID, solana.AccountMetaSlice{solana.Meta(payer).SIGNER()}, memo),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("falha ao criar transação: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &g.feePayer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("falha ao assinar transação: %w", err)
	}

	sig, err := g.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("falha ao enviar transação: %w", err)
	}
	return sig.String(), nil
}
