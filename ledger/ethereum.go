package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ferreirogomes/matricula/config"
	"github.com/ferreirogomes/matricula/models"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// registryABI descreve a única função do contrato de registro de imóveis.
const registryABI = `[{
	"inputs": [
		{"internalType": "string", "name": "matricula", "type": "string"},
		{"internalType": "string", "name": "previousOwner", "type": "string"},
		{"internalType": "string", "name": "currentOwner", "type": "string"},
		{"internalType": "int256", "name": "latitudeE6", "type": "int256"},
		{"internalType": "int256", "name": "longitudeE6", "type": "int256"}
	],
	"name": "registerProperty",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

var (
	maxFeePerGas         = new(big.Int).Mul(big.NewInt(2), big.NewInt(params.GWei))
	maxPriorityFeePerGas = big.NewInt(params.GWei)
)

// EthereumBackend é o subconjunto do ethclient usado aqui.
type EthereumBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthereumGateway chama registerProperty com uma transação EIP-1559 assinada localmente.
type EthereumGateway struct {
	backend  EthereumBackend
	contract common.Address
	from     common.Address
	key      *ecdsa.PrivateKey
	gasLimit uint64
	abi      abi.ABI
}

func NewEthereumGateway(backend EthereumBackend, cfg config.EthereumConfig) (*EthereumGateway, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("endereço de contrato inválido %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar chave privada: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if cfg.FromAddress != "" {
		if !common.IsHexAddress(cfg.FromAddress) {
			return nil, fmt.Errorf("endereço de origem inválido %q", cfg.FromAddress)
		}
		from = common.HexToAddress(cfg.FromAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar ABI: %w", err)
	}
	gas := cfg.GasLimit
	if gas == 0 {
		gas = 500_000
	}
	return &EthereumGateway{
		backend:  backend,
		contract: common.HexToAddress(cfg.ContractAddress),
		from:     from,
		key:      key,
		gasLimit: gas,
		abi:      parsed,
	}, nil
}

func (g *EthereumGateway) Settle(ctx context.Context, req models.SettlementRequest) (string, error) {
	data, err := g.abi.Pack("registerProperty",
		req.AssetID,
		req.PreviousOwner,
		req.NewOwner,
		big.NewInt(microdegrees(req.Latitude)),
		big.NewInt(microdegrees(req.Longitude)),
	)
	if err != nil {
		return "", fmt.Errorf("falha ao codificar chamada: %w", err)
	}
	chainID, err := g.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("falha ao obter chain id: %w", err)
	}
	nonce, err := g.backend.PendingNonceAt(ctx, g.from)
	if err != nil {
		return "", fmt.Errorf("falha ao obter nonce de %s: %w", g.from.Hex(), err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       g.gasLimit,
		To:        &g.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), g.key)
	if err != nil {
		return "", fmt.Errorf("falha ao assinar transação: %w", err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("falha ao enviar transação: %w", err)
	}
	return signed.Hash().Hex(), nil
}
