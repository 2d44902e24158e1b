package ledger

import (
	"context"
	"fmt"

	"github.com/ferreirogomes/matricula/config"
	"github.com/ferreirogomes/matricula/services"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go/rpc"
)

// FromConfig escolhe o gateway pelo modo configurado. O close devolvido libera conexões abertas.
func FromConfig(ctx context.Context, cfg config.LedgerConfig) (services.LedgerGateway, func(), error) {
	switch cfg.Mode {
	case config.LedgerMock, "":
		return MockGateway{}, func() {}, nil
	case config.LedgerEthereum:
		client, err := ethclient.DialContext(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			return nil, nil, fmt.Errorf("falha ao conectar no nó Ethereum: %w", err)
		}
		gw, err := NewEthereumGateway(client, cfg.Ethereum)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return gw, client.Close, nil
	case config.LedgerSolana:
		client := rpc.New(cfg.Solana.RPCURL)
		gw, err := NewSolanaGateway(client, cfg.Solana.FeePayerPrivateKey)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("modo de ledger desconhecido %q", cfg.Mode)
}
