package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

var ErrNoRPCForChain = errors.New("no rpc endpoint configured for chain")

// BalanceProvider resuelve el balance nativo de una direccion, en wei.
type BalanceProvider interface {
	NativeBalance(ctx context.Context, ethChainID int64, address string) (decimal.Decimal, error)
}

// RPCBalanceClient consulta el balance con un *ethclient.Client por chain id, abierto en el primer uso.
type RPCBalanceClient struct {
	endpoints map[string]string

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

// NewRPCBalanceClient recibe el mapa chain id -> url del nodo.
func NewRPCBalanceClient(endpoints map[string]string) *RPCBalanceClient {
	return &RPCBalanceClient{
		endpoints: endpoints,
		clients:   make(map[int64]*ethclient.Client),
	}
}

func (c *RPCBalanceClient) NativeBalance(ctx context.Context, ethChainID int64, address string) (decimal.Decimal, error) {
	normalized, err := NormalizeEVM(address)
	if err != nil {
		return decimal.Zero, err
	}
	client, err := c.clientFor(ctx, ethChainID)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := client.BalanceAt(ctx, common.HexToAddress(normalized), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_getBalance on chain %d: %w", ethChainID, err)
	}
	return decimal.NewFromBigInt(wei, 0), nil
}

func (c *RPCBalanceClient) clientFor(ctx context.Context, ethChainID int64) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[ethChainID]; ok {
		return client, nil
	}
	url, ok := c.endpoints[strconv.FormatInt(ethChainID, 10)]
	if !ok || url == "" {
		return nil, fmt.Errorf("%w: %d", ErrNoRPCForChain, ethChainID)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", ethChainID, err)
	}
	c.clients[ethChainID] = client
	return client, nil
}

// Close cierra los clientes abiertos.
func (c *RPCBalanceClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.clients {
		client.Close()
		delete(c.clients, id)
	}
}

// WeiToEther convierte un monto en wei a ETH.
func WeiToEther(wei decimal.Decimal) decimal.Decimal {
	return wei.Shift(-18)
}

// EtherToWei convierte un monto en ETH a wei.
func EtherToWei(eth decimal.Decimal) decimal.Decimal {
	return eth.Shift(18)
}
