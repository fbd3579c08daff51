package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient wraps one dialed RPC endpoint.
type EVMClient struct {
	ethClient      *ethclient.Client
	rpcURL         string
	rpcCallTimeout time.Duration
}

// NewEVMClient dials rpcURL within connectionTimeout.
func NewEVMClient(ctx context.Context, rpcURL string, connectionTimeout, rpcCallTimeout time.Duration) (*EVMClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	return &EVMClient{ethClient: client, rpcURL: rpcURL, rpcCallTimeout: rpcCallTimeout}, nil
}

// ChainID asks the endpoint which chain it serves.
func (c *EVMClient) ChainID(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.rpcCallTimeout)
	defer cancel()

	id, err := c.ethClient.ChainID(callCtx)
	if err != nil {
		return 0, fmt.Errorf("eth_chainId on %s: %w", c.rpcURL, err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("eth_chainId on %s: value %s out of range", c.rpcURL, id.String())
	}
	return id.Uint64(), nil
}

// Close releases the underlying RPC connection.
func (c *EVMClient) Close() {
	c.ethClient.Close()
}
