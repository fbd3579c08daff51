package client

import (
	"context"
	"sync"
	"time"

	"balance_reconciler/internal/app/port"
)

const (
	defaultConnectionTimeout = 10 * time.Second
	defaultRPCCallTimeout    = 5 * time.Second
)

// EVMClientProvider implements port.ChainProbe over a cache of dialed clients keyed by RPC URL.
type EVMClientProvider struct {
	clients           map[string]*EVMClient
	mu                sync.Mutex
	logger            port.Logger
	connectionTimeout time.Duration
	rpcCallTimeout    time.Duration
}

// NewEVMClientProvider creates a chain probe. Non-positive timeouts fall back to defaults.
func NewEVMClientProvider(rpcCallTimeout time.Duration, logger port.Logger) *EVMClientProvider {
	if rpcCallTimeout <= 0 {
		rpcCallTimeout = defaultRPCCallTimeout
	}
	return &EVMClientProvider{
		clients:           make(map[string]*EVMClient),
		logger:            logger,
		connectionTimeout: defaultConnectionTimeout,
		rpcCallTimeout:    rpcCallTimeout,
	}
}

var _ port.ChainProbe = (*EVMClientProvider)(nil)

// ChainID dials (or reuses) a client for rpcURL and returns the chain it serves.
// A client whose call fails is evicted so the next probe dials again.
func (p *EVMClientProvider) ChainID(ctx context.Context, rpcURL string) (uint64, error) {
	client, err := p.getClient(ctx, rpcURL)
	if err != nil {
		return 0, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		p.evict(rpcURL, client)
		p.logger.Warn("RPC probe failed", "rpcURL", rpcURL, "error", err)
		return 0, err
	}
	return id, nil
}

func (p *EVMClientProvider) getClient(ctx context.Context, rpcURL string) (*EVMClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[rpcURL]; exists {
		return client, nil
	}
	client, err := NewEVMClient(ctx, rpcURL, p.connectionTimeout, p.rpcCallTimeout)
	if err != nil {
		p.logger.Error("Failed to create EVM client", "rpcURL", rpcURL, "error", err)
		return nil, err
	}
	p.clients[rpcURL] = client
	p.logger.Debug("Created and cached EVM client", "rpcURL", rpcURL)
	return client, nil
}

func (p *EVMClientProvider) evict(rpcURL string, client *EVMClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients[rpcURL] == client {
		delete(p.clients, rpcURL)
		client.Close()
	}
}

// Close closes every cached client.
func (p *EVMClientProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}
