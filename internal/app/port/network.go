package port

import (
	"context"

	"balance_reconciler/internal/domain/entity"
)

// ChainProbe checks that an RPC endpoint is reachable and serves the expected chain.
// It runs before a provider is handed to the engine.
type ChainProbe interface {
	ChainID(ctx context.Context, rpcURL string) (uint64, error)
}

// NetworkDefinitionProvider defines the interface for providing network definitions.
type NetworkDefinitionProvider interface {
	// GetAllNetworkDefinitions returns all configured network definitions.
	GetAllNetworkDefinitions() []entity.NetworkDefinition

	// GetNetworkDefinitionByName returns a specific network definition by name (case-insensitive).
	GetNetworkDefinitionByName(name string) (entity.NetworkDefinition, bool)
}
