package networkdefinition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/logger"
)

func TestNetworkDefinitionProvider_DefaultsToSepolia(t *testing.T) {
	p := NewNetworkDefinitionProvider(logger.Nop{}, nil)
	defs := p.GetAllNetworkDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, uint64(11155111), defs[0].ChainID)
	assert.True(t, defs[0].SkipExternalValidation)
}

func TestNetworkDefinitionProvider_MergesKnown(t *testing.T) {
	p := NewNetworkDefinitionProvider(logger.Nop{}, []entity.NetworkDefinition{
		{Name: "ethereum_sepolia", RPCURL: "http://127.0.0.1:8545"},
		{Name: "Devnet", ChainID: 31337, RPCURL: "http://127.0.0.1:8546"},
	})

	sepolia, ok := p.GetNetworkDefinitionByName("Ethereum_Sepolia")
	require.True(t, ok)
	assert.Equal(t, "Ethereum_Sepolia", sepolia.Name)
	assert.Equal(t, uint64(11155111), sepolia.ChainID)
	assert.Equal(t, "http://127.0.0.1:8545", sepolia.RPCURL)
	assert.Equal(t, int64(15000), sepolia.PollingIntervalMs)
	assert.False(t, sepolia.SkipExternalValidation, "configuration decides the bypass")

	devnet, ok := p.GetNetworkDefinitionByChainID(31337)
	require.True(t, ok)
	assert.Equal(t, "Devnet", devnet.Name)

	_, ok = p.GetNetworkDefinitionByName("Polygon")
	assert.False(t, ok)

	polygon, ok := p.GetNetworkDefinitionByChainID(137)
	require.True(t, ok, "known but inactive chains still resolve by chain id")
	assert.Equal(t, "Polygon", polygon.Name)
}

func TestNetworkDefinitionProvider_NilSafe(t *testing.T) {
	var p *NetworkDefinitionProvider
	assert.Empty(t, p.GetAllNetworkDefinitions())
	_, ok := p.GetNetworkDefinitionByName("Ethereum")
	assert.False(t, ok)
}
