package networkdefinition

import (
	"strings"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
)

// NetworkDefinitionProvider provides the networks the engine should get providers for.
type NetworkDefinitionProvider struct {
	logger            port.Logger
	activeNetworkDefs []entity.NetworkDefinition
}

// Networks the shielded engine deploys on. Names follow the engine's network naming.
var ( //nolint:gochecknoglobals // Global for definitions
	Ethereum = entity.NetworkDefinition{
		Name:              "Ethereum",
		ChainID:           1,
		RPCURL:            "https://ethereum-rpc.publicnode.com",
		PollingIntervalMs: 15000,
	}
	BNBChain = entity.NetworkDefinition{
		Name:              "BNB_Chain",
		ChainID:           56,
		RPCURL:            "https://bsc.publicnode.com",
		PollingIntervalMs: 15000,
	}
	Polygon = entity.NetworkDefinition{
		Name:              "Polygon",
		ChainID:           137,
		RPCURL:            "https://polygon.publicnode.com",
		PollingIntervalMs: 15000,
	}
	Arbitrum = entity.NetworkDefinition{
		Name:              "Arbitrum",
		ChainID:           42161,
		RPCURL:            "https://arbitrum.publicnode.com",
		PollingIntervalMs: 15000,
	}
	EthereumSepolia = entity.NetworkDefinition{
		Name:                   "Ethereum_Sepolia",
		ChainID:                11155111,
		RPCURL:                 "https://ethereum-sepolia-rpc.publicnode.com",
		PollingIntervalMs:      15000,
		SkipExternalValidation: true,
	}
	PolygonAmoy = entity.NetworkDefinition{
		Name:                   "Polygon_Amoy",
		ChainID:                80002,
		RPCURL:                 "https://polygon-amoy-bor-rpc.publicnode.com",
		PollingIntervalMs:      15000,
		SkipExternalValidation: true,
	}

	allKnownDefinitions = map[string]entity.NetworkDefinition{
		strings.ToLower(Ethereum.Name):        Ethereum,
		strings.ToLower(BNBChain.Name):        BNBChain,
		strings.ToLower(Polygon.Name):         Polygon,
		strings.ToLower(Arbitrum.Name):        Arbitrum,
		strings.ToLower(EthereumSepolia.Name): EthereumSepolia,
		strings.ToLower(PolygonAmoy.Name):     PolygonAmoy,
	}
)

// NewNetworkDefinitionProvider activates the configured networks, filling unset fields from the
// known definitions. With nothing configured, Ethereum_Sepolia is active.
func NewNetworkDefinitionProvider(log port.Logger, configured []entity.NetworkDefinition) *NetworkDefinitionProvider {
	p := &NetworkDefinitionProvider{logger: log}

	if len(configured) == 0 {
		p.activeNetworkDefs = []entity.NetworkDefinition{EthereumSepolia}
		p.logger.Warn("No networks configured, defaulting to Ethereum_Sepolia")
		return p
	}

	for _, def := range configured {
		known, ok := allKnownDefinitions[strings.ToLower(def.Name)]
		if !ok {
			if def.ChainID == 0 || def.RPCURL == "" {
				p.logger.Warn("Network is not a known deployment and lacks chainID or rpcURL", "network", def.Name)
			}
			p.activeNetworkDefs = append(p.activeNetworkDefs, def)
			continue
		}
		p.activeNetworkDefs = append(p.activeNetworkDefs, merge(known, def))
	}

	p.logger.Info("NetworkDefinitionProvider initialized", "activeNetworks", len(p.activeNetworkDefs))
	for _, netDef := range p.activeNetworkDefs {
		p.logger.Debug("Active network", "name", netDef.Name, "chainID", netDef.ChainID,
			"skipExternalValidation", netDef.SkipExternalValidation)
	}
	return p
}

// merge overlays the configured fields that are set onto a known definition.
// SkipExternalValidation is taken from the configuration as written.
func merge(known, configured entity.NetworkDefinition) entity.NetworkDefinition {
	out := known
	out.SkipExternalValidation = configured.SkipExternalValidation
	if configured.ChainID != 0 {
		out.ChainID = configured.ChainID
	}
	if configured.RPCURL != "" {
		out.RPCURL = configured.RPCURL
	}
	if configured.PollingIntervalMs != 0 {
		out.PollingIntervalMs = configured.PollingIntervalMs
	}
	return out
}

// GetAllNetworkDefinitions returns the active network definitions.
func (p *NetworkDefinitionProvider) GetAllNetworkDefinitions() []entity.NetworkDefinition {
	if p == nil {
		return []entity.NetworkDefinition{}
	}
	defsCopy := make([]entity.NetworkDefinition, len(p.activeNetworkDefs))
	copy(defsCopy, p.activeNetworkDefs)
	return defsCopy
}

// GetNetworkDefinitionByName returns an active network definition by name (case-insensitive).
func (p *NetworkDefinitionProvider) GetNetworkDefinitionByName(name string) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	for _, def := range p.activeNetworkDefs {
		if strings.EqualFold(def.Name, name) {
			return def, true
		}
	}
	return entity.NetworkDefinition{}, false
}

// GetNetworkDefinitionByChainID returns an active network definition by its chain ID,
// falling back to the known deployments.
func (p *NetworkDefinitionProvider) GetNetworkDefinitionByChainID(chainID uint64) (entity.NetworkDefinition, bool) {
	if p == nil {
		return entity.NetworkDefinition{}, false
	}
	for _, def := range p.activeNetworkDefs {
		if def.ChainID == chainID {
			return def, true
		}
	}
	for _, knownDef := range allKnownDefinitions {
		if knownDef.ChainID == chainID {
			p.logger.Warn("Network found in known definitions but not active", "chainID", chainID)
			return knownDef, true
		}
	}
	return entity.NetworkDefinition{}, false
}

var _ port.NetworkDefinitionProvider = (*NetworkDefinitionProvider)(nil)
