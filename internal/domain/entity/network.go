package entity

// NetworkDefinition holds what the orchestrator needs to register an RPC provider with the engine.
type NetworkDefinition struct {
	Name              string `json:"name" yaml:"name"`
	ChainID           uint64 `json:"chainId" yaml:"chainID"`
	RPCURL            string `json:"rpcUrl" yaml:"rpcURL"`
	PollingIntervalMs int64  `json:"pollingIntervalMs" yaml:"pollingIntervalMs"`
	// SkipExternalValidation disables the engine's external validation for this network.
	SkipExternalValidation bool `json:"skipExternalValidation" yaml:"skipExternalValidation"`
}

// ProviderConfig is the payload registered with the engine for a network.
type ProviderConfig struct {
	ChainID           uint64          `json:"chainId"`
	Providers         []ProviderEntry `json:"providers"`
	PollingIntervalMs int64           `json:"pollingIntervalMs,omitempty"`
}

// ProviderEntry is one RPC endpoint inside a ProviderConfig.
type ProviderEntry struct {
	Provider string `json:"provider"`
	Priority int    `json:"priority"`
	Weight   int    `json:"weight"`
}

// ProviderStatus is what the engine reports back when queried for a network's provider.
type ProviderStatus struct {
	Network    string `json:"network"`
	Registered bool   `json:"registered"`
	ChainID    uint64 `json:"chainId"`
}

// ProviderRegistration records the outcome of registering one network's provider.
type ProviderRegistration struct {
	Network  string `json:"network"`
	Verified bool   `json:"verified"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"lastError,omitempty"`
}
