package entity

import "time"

// CacheDiagnostics is a non-authoritative summary of the balance cache.
type CacheDiagnostics struct {
	Wallets          int                             `json:"wallets"`
	ActiveWalletID   string                          `json:"activeWalletId,omitempty"`
	EventsApplied    int64                           `json:"eventsApplied"`
	EventsDiscarded  int64                           `json:"eventsDiscarded"`
	RecordsDropped   int64                           `json:"recordsDropped"`
	MalformedAmounts int64                           `json:"malformedAmounts"`
	Transitions      int64                           `json:"transitions"`
	BucketSizes      map[string]map[string]int       `json:"bucketSizes"`
	LastUpdated      map[string]map[string]time.Time `json:"lastUpdated"`
	RecentDrops      []DroppedRecord                 `json:"recentDrops,omitempty"`
}

// ConnectionDiagnostics is a non-authoritative summary of the orchestrator.
type ConnectionDiagnostics struct {
	EngineStarted    bool                   `json:"engineStarted"`
	BootstrapRuns    int64                  `json:"bootstrapRuns"`
	ConnectAttempts  int64                  `json:"connectAttempts"`
	LastConnectErr   string                 `json:"lastConnectError,omitempty"`
	Providers        []ProviderRegistration `json:"providers"`
	BypassedNetworks []string               `json:"bypassedNetworks,omitempty"`
	State            ConnectionState        `json:"state"`
}

// DiagnosticsDump bundles every diagnostic view for operability tooling.
type DiagnosticsDump struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Cache       CacheDiagnostics      `json:"cache"`
	Connection  ConnectionDiagnostics `json:"connection"`
	Scans       []ScanState           `json:"scans"`
	Transitions []BucketTransition    `json:"recentTransitions,omitempty"`
}
