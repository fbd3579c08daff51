package entity

import (
	"strings"
	"time"
)

// ScanKind identifies one of the two independent merkletree scan streams.
type ScanKind string

const (
	ScanKindUTXO ScanKind = "UTXO"
	ScanKindTXID ScanKind = "TXID"
)

// ParseScanKind accepts "utxo"/"txid" in any case.
func ParseScanKind(s string) (ScanKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ScanKindUTXO):
		return ScanKindUTXO, true
	case string(ScanKindTXID):
		return ScanKindTXID, true
	}
	return "", false
}

// ScanPhase is the watchdog's view of a scan stream.
type ScanPhase string

const (
	ScanPhaseIdle       ScanPhase = "Idle"
	ScanPhaseInProgress ScanPhase = "InProgress"
	ScanPhaseComplete   ScanPhase = "Complete"
)

// ScanState is overwritten on every callback of its kind.
type ScanState struct {
	Kind        ScanKind  `json:"kind"`
	Phase       ScanPhase `json:"phase"`
	Progress    float64   `json:"progress"`
	Status      string    `json:"status,omitempty"`
	Chain       string    `json:"chain,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	LastEventAt time.Time `json:"lastEventAt"`
	// SoftTimeouts counts watchdog firings for the current InProgress stretch.
	SoftTimeouts int `json:"softTimeouts"`
}

// ScanSoftTimeout is the diagnostic emitted when a scan stays InProgress beyond its budget.
type ScanSoftTimeout struct {
	Kind     ScanKind      `json:"kind"`
	Progress float64       `json:"progress"`
	Silence  time.Duration `json:"silence"`
	FiredAt  time.Time     `json:"firedAt"`
}
