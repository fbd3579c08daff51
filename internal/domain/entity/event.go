package entity

import "time"

// RawBalanceEvent is a balance-update callback payload exactly as the engine delivered it.
// Only the normalizer inspects its shape.
type RawBalanceEvent map[string]any

// RawScanEvent is a scan-progress callback payload exactly as the engine delivered it.
type RawScanEvent map[string]any

// NormalizedBalanceUpdate is the canonical form of one (wallet, bucket) refresh.
type NormalizedBalanceUpdate struct {
	WalletID string
	Bucket   BalanceBucket
	// Explicit is true when the payload carried a token list (possibly empty).
	// An explicit empty list still overwrites the bucket.
	Explicit         bool
	Entries          TokenMap
	Dropped          int
	MalformedAmounts int
}

// BucketTransition reports a token aggregate that left ShieldPending and reappeared as Spendable.
// It is a heuristic signal that external validation completed, not a guarantee per note.
type BucketTransition struct {
	WalletID      string        `json:"walletId"`
	Key           TokenKey      `json:"key"`
	TokenAddress  string        `json:"tokenAddress,omitempty"`
	TokenDataHash string        `json:"tokenDataHash,omitempty"`
	Amount        string        `json:"amount"`
	From          BalanceBucket `json:"from"`
	To            BalanceBucket `json:"to"`
	DetectedAt    time.Time     `json:"detectedAt"`
}
