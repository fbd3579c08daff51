package entity

import "strings"

// BalanceBucket is the engine-assigned spend/validation category of a set of shielded balances.
// The reconciler never computes membership, it only stores what the engine reports.
type BalanceBucket string

const (
	BucketSpendable          BalanceBucket = "Spendable"
	BucketShieldPending      BalanceBucket = "ShieldPending"
	BucketShieldBlocked      BalanceBucket = "ShieldBlocked"
	BucketProofSubmitted     BalanceBucket = "ProofSubmitted"
	BucketMissingInternalPOI BalanceBucket = "MissingInternalPOI"
	BucketMissingExternalPOI BalanceBucket = "MissingExternalPOI"
	BucketSpent              BalanceBucket = "Spent"
)

// KnownBuckets lists the buckets the engine is documented to emit, in display order.
var KnownBuckets = []BalanceBucket{
	BucketSpendable,
	BucketShieldPending,
	BucketShieldBlocked,
	BucketProofSubmitted,
	BucketMissingInternalPOI,
	BucketMissingExternalPOI,
	BucketSpent,
}

// ParseBalanceBucket maps a bucket name to its canonical spelling (case-insensitive).
// Unknown names are returned verbatim with ok=false; the engine owns the taxonomy.
func ParseBalanceBucket(name string) (BalanceBucket, bool) {
	trimmed := strings.TrimSpace(name)
	for _, b := range KnownBuckets {
		if strings.EqualFold(string(b), trimmed) {
			return b, true
		}
	}
	return BalanceBucket(trimmed), false
}

// WalletBuckets is the full bucket set of one wallet.
type WalletBuckets map[BalanceBucket]TokenMap

// CacheSnapshot is a copy of the whole balance cache keyed by wallet id.
type CacheSnapshot map[string]WalletBuckets

// BalanceView is the answer of a facade balance read. Exactly one of the
// Amount / Bucket / Wallet / All fields is populated, depending on the arguments supplied.
type BalanceView struct {
	WalletID     string        `json:"walletId,omitempty"`
	Bucket       BalanceBucket `json:"bucket,omitempty"`
	TokenAddress string        `json:"tokenAddress,omitempty"`
	Amount       string        `json:"amount,omitempty"`
	Tokens       TokenMap      `json:"tokens,omitempty"`
	Wallet       WalletBuckets `json:"wallet,omitempty"`
	All          CacheSnapshot `json:"all,omitempty"`
}
