package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance_reconciler/internal/domain/entity"
)

func newTestCache(hasher *fakeHasher) (*BalanceCache, *[]entity.BucketTransition) {
	var normalizer *TokenNormalizer
	if hasher != nil {
		normalizer = NewTokenNormalizer(hasher, nopLogger)
	} else {
		normalizer = NewTokenNormalizer(nil, nopLogger)
	}
	cache := NewBalanceCache(normalizer, nopLogger)
	var got []entity.BucketTransition
	cache.OnTransition(func(t entity.BucketTransition) { got = append(got, t) })
	return cache, &got
}

func balanceEvent(wallet, bucket string, tokens ...map[string]any) entity.RawBalanceEvent {
	list := make([]any, len(tokens))
	for i, t := range tokens {
		list[i] = t
	}
	ev := entity.RawBalanceEvent{"bucket": bucket, "tokens": list}
	if wallet != "" {
		ev["walletId"] = wallet
	}
	return ev
}

func token(address, amount string) map[string]any {
	return map[string]any{"address": address, "amount": amount}
}

func TestBalanceCache_PendingToSpendableTransition(t *testing.T) {
	cache, got := newTestCache(nil)

	require.True(t, cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "1000"))))
	require.True(t, cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1000"))))

	assert.Equal(t, "1000", cache.AmountOf("w1", entity.BucketSpendable, "0xAAA"))
	require.Len(t, *got, 1)
	tr := (*got)[0]
	assert.Equal(t, "0xaaa", tr.TokenAddress)
	assert.Equal(t, "w1", tr.WalletID)
	assert.Equal(t, "1000", tr.Amount)
	assert.Equal(t, entity.BucketShieldPending, tr.From)
	assert.Equal(t, entity.BucketSpendable, tr.To)

	// Repeating the Spendable refresh must not report the transition again.
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1000")))
	assert.Len(t, *got, 1)
}

func TestBalanceCache_TransitionWhenPendingEmptiedFirst(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "1000")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending"))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1000")))

	assert.Len(t, *got, 1)
}

// A shield completing into a token the wallet already holds is still a transition.
func TestBalanceCache_TransitionWhenTokenAlreadySpendable(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "500")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "1000")))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1500")))

	require.Len(t, *got, 1)
	assert.Equal(t, "1500", (*got)[0].Amount)

	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1500")))
	assert.Len(t, *got, 1)
}

func TestBalanceCache_PendingMatchedOnlyOnce(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "7")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending"))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "7")))
	cache.ApplyEvent(balanceEvent("w1", "Spendable"))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "7")))

	assert.Len(t, *got, 1)
}

// Only the immediately-prior ShieldPending map stays matchable.
func TestBalanceCache_StalePendingNotMatched(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "7")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending"))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending"))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "7")))

	assert.Empty(t, *got)
}

// A new ShieldPending report for the same token can complete again.
func TestBalanceCache_RepeatedShieldReportsAgain(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "1")))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending"))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1")))
	require.Len(t, *got, 1)

	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "2")))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "3")))
	assert.Len(t, *got, 2)
}

func TestBalanceCache_NoTransitionWithoutPending(t *testing.T) {
	cache, got := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1000")))
	cache.ApplyEvent(balanceEvent("w1", "ShieldPending", token("0xAAA", "5")))
	cache.ApplyEvent(balanceEvent("w2", "Spendable", token("0xAAA", "5")))

	assert.Empty(t, *got)
}

// Address alone matches when no hash is known; differing hashes on a shared address do not match.
func TestBalanceCache_TransitionIdentity(t *testing.T) {
	t.Run("address only", func(t *testing.T) {
		cache, got := newTestCache(nil)
		cache.ApplyEvent(balanceEvent("w", "ShieldPending", token("0xAAA", "1")))
		cache.ApplyEvent(balanceEvent("w", "Spendable", map[string]any{"tokenAddress": "0xaaa", "tokenHash": "0x01", "amount": "1"}))
		assert.Len(t, *got, 1)
	})

	t.Run("hash mismatch rejected", func(t *testing.T) {
		cache, got := newTestCache(nil)
		cache.ApplyEvent(balanceEvent("w", "ShieldPending", map[string]any{"tokenAddress": "0xAAA", "tokenHash": "0x01", "amount": "1"}))
		cache.ApplyEvent(balanceEvent("w", "Spendable", map[string]any{"tokenAddress": "0xAAA", "tokenHash": "0x02", "amount": "1"}))
		assert.Empty(t, *got)
	})

	t.Run("hash match", func(t *testing.T) {
		cache, got := newTestCache(nil)
		cache.ApplyEvent(balanceEvent("w", "ShieldPending", map[string]any{"tokenHash": "0x01", "amount": "1"}))
		cache.ApplyEvent(balanceEvent("w", "Spendable", map[string]any{"tokenAddress": "0xAAA", "tokenHash": "0x01", "amount": "1"}))
		require.Len(t, *got, 1)
		assert.Equal(t, entity.HashKey("0x01"), (*got)[0].Key)
	})
}

func TestBalanceCache_Idempotence(t *testing.T) {
	once, _ := newTestCache(nil)
	twice, _ := newTestCache(nil)
	ev := func() entity.RawBalanceEvent {
		return balanceEvent("w1", "Spendable", token("0xAAA", "1000"), token("0xBBB", "7"))
	}

	once.ApplyEvent(ev())
	twice.ApplyEvent(ev())
	twice.ApplyEvent(ev())

	assert.Equal(t, once.Read("", ""), twice.Read("", ""))
}

func TestBalanceCache_WholesaleReplaceAndExplicitEmpty(t *testing.T) {
	cache, _ := newTestCache(nil)

	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xAAA", "1"), token("0xBBB", "2")))
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0xBBB", "3")))
	assert.Equal(t, "0", cache.AmountOf("w1", entity.BucketSpendable, "0xAAA"))
	assert.Equal(t, "3", cache.AmountOf("w1", entity.BucketSpendable, "0xBBB"))

	assert.False(t, cache.HasBucket("w1", entity.BucketSpent))
	cache.ApplyEvent(balanceEvent("w1", "Spendable"))
	assert.True(t, cache.HasBucket("w1", entity.BucketSpendable))
	assert.Empty(t, cache.Bucket("w1", entity.BucketSpendable))
	assert.NotNil(t, cache.Bucket("w1", entity.BucketSpendable))
	assert.Nil(t, cache.Bucket("w1", entity.BucketSpent))
}

func TestBalanceCache_ActiveWalletFallbackAndDiscard(t *testing.T) {
	cache, _ := newTestCache(nil)

	assert.False(t, cache.ApplyEvent(balanceEvent("", "Spendable", token("0xAAA", "1"))))
	assert.False(t, cache.ApplyEvent(entity.RawBalanceEvent{"walletId": "w", "tokens": []any{}}))

	cache.SetActiveWallet("active")
	assert.True(t, cache.ApplyEvent(balanceEvent("", "Spendable", token("0xAAA", "9"))))
	assert.Equal(t, "9", cache.AmountOf("active", entity.BucketSpendable, "0xaaa"))
	assert.Equal(t, "9", cache.AmountOf("", entity.BucketSpendable, "0xaaa"))

	d := cache.Diagnostics()
	assert.Equal(t, int64(2), d.EventsDiscarded)
	assert.Equal(t, int64(1), d.EventsApplied)
}

func TestBalanceCache_AmountOf(t *testing.T) {
	cache, _ := newTestCache(nil)
	big := "123456789012345678901234567890"
	cache.ApplyEvent(balanceEvent("w", "Spendable", token("0xAAA", big)))

	assert.Equal(t, big, cache.AmountOf("w", entity.BucketSpendable, "0xaaa"))
	assert.Equal(t, big, cache.AmountOf("w", entity.BucketSpendable, "0XAAA"))
	assert.Equal(t, "0", cache.AmountOf("w", entity.BucketSpendable, "0xunknown"))
	assert.Equal(t, "0", cache.AmountOf("w", entity.BucketSpent, "0xaaa"))
	assert.Equal(t, "0", cache.AmountOf("nobody", entity.BucketSpendable, "0xaaa"))
	assert.Equal(t, "0", cache.AmountOf("w", entity.BucketSpendable, ""))
}

func TestBalanceCache_AmountOfPrefixedAndEmbedded(t *testing.T) {
	cache, _ := newTestCache(nil)
	e := &entity.TokenEntry{Amount: "5", TokenAddress: "0xaaa"}
	embedded := &entity.TokenEntry{Amount: "6", Raw: map[string]any{"tokenAddress": "0xCCC"}}
	cache.ApplyUpdate(entity.NormalizedBalanceUpdate{
		WalletID: "w",
		Bucket:   entity.BucketSpendable,
		Entries: entity.TokenMap{
			entity.PrefixedAddressKey("0xaaa"): e,
			entity.HashKey("0xhash"):           embedded,
		},
	})

	assert.Equal(t, "5", cache.AmountOf("w", entity.BucketSpendable, "0xAAA"))
	assert.Equal(t, "6", cache.AmountOf("w", entity.BucketSpendable, "0xccc"))
}

func TestBalanceCache_ReadReturnsDetachedCopies(t *testing.T) {
	cache, _ := newTestCache(nil)
	cache.ApplyEvent(balanceEvent("w", "Spendable", map[string]any{"tokenAddress": "0xAAA", "tokenHash": "0x01", "amount": "10"}))

	snap := cache.Read("w", entity.BucketSpendable)
	tokens := snap["w"][entity.BucketSpendable]
	require.Len(t, tokens, 3)
	assert.Same(t, tokens[entity.HashKey("0x01")], tokens[entity.AddressKey("0xaaa")])

	tokens[entity.AddressKey("0xaaa")].Amount = "999999"
	delete(tokens, entity.HashKey("0x01"))

	assert.Equal(t, "10", cache.AmountOf("w", entity.BucketSpendable, "0xaaa"))
	assert.Len(t, cache.Bucket("w", entity.BucketSpendable), 3)
}

func TestBalanceCache_ReadScopes(t *testing.T) {
	cache, _ := newTestCache(nil)
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0x1", "1")))
	cache.ApplyEvent(balanceEvent("w1", "Spent", token("0x2", "2")))
	cache.ApplyEvent(balanceEvent("w2", "Spendable", token("0x3", "3")))

	assert.Len(t, cache.Read("", ""), 2)
	assert.Len(t, cache.Read("w1", "")["w1"], 2)
	assert.Len(t, cache.Read("w1", entity.BucketSpent)["w1"], 1)
	assert.Empty(t, cache.Read("ghost", ""))
}

func TestBalanceCache_RemoveWallet(t *testing.T) {
	cache, _ := newTestCache(nil)
	cache.SetActiveWallet("w1")
	cache.ApplyEvent(balanceEvent("w1", "Spendable", token("0x1", "1")))
	cache.ApplyEvent(balanceEvent("w2", "Spendable", token("0x1", "2")))

	cache.RemoveWallet("w1")
	assert.Empty(t, cache.Read("w1", ""))
	assert.Empty(t, cache.ActiveWallet())
	assert.Equal(t, "2", cache.AmountOf("w2", entity.BucketSpendable, "0x1"))
}

func TestBalanceCache_ConcurrentApplyAndRead(t *testing.T) {
	cache, _ := newTestCache(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.ApplyEvent(balanceEvent("w", "Spendable", token("0xAAA", "1"), token("0xBBB", "2")))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bucket := cache.Bucket("w", entity.BucketSpendable)
				if bucket != nil {
					assert.Len(t, bucket, 4)
				}
				_ = cache.Diagnostics()
			}
		}()
	}
	wg.Wait()
}

func TestBalanceCache_Diagnostics(t *testing.T) {
	cache, _ := newTestCache(nil)
	cache.ApplyEvent(balanceEvent("w", "Spendable", token("0xAAA", "1"), map[string]any{"amount": "4"}, token("0xBBB", "x")))

	d := cache.Diagnostics()
	assert.Equal(t, 1, d.Wallets)
	assert.Equal(t, int64(1), d.RecordsDropped)
	assert.Equal(t, int64(1), d.MalformedAmounts)
	assert.Equal(t, 2, d.BucketSizes["w"]["Spendable"])
	require.Len(t, d.RecentDrops, 1)
	assert.Equal(t, entity.BucketSpendable, d.RecentDrops[0].Bucket)
}
