package service

import (
	"strings"
	"sync"
	"time"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/metrics"
)

const recentDropLimit = 32

// TransitionListener is notified of each detected ShieldPending to Spendable transition.
type TransitionListener func(entity.BucketTransition)

type bucketState struct {
	current   entity.TokenMap
	previous  entity.TokenMap
	updatedAt time.Time
	// unreported holds ShieldPending entries of the current and immediately-prior map
	// that have not yet produced a transition. Only used on the ShieldPending bucket.
	unreported entity.TokenMap
}

// BalanceCache stores the latest token map per (wallet, bucket) and detects bucket transitions.
// Each bucket is replaced wholesale under one lock hold, so readers never see a half-written bucket.
type BalanceCache struct {
	normalizer *TokenNormalizer
	logger     port.Logger
	now        func() time.Time

	mu           sync.RWMutex
	wallets      map[string]map[entity.BalanceBucket]*bucketState
	activeWallet string
	listeners    []TransitionListener

	eventsApplied    int64
	eventsDiscarded  int64
	recordsDropped   int64
	malformedAmounts int64
	transitions      int64
	recentDrops      []entity.DroppedRecord
}

// NewBalanceCache creates an empty cache.
func NewBalanceCache(normalizer *TokenNormalizer, logger port.Logger) *BalanceCache {
	return &BalanceCache{
		normalizer: normalizer,
		logger:     logger,
		now:        time.Now,
		wallets:    make(map[string]map[entity.BalanceBucket]*bucketState),
	}
}

// OnTransition registers a listener. Listeners run synchronously after the cache lock is released.
func (c *BalanceCache) OnTransition(l TransitionListener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// SetActiveWallet sets the wallet used for events that carry no wallet id.
func (c *BalanceCache) SetActiveWallet(walletID string) {
	c.mu.Lock()
	c.activeWallet = walletID
	c.mu.Unlock()
}

// ActiveWallet returns the fallback wallet id.
func (c *BalanceCache) ActiveWallet() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeWallet
}

// ApplyEvent normalizes and applies one raw balance callback. It reports whether the event was applied.
func (c *BalanceCache) ApplyEvent(raw entity.RawBalanceEvent) bool {
	return c.ApplyUpdate(c.normalizer.Normalize(raw))
}

// ApplyUpdate installs a normalized update. Updates without a resolvable wallet or bucket are discarded.
func (c *BalanceCache) ApplyUpdate(update entity.NormalizedBalanceUpdate) bool {
	c.mu.Lock()

	walletID := update.WalletID
	if walletID == "" {
		walletID = c.activeWallet
	}
	if walletID == "" || update.Bucket == "" {
		c.eventsDiscarded++
		c.mu.Unlock()
		metrics.BalanceEvents.WithLabelValues("discarded", string(update.Bucket)).Inc()
		c.logger.Warn("Discarding balance event without wallet or bucket",
			"bucket", update.Bucket, "hasWallet", walletID != "")
		return false
	}

	buckets, ok := c.wallets[walletID]
	if !ok {
		buckets = make(map[entity.BalanceBucket]*bucketState)
		c.wallets[walletID] = buckets
	}
	state, ok := buckets[update.Bucket]
	if !ok {
		state = &bucketState{}
		buckets[update.Bucket] = state
	}

	entries := update.Entries
	if entries == nil {
		entries = entity.TokenMap{}
	}

	// Snapshot and install in one critical section.
	state.previous = state.current
	state.current = entries
	state.updatedAt = c.now()

	var found []entity.BucketTransition
	switch update.Bucket {
	case entity.BucketShieldPending:
		state.unreported = carryPending(state.previous, state.unreported, entries)
	case entity.BucketSpendable:
		if pending, ok := buckets[entity.BucketShieldPending]; ok {
			found = detectTransitions(walletID, entries, pending.unreported, state.updatedAt)
		}
	}

	c.eventsApplied++
	c.recordsDropped += int64(update.Dropped)
	c.malformedAmounts += int64(update.MalformedAmounts)
	c.transitions += int64(len(found))
	if update.Dropped > 0 {
		c.recentDrops = append(c.recentDrops, entity.DroppedRecord{
			WalletID: walletID,
			Bucket:   update.Bucket,
			Reason:   "no derivable token key",
		})
		if len(c.recentDrops) > recentDropLimit {
			c.recentDrops = c.recentDrops[len(c.recentDrops)-recentDropLimit:]
		}
	}
	listeners := append([]TransitionListener(nil), c.listeners...)
	c.mu.Unlock()

	metrics.BalanceEvents.WithLabelValues("applied", string(update.Bucket)).Inc()
	c.logger.Debug("Balance bucket refreshed",
		"wallet", walletID,
		"bucket", update.Bucket,
		"tokens", len(entries.UniqueEntries()),
		"explicit", update.Explicit,
		"dropped", update.Dropped)

	for _, t := range found {
		metrics.BucketTransitions.Inc()
		c.logger.Info("Detected ShieldPending to Spendable transition",
			"wallet", t.WalletID, "token", t.TokenAddress, "hash", t.TokenDataHash, "amount", t.Amount)
		for _, l := range listeners {
			l(t)
		}
	}
	return true
}

// detectTransitions reports Spendable entries matching an unreported ShieldPending entry and consumes
// the match, so each pending entry is reported once. Matching uses the normalizer's keys. When both
// sides carry a token-data hash the hashes must agree, so an address shared by two token variants
// does not produce a false transition.
func detectTransitions(walletID string, spendable, unreported entity.TokenMap, at time.Time) []entity.BucketTransition {
	if len(unreported) == 0 {
		return nil
	}
	var out []entity.BucketTransition
	for _, entry := range spendable.UniqueEntries() {
		var match *entity.TokenEntry
		for _, k := range entry.Keys() {
			if p, ok := unreported[k]; ok && hashesAgree(p, entry) {
				match = p
				break
			}
		}
		if match == nil {
			continue
		}
		for _, k := range match.Keys() {
			delete(unreported, k)
		}
		out = append(out, entity.BucketTransition{
			WalletID:      walletID,
			Key:           entry.Identity(),
			TokenAddress:  entry.TokenAddress,
			TokenDataHash: entry.TokenDataHash,
			Amount:        entry.Amount,
			From:          entity.BucketShieldPending,
			To:            entity.BucketSpendable,
			DetectedAt:    at,
		})
	}
	return out
}

// carryPending builds the unreported set after a ShieldPending refresh: every new entry, plus the
// prior entries still unreported. The engine may empty ShieldPending before the Spendable refresh
// lands, so the prior map stays matchable for one more refresh.
func carryPending(prior, unreported, next entity.TokenMap) entity.TokenMap {
	out := make(entity.TokenMap, len(next)+len(prior))
	for k, e := range prior {
		if _, ok := unreported[k]; ok {
			out[k] = e
		}
	}
	for k, e := range next {
		out[k] = e
	}
	return out
}

func hashesAgree(a, b *entity.TokenEntry) bool {
	if a.TokenDataHash == "" || b.TokenDataHash == "" {
		return true
	}
	return strings.EqualFold(a.TokenDataHash, b.TokenDataHash)
}

// Read returns a copy of the cache scoped by the arguments. An empty walletID returns every wallet;
// an empty bucket returns every bucket of the wallet. Unknown wallets or buckets yield empty results.
func (c *BalanceCache) Read(walletID string, bucket entity.BalanceBucket) entity.CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := entity.CacheSnapshot{}
	copyWallet := func(id string, buckets map[entity.BalanceBucket]*bucketState) {
		wb := entity.WalletBuckets{}
		for b, st := range buckets {
			if bucket != "" && b != bucket {
				continue
			}
			wb[b] = st.current.Clone()
		}
		out[id] = wb
	}

	if walletID == "" {
		for id, buckets := range c.wallets {
			copyWallet(id, buckets)
		}
		return out
	}
	if buckets, ok := c.wallets[walletID]; ok {
		copyWallet(walletID, buckets)
	}
	return out
}

// Bucket returns a copy of one bucket, or nil when it was never received.
func (c *BalanceCache) Bucket(walletID string, bucket entity.BalanceBucket) entity.TokenMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if walletID == "" {
		walletID = c.activeWallet
	}
	st, ok := c.wallets[walletID][bucket]
	if !ok {
		return nil
	}
	return st.current.Clone()
}

// HasBucket distinguishes "refreshed to empty" from "never received".
func (c *BalanceCache) HasBucket(walletID string, bucket entity.BalanceBucket) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if walletID == "" {
		walletID = c.activeWallet
	}
	_, ok := c.wallets[walletID][bucket]
	return ok
}

// AmountOf returns the amount of tokenAddress in a bucket, or "0". An empty walletID means the active wallet.
func (c *BalanceCache) AmountOf(walletID string, bucket entity.BalanceBucket, tokenAddress string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if walletID == "" {
		walletID = c.activeWallet
	}
	st, ok := c.wallets[walletID][bucket]
	if !ok || st.current == nil {
		return entity.ZeroAmount
	}
	return lookupAmount(st.current, tokenAddress)
}

func lookupAmount(m entity.TokenMap, tokenAddress string) string {
	addr := strings.ToLower(strings.TrimSpace(tokenAddress))
	if addr == "" {
		return entity.ZeroAmount
	}
	if e, ok := m[entity.AddressKey(addr)]; ok && e != nil {
		return amountOrZero(e)
	}
	if e, ok := m[entity.PrefixedAddressKey(addr)]; ok && e != nil {
		return amountOrZero(e)
	}
	for _, e := range m {
		if e != nil && strings.EqualFold(e.TokenAddress, addr) {
			return amountOrZero(e)
		}
		if e != nil && e.Raw != nil {
			if embedded, ok := e.Raw["tokenAddress"].(string); ok && strings.EqualFold(strings.TrimSpace(embedded), addr) {
				return amountOrZero(e)
			}
		}
	}
	return entity.ZeroAmount
}

func amountOrZero(e *entity.TokenEntry) string {
	if e.Amount == "" {
		return entity.ZeroAmount
	}
	return e.Amount
}

// RemoveWallet drops every bucket of a wallet. The active wallet is cleared when it matches.
func (c *BalanceCache) RemoveWallet(walletID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.wallets, walletID)
	if c.activeWallet == walletID {
		c.activeWallet = ""
	}
}

// Diagnostics summarises the cache. It is informational only.
func (c *BalanceCache) Diagnostics() entity.CacheDiagnostics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := entity.CacheDiagnostics{
		Wallets:          len(c.wallets),
		ActiveWalletID:   c.activeWallet,
		EventsApplied:    c.eventsApplied,
		EventsDiscarded:  c.eventsDiscarded,
		RecordsDropped:   c.recordsDropped,
		MalformedAmounts: c.malformedAmounts,
		Transitions:      c.transitions,
		BucketSizes:      make(map[string]map[string]int, len(c.wallets)),
		LastUpdated:      make(map[string]map[string]time.Time, len(c.wallets)),
		RecentDrops:      append([]entity.DroppedRecord(nil), c.recentDrops...),
	}
	for id, buckets := range c.wallets {
		sizes := make(map[string]int, len(buckets))
		updated := make(map[string]time.Time, len(buckets))
		for b, st := range buckets {
			sizes[string(b)] = len(st.current.UniqueEntries())
			updated[string(b)] = st.updatedAt
		}
		d.BucketSizes[id] = sizes
		d.LastUpdated[id] = updated
	}
	return d
}
