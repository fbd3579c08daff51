package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/metrics"
	"balance_reconciler/internal/pkg/utils"
)

// Field names accepted from engine payloads, highest priority first.
var (
	walletIDFields  = []string{"railgunWalletID", "walletID", "walletId"}
	bucketFields    = []string{"balanceBucket", "bucket"}
	tokenListFields = []string{"erc20Amounts", "tokenAmounts", "tokens", "balances"}
	addressFields   = []string{"tokenAddress", "address"}
	hashFields      = []string{"tokenHash", "tokenDataHash"}
	amountFields    = []string{"amount", "amountString", "balance", "value"}
)

// TokenNormalizer turns raw balance callbacks into NormalizedBalanceUpdate values.
// It is the only place that inspects payload shape.
type TokenNormalizer struct {
	hasher port.TokenHasher
	logger port.Logger
}

// NewTokenNormalizer creates a normalizer. hasher may be nil.
func NewTokenNormalizer(hasher port.TokenHasher, logger port.Logger) *TokenNormalizer {
	return &TokenNormalizer{hasher: hasher, logger: logger}
}

// WalletIDOf returns the wallet id carried by the payload, if any.
func WalletIDOf(raw entity.RawBalanceEvent) string {
	return firstString(raw, walletIDFields)
}

// Normalize parses one balance callback. It never fails: malformed records are
// counted in Dropped or MalformedAmounts.
func (n *TokenNormalizer) Normalize(raw entity.RawBalanceEvent) entity.NormalizedBalanceUpdate {
	update := entity.NormalizedBalanceUpdate{
		WalletID: WalletIDOf(raw),
		Entries:  entity.TokenMap{},
	}
	if name := firstString(raw, bucketFields); name != "" {
		bucket, known := entity.ParseBalanceBucket(name)
		if !known {
			n.logger.Debug("Unknown balance bucket, storing under literal name", "bucket", name)
		}
		update.Bucket = bucket
	}

	list, explicit := tokenList(raw)
	update.Explicit = explicit

	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			update.Dropped++
			n.logger.Debug("Dropping non-object token record", "wallet", update.WalletID, "bucket", update.Bucket, "index", i)
			continue
		}
		entry, malformed := n.normalizeRecord(record)
		if malformed {
			update.MalformedAmounts++
		}
		keys := entry.Keys()
		if len(keys) == 0 {
			update.Dropped++
			n.logger.Debug("Dropping token record without address or hash", "wallet", update.WalletID, "bucket", update.Bucket, "index", i)
			continue
		}
		for _, k := range keys {
			update.Entries[k] = entry
		}
	}

	if update.Dropped > 0 {
		metrics.DroppedRecords.Add(float64(update.Dropped))
	}
	if update.MalformedAmounts > 0 {
		metrics.MalformedAmounts.Add(float64(update.MalformedAmounts))
	}
	return update
}

func (n *TokenNormalizer) normalizeRecord(record map[string]any) (*entity.TokenEntry, bool) {
	tokenData, _ := record["tokenData"].(map[string]any)

	address := firstString(tokenData, addressFields[:1])
	if address == "" {
		address = firstString(record, addressFields)
	}
	address = strings.ToLower(address)

	hash := firstString(record, hashFields)
	if hash == "" {
		hash = firstString(tokenData, []string{"tokenHash"})
	}
	if hash == "" {
		hash = n.computeHash(tokenData, address)
	}

	var amountRaw any
	for _, f := range amountFields {
		if v, ok := record[f]; ok && v != nil {
			amountRaw = v
			break
		}
	}
	amount, ok := utils.CanonicalAmount(amountRaw)

	return &entity.TokenEntry{
		Amount:        amount,
		TokenAddress:  address,
		TokenDataHash: strings.ToLower(hash),
		Raw:           record,
	}, !ok
}

// computeHash asks the hasher for a token-data hash. Any failure, panic included, yields "".
func (n *TokenNormalizer) computeHash(tokenData map[string]any, address string) (hash string) {
	if n.hasher == nil {
		return ""
	}
	data := entity.TokenData{TokenType: entity.TokenTypeERC20, TokenAddress: address}
	if tokenData != nil {
		tt, ok := parseTokenType(tokenData["tokenType"])
		if !ok && address == "" {
			return ""
		}
		data.TokenType = tt
		data.TokenSubID = stringOf(tokenData["tokenSubID"])
	} else if address == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Token hasher panicked, treating hash as absent", "token", address, "panic", fmt.Sprint(r))
			hash = ""
		}
	}()
	h, err := n.hasher.TokenDataHash(data)
	if err != nil {
		n.logger.Debug("Token hash unavailable", "token", address, "error", err)
		return ""
	}
	return h
}

// tokenList returns the first accepted field that holds an array. explicit is true when one was found.
func tokenList(raw entity.RawBalanceEvent) ([]any, bool) {
	for _, f := range tokenListFields {
		switch v := raw[f].(type) {
		case []any:
			return v, true
		case []map[string]any:
			out := make([]any, len(v))
			for i := range v {
				out[i] = v[i]
			}
			return out, true
		}
	}
	return nil, false
}

func parseTokenType(v any) (entity.TokenType, bool) {
	switch t := v.(type) {
	case nil:
		return entity.TokenTypeERC20, false
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "ERC20":
			return entity.TokenTypeERC20, true
		case "ERC721":
			return entity.TokenTypeERC721, true
		case "ERC1155":
			return entity.TokenTypeERC1155, true
		}
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return entity.TokenType(n), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return entity.TokenType(n), true
		}
	case float64:
		return entity.TokenType(int(t)), true
	case int:
		return entity.TokenType(t), true
	case int64:
		return entity.TokenType(t), true
	}
	return entity.TokenTypeERC20, false
}

func firstString(m map[string]any, fields []string) string {
	if m == nil {
		return ""
	}
	for _, f := range fields {
		if s := stringOf(m[f]); s != "" {
			return s
		}
	}
	return ""
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return ""
}
