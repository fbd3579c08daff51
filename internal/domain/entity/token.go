package entity

import "strings"

// AddressKeyPrefix disambiguates address-derived keys from hash-derived keys.
const AddressKeyPrefix = "addr:"

// ZeroAmount is the canonical amount for a missing or unusable balance.
const ZeroAmount = "0"

// TokenKey identifies an entry inside a (wallet, bucket) token map.
type TokenKey string

// HashKey builds the key for a protocol token-data hash.
func HashKey(hash string) TokenKey {
	return TokenKey(strings.ToLower(strings.TrimSpace(hash)))
}

// AddressKey builds the bare lower-cased address key.
func AddressKey(address string) TokenKey {
	return TokenKey(strings.ToLower(strings.TrimSpace(address)))
}

// PrefixedAddressKey builds the "addr:"-prefixed address key.
func PrefixedAddressKey(address string) TokenKey {
	return TokenKey(AddressKeyPrefix + strings.ToLower(strings.TrimSpace(address)))
}

// TokenEntry is the canonical balance record for one token aggregate in one bucket.
// Amount is a base-10 integer string in base units; it is never a float.
type TokenEntry struct {
	Amount        string         `json:"amount"`
	TokenAddress  string         `json:"tokenAddress,omitempty"`
	TokenDataHash string         `json:"tokenDataHash,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// Identity returns the key used to tell two entries apart: the token-data hash
// when known, otherwise the address.
func (e *TokenEntry) Identity() TokenKey {
	if e == nil {
		return ""
	}
	if e.TokenDataHash != "" {
		return HashKey(e.TokenDataHash)
	}
	return AddressKey(e.TokenAddress)
}

// Keys returns every key this entry is indexed under.
func (e *TokenEntry) Keys() []TokenKey {
	if e == nil {
		return nil
	}
	keys := make([]TokenKey, 0, 3)
	if e.TokenDataHash != "" {
		keys = append(keys, HashKey(e.TokenDataHash))
	}
	if e.TokenAddress != "" {
		keys = append(keys, AddressKey(e.TokenAddress), PrefixedAddressKey(e.TokenAddress))
	}
	return keys
}

// TokenMap indexes entries by every derivable key. Several keys may point at the same *TokenEntry.
type TokenMap map[TokenKey]*TokenEntry

// UniqueEntries returns each distinct entry once, in no particular order.
func (m TokenMap) UniqueEntries() []*TokenEntry {
	seen := make(map[*TokenEntry]struct{}, len(m))
	out := make([]*TokenEntry, 0, len(m))
	for _, e := range m {
		if e == nil {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Clone deep-copies the map, keeping the aliasing: keys that shared an entry
// in the source share one copied entry in the result.
func (m TokenMap) Clone() TokenMap {
	if m == nil {
		return nil
	}
	copies := make(map[*TokenEntry]*TokenEntry, len(m))
	out := make(TokenMap, len(m))
	for k, e := range m {
		if e == nil {
			continue
		}
		c, ok := copies[e]
		if !ok {
			dup := *e
			dup.Raw = cloneRaw(e.Raw)
			c = &dup
			copies[e] = c
		}
		out[k] = c
	}
	return out
}

func cloneRaw(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneRaw(t)
		case []any:
			items := make([]any, len(t))
			for i, item := range t {
				if nested, ok := item.(map[string]any); ok {
					items[i] = cloneRaw(nested)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

// TokenType is the protocol token standard of a token-data record.
type TokenType int

const (
	TokenTypeERC20   TokenType = 0
	TokenTypeERC721  TokenType = 1
	TokenTypeERC1155 TokenType = 2
)

// TokenData is the metadata needed to derive a token-data hash.
type TokenData struct {
	TokenType    TokenType
	TokenAddress string
	TokenSubID   string
}
