package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// CanonicalAmount converts an engine-reported amount into a base-10 integer string.
// Accepted inputs are decimal or 0x-hex strings, json.Number, integer types, integral
// floats and *big.Int. A nil value yields "0" with ok=true. Anything negative, fractional
// or unparsable yields "0" with ok=false so the caller can count it.
func CanonicalAmount(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "0", true
	case string:
		return canonicalString(t)
	case json.Number:
		return canonicalString(t.String())
	case *big.Int:
		if t == nil {
			return "0", true
		}
		if t.Sign() < 0 {
			return "0", false
		}
		return t.String(), true
	case int:
		return canonicalInt64(int64(t))
	case int32:
		return canonicalInt64(int64(t))
	case int64:
		return canonicalInt64(t)
	case uint:
		return new(big.Int).SetUint64(uint64(t)).String(), true
	case uint32:
		return new(big.Int).SetUint64(uint64(t)).String(), true
	case uint64:
		return new(big.Int).SetUint64(t).String(), true
	case float64:
		return canonicalFloat(t)
	case float32:
		return canonicalFloat(float64(t))
	default:
		return "0", false
	}
}

func canonicalInt64(n int64) (string, bool) {
	if n < 0 {
		return "0", false
	}
	return big.NewInt(n).String(), true
}

func canonicalFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
		return "0", false
	}
	i, _ := new(big.Float).SetFloat64(f).Int(nil)
	return i.String(), true
}

func canonicalString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0", true
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		hex := s[2:]
		if hex == "" {
			return "0", false
		}
		i, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return "0", false
		}
		return i.String(), true
	}
	if i, ok := new(big.Int).SetString(s, 10); ok {
		if i.Sign() < 0 {
			return "0", false
		}
		return i.String(), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() || !d.IsInteger() {
		return "0", false
	}
	return d.BigInt().String(), true
}

// FormatAmount renders a base-unit integer string with the given number of decimals.
// Example: amount="1234500000000000000", decimals=18 => "1.2345"
func FormatAmount(amount string, decimals int32) (string, error) {
	i, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return "", fmt.Errorf("amount %q is not a base-10 integer", amount)
	}
	if decimals < 0 {
		return "", fmt.Errorf("negative decimals %d", decimals)
	}
	return decimal.NewFromBigInt(i, -decimals).String(), nil
}

// CompareAmounts orders two canonical amount strings. Unparsable values compare as zero.
func CompareAmounts(a, b string) int {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = new(big.Int)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = new(big.Int)
	}
	return x.Cmp(y)
}
