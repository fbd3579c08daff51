// Package tokenhash derives the engine's token-data hash from token data.
package tokenhash

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
)

// snarkPrime is the BN254 scalar field modulus.
var snarkPrime, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// Hasher implements port.TokenHasher.
//
// ERC20 hashes are the token address left-padded to 32 bytes. NFT hashes are
// keccak256(tokenType || tokenAddress || tokenSubID), each word 32 bytes, reduced mod the SNARK field.
type Hasher struct{}

var _ port.TokenHasher = Hasher{}

// NewHasher returns a token-data hasher.
func NewHasher() Hasher { return Hasher{} }

func (Hasher) TokenDataHash(td entity.TokenData) (string, error) {
	addr := strings.TrimSpace(td.TokenAddress)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid token address %q", td.TokenAddress)
	}
	addrWord := common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)

	if td.TokenType == entity.TokenTypeERC20 {
		return hexutil.Encode(addrWord), nil
	}

	subID, err := parseSubID(td.TokenSubID)
	if err != nil {
		return "", err
	}
	typeWord := common.LeftPadBytes(big.NewInt(int64(td.TokenType)).Bytes(), 32)
	subIDWord := common.LeftPadBytes(subID.Bytes(), 32)

	hashed := new(big.Int).SetBytes(crypto.Keccak256(typeWord, addrWord, subIDWord))
	hashed.Mod(hashed, snarkPrime)
	return hexutil.Encode(common.LeftPadBytes(hashed.Bytes(), 32)), nil
}

func parseSubID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("invalid token sub id %q", s)
	}
	return v, nil
}
