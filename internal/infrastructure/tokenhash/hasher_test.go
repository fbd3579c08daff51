package tokenhash

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance_reconciler/internal/domain/entity"
)

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func TestHasher_ERC20IsPaddedAddress(t *testing.T) {
	h, err := NewHasher().TokenDataHash(entity.TokenData{TokenType: entity.TokenTypeERC20, TokenAddress: usdc})
	require.NoError(t, err)
	assert.Equal(t, "0x000000000000000000000000a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", h)
}

func TestHasher_NFTIsFieldElement(t *testing.T) {
	hasher := NewHasher()
	nft := entity.TokenData{TokenType: entity.TokenTypeERC721, TokenAddress: usdc, TokenSubID: "1"}

	first, err := hasher.TokenDataHash(nft)
	require.NoError(t, err)
	again, err := hasher.TokenDataHash(nft)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, first, 66)

	v, ok := new(big.Int).SetString(first[2:], 16)
	require.True(t, ok)
	assert.Equal(t, -1, v.Cmp(snarkPrime))

	other, err := hasher.TokenDataHash(entity.TokenData{TokenType: entity.TokenTypeERC721, TokenAddress: usdc, TokenSubID: "0x2"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	multi, err := hasher.TokenDataHash(entity.TokenData{TokenType: entity.TokenTypeERC1155, TokenAddress: usdc, TokenSubID: "1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, multi, "token type is part of the preimage")
}

func TestHasher_Errors(t *testing.T) {
	hasher := NewHasher()
	_, err := hasher.TokenDataHash(entity.TokenData{TokenAddress: "not-an-address"})
	assert.Error(t, err)

	_, err = hasher.TokenDataHash(entity.TokenData{TokenType: entity.TokenTypeERC721, TokenAddress: usdc, TokenSubID: "-1"})
	assert.Error(t, err)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256).String()
	_, err = hasher.TokenDataHash(entity.TokenData{TokenType: entity.TokenTypeERC1155, TokenAddress: usdc, TokenSubID: tooBig})
	assert.Error(t, err)
}
