package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// IsAddress reports whether value is a 0x-prefixed 20 byte hex address.
func IsAddress(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "0x") && common.IsHexAddress(value)
}

// SameAddress compares two addresses ignoring checksum case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ToBaseUnits converts a token amount into its integer representation.
// Digits beyond the token precision are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts an integer token amount into token units.
func FromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// GenerateKey creates a fresh secp256k1 signing key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// KeyFromHex parses a hex private key, with or without the 0x prefix.
func KeyFromHex(value string) (*ecdsa.PrivateKey, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	key, err := crypto.HexToECDSA(value)
	if err != nil {
		return nil, fmt.Errorf("parse private key: invalid key material")
	}
	return key, nil
}

// KeyToHex serializes a private key without the 0x prefix.
func KeyToHex(key *ecdsa.PrivateKey) string {
	return common.Bytes2Hex(crypto.FromECDSA(key))
}

// AddressFromKey derives the checksummed address of key.
func AddressFromKey(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

// ZeroKey overwrites the private scalar in place.
func ZeroKey(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	words := key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	key.D.SetInt64(0)
}
