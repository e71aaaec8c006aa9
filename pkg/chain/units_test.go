package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBaseUnitConversion(t *testing.T) {
	amount := decimal.RequireFromString("1.5")
	raw := ToBaseUnits(amount, 18)
	require.Equal(t, "1500000000000000000", raw.String())
	require.True(t, FromBaseUnits(raw, 18).Equal(amount))

	require.Equal(t, "1", ToBaseUnits(decimal.RequireFromString("0.0000019"), 6).String())
	require.True(t, FromBaseUnits(nil, 18).IsZero())
	require.True(t, FromBaseUnits(big.NewInt(250), 2).Equal(decimal.RequireFromString("2.5")))
}

func TestIsAddress(t *testing.T) {
	require.True(t, IsAddress("0x55d398326f99059fF775485246999027B3197955"))
	require.True(t, IsAddress("0x55d398326f99059ff775485246999027b3197955"))
	require.False(t, IsAddress("55d398326f99059fF775485246999027B3197955"))
	require.False(t, IsAddress("0x1234"))
	require.False(t, IsAddress(""))
}

func TestKeyHexRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	parsed, err := KeyFromHex("0x" + KeyToHex(key))
	require.NoError(t, err)
	require.Equal(t, AddressFromKey(key), AddressFromKey(parsed))

	_, err = KeyFromHex("zz")
	require.Error(t, err)
}

func TestZeroKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	ZeroKey(key)
	require.Equal(t, 0, key.D.Sign())
	ZeroKey(nil)
}
