package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var cheapParams = ArgonParams{Memory: 64, Time: 1, Parallelism: 1}

func TestKeyCipherRoundTrip(t *testing.T) {
	c, err := NewKeyCipherWithParams(testSecret, cheapParams)
	require.NoError(t, err)

	encoded, err := c.Encrypt("4c0883a69102937d6231471b5dbb6204fe512961708279f3c1a6b1b5b0f0f8a1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "v1$"))

	plain, err := c.Decrypt(encoded)
	require.NoError(t, err)
	require.Equal(t, "4c0883a69102937d6231471b5dbb6204fe512961708279f3c1a6b1b5b0f0f8a1", plain)
}

func TestKeyCipherUsesFreshSalt(t *testing.T) {
	c, err := NewKeyCipherWithParams(testSecret, cheapParams)
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestKeyCipherRejectsWrongSecret(t *testing.T) {
	c, err := NewKeyCipherWithParams(testSecret, cheapParams)
	require.NoError(t, err)
	other, err := NewKeyCipherWithParams("fedcba9876543210fedcba9876543210", cheapParams)
	require.NoError(t, err)

	encoded, err := c.Encrypt("secret-key")
	require.NoError(t, err)

	_, err = other.Decrypt(encoded)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestKeyCipherRejectsMalformedPayloads(t *testing.T) {
	c, err := NewKeyCipherWithParams(testSecret, cheapParams)
	require.NoError(t, err)

	for _, payload := range []string{"", "plain-hex-key", "v2$a$b$c", "v1$!!$b$c"} {
		_, err := c.Decrypt(payload)
		require.ErrorIs(t, err, ErrInvalidCiphertext, payload)
	}
}

func TestNewKeyCipherValidatesSecretLength(t *testing.T) {
	_, err := NewKeyCipher("short")
	require.Error(t, err)
}
