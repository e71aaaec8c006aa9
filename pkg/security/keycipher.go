package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	cipherVersion      = "v1"
	secretLength       = 32
	saltLength         = 16
	derivedKeyLength   = 32
	cipherFieldCount   = 4
	cipherFieldVersion = 0
)

// ErrInvalidCiphertext signals a malformed or tampered encrypted payload.
var ErrInvalidCiphertext = fmt.Errorf("invalid ciphertext")

// ArgonParams are the Argon2id parameters used to stretch the operator secret
// into a per-payload AES-256 key.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultArgonParams keeps decryption cheap enough to run once per sweep.
var DefaultArgonParams = ArgonParams{Memory: 19 * 1024, Time: 2, Parallelism: 1}

// KeyCipher encrypts signing keys at rest with AES-256-GCM. Each payload
// carries its own salt, so two encryptions of the same key never match.
//
// Encoded form: v1$<salt>$<nonce>$<ciphertext>, all raw base64.
type KeyCipher struct {
	secret []byte
	params ArgonParams
}

// NewKeyCipher validates the operator secret.
func NewKeyCipher(secret string) (*KeyCipher, error) {
	return NewKeyCipherWithParams(secret, DefaultArgonParams)
}

// NewKeyCipherWithParams allows tests to use cheaper Argon2 settings.
func NewKeyCipherWithParams(secret string, params ArgonParams) (*KeyCipher, error) {
	if len(secret) != secretLength {
		return nil, fmt.Errorf("encryption key must be exactly %d characters", secretLength)
	}
	if params.Memory == 0 || params.Time == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("argon2 params must be positive")
	}
	return &KeyCipher{secret: []byte(secret), params: params}, nil
}

// Encrypt seals plaintext and returns the encoded payload.
func (c *KeyCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), []byte(cipherVersion))

	enc := base64.RawStdEncoding
	return strings.Join([]string{
		cipherVersion,
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(sealed),
	}, "$"), nil
}

// Decrypt opens an encoded payload produced by Encrypt.
func (c *KeyCipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	if len(parts) != cipherFieldCount || parts[cipherFieldVersion] != cipherVersion {
		return "", ErrInvalidCiphertext
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil || len(salt) != saltLength {
		return "", ErrInvalidCiphertext
	}
	nonce, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	sealed, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := aead.Open(nil, nonce, sealed, []byte(cipherVersion))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

func (c *KeyCipher) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.secret, salt, c.params.Time, c.params.Memory, c.params.Parallelism, derivedKeyLength)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
