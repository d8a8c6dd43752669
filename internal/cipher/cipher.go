// Package cipher reversibly encrypts account app-passwords with a
// process-wide AES-256-GCM key. Only the ciphertext is ever stored;
// decryption happens at the narrowest scope (opening an IMAP session).
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrKeyRequired is returned when no encryption key is configured.
	// The service refuses to boot in that state.
	ErrKeyRequired = errors.New("cipher: encryption key is required")
	// ErrInvalidCiphertext is returned for undecryptable input: wrong key,
	// truncation, or tampering.
	ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")
)

// Keychain encrypts and decrypts credential strings. Safe for concurrent use.
type Keychain struct {
	aead gocipher.AEAD
}

// New builds a Keychain from the configured key material. The key may be a
// base64-encoded 32-byte key (standard or URL-safe alphabet, padded or not);
// any other non-empty string is accepted and stretched to 32 bytes with
// SHA-256, so operators can supply an arbitrary passphrase. An empty key is
// an error.
func New(key string) (*Keychain, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	raw := deriveKey(key)

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("cipher: init AES: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: init GCM: %w", err)
	}
	return &Keychain{aead: aead}, nil
}

func deriveKey(key string) []byte {
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	} {
		if decoded, err := enc.DecodeString(key); err == nil && len(decoded) == 32 {
			return decoded
		}
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// Encrypt seals a plaintext credential. The result is URL-safe base64 of
// nonce||ciphertext and is safe to store and export.
func (k *Keychain) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: nonce: %w", err)
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Wrong-key, truncated, or
// tampered input yields ErrInvalidCiphertext, never a panic.
func (k *Keychain) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := k.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}

	nonce, data := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
