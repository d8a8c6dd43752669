package cipher

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	kc, err := New("operator-passphrase")
	require.NoError(t, err)

	ct, err := kc.Encrypt("abcd efgh ijkl mnop")
	require.NoError(t, err)
	assert.NotContains(t, ct, "abcd", "ciphertext must not contain plaintext")

	pt, err := kc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "abcd efgh ijkl mnop", pt)
}

func TestBase64Key(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	// The same 32 bytes under different encodings yield the same keychain.
	kcURL, err := New(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	kcStd, err := New(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)

	ct, err := kcURL.Encrypt("secret")
	require.NoError(t, err)
	pt, err := kcStd.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "secret", pt)
}

func TestEmptyKeyRejected(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrKeyRequired)
}

func TestWrongKey(t *testing.T) {
	kc1, err := New("key-one")
	require.NoError(t, err)
	kc2, err := New("key-two")
	require.NoError(t, err)

	ct, err := kc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = kc2.Decrypt(ct)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestCorruptCiphertext(t *testing.T) {
	kc, err := New("key")
	require.NoError(t, err)

	tests := []struct {
		name string
		ct   string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"truncated", base64.URLEncoding.EncodeToString([]byte("short"))},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kc.Decrypt(tt.ct)
			assert.ErrorIs(t, err, ErrInvalidCiphertext)
		})
	}
}

func TestTamperedCiphertext(t *testing.T) {
	kc, err := New("key")
	require.NoError(t, err)

	ct, err := kc.Encrypt("secret")
	require.NoError(t, err)

	sealed, err := base64.URLEncoding.DecodeString(ct)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF
	tampered := base64.URLEncoding.EncodeToString(sealed)

	_, err = kc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNonceUniqueness(t *testing.T) {
	kc, err := New("key")
	require.NoError(t, err)

	ct1, err := kc.Encrypt("same plaintext")
	require.NoError(t, err)
	ct2, err := kc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, ct1, ct2, "each encryption must use a fresh nonce")
}
