package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAESGCMRoundTrip(t *testing.T) {
	enc, err := NewAESGCMEncryptor(testKey)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("refresh_token_value")
	require.NoError(t, err)
	assert.NotEqual(t, "refresh_token_value", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh_token_value", plain)
}

func TestAESGCMNonceVariesPerEncryption(t *testing.T) {
	enc, err := NewAESGCMEncryptor(testKey)
	require.NoError(t, err)

	a, err := enc.Encrypt("same_plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same_plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAESGCMRejectsBadKey(t *testing.T) {
	t.Run("not hex", func(t *testing.T) {
		_, err := NewAESGCMEncryptor("zz")
		assert.Error(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := NewAESGCMEncryptor("0123456789abcdef")
		assert.Error(t, err)
	})
}

func TestAESGCMDecryptFailures(t *testing.T) {
	enc, err := NewAESGCMEncryptor(testKey)
	require.NoError(t, err)

	t.Run("not hex", func(t *testing.T) {
		_, err := enc.Decrypt("not-hex!")
		assert.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := enc.Decrypt("abcd")
		assert.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		sealed, err := enc.Encrypt("value")
		require.NoError(t, err)
		tampered := []byte(sealed)
		if tampered[len(tampered)-1] == '0' {
			tampered[len(tampered)-1] = '1'
		} else {
			tampered[len(tampered)-1] = '0'
		}
		_, err = enc.Decrypt(string(tampered))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewAESGCMEncryptor("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
		require.NoError(t, err)
		sealed, err := enc.Encrypt("value")
		require.NoError(t, err)
		_, err = other.Decrypt(sealed)
		assert.Error(t, err)
	})
}

func TestNoopEncryptor(t *testing.T) {
	enc := NoopEncryptor{}

	sealed, err := enc.Encrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", sealed)

	plain, err := enc.Decrypt("value")
	require.NoError(t, err)
	assert.Equal(t, "value", plain)
}
