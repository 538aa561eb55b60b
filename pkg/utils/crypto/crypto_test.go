package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("passphrase")
	require.NoError(t, err)

	sealed, err := c.Encrypt("ya29.refresh-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "refresh-token")

	again, err := c.Encrypt("ya29.refresh-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.refresh-token", plain)
}

func TestDecryptWithWrongKey(t *testing.T) {
	a, _ := NewCipher("one")
	b, _ := NewCipher("two")

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = b.Decrypt("%%%")
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestEmptyValues(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, ErrMissingKey)

	c, _ := NewCipher("k")
	out, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}
