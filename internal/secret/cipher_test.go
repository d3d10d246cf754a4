package secret

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(1))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte(`[{"id":"abc"}]`))
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, string(sealed), "abc")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"abc"}]`, string(plain))
}

func TestCipher_NonceIsRandom(t *testing.T) {
	c, err := NewCipher(testKey(1))
	require.NoError(t, err)
	a, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_OpenFailures(t *testing.T) {
	c, err := NewCipher(testKey(1))
	require.NoError(t, err)
	other, err := NewCipher(testKey(2))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("payload"))
	require.NoError(t, err)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		data []byte
		c    *Cipher
	}{
		{"wrong key", sealed, other},
		{"tampered", tampered, c},
		{"plain json", []byte(`[]`), c},
		{"truncated", sealed[:len(magic)+4], c},
		{"empty", nil, c},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.c.Open(tt.data)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestNewCipher_BadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}
