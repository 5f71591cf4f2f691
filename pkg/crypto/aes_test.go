package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestDeriveKey(t *testing.T) {
	key, err := DeriveKey(testKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = DeriveKey("zz")
	assert.Error(t, err)

	_, err = DeriveKey("abcd")
	assert.Error(t, err)
}

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	a, err := c.Seal([]byte("hello"), "ws-1")
	require.NoError(t, err)
	b, err := c.Seal([]byte("hello"), "ws-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce her seferinde farklı olmalı")

	plain, err := c.Open(a, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestCipher_OpenRejectsOtherWorkspace(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("hello"), "ws-1")
	require.NoError(t, err)

	_, err = c.Open(sealed, "ws-2")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Open("AAAA", "ws-1")
	assert.ErrorIs(t, err, ErrDecrypt)
}
