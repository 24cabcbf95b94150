package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer(t *testing.T) {
	s, err := NewSealer("passphrase-for-tests")
	require.NoError(t, err)

	sealed, err := s.Seal("token-value")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "token-value")

	again, err := s.Seal("token-value")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between seals")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "token-value", plain)

	_, err = s.Open("not base64 !!")
	assert.ErrorIs(t, err, ErrSealed)
	_, err = s.Open("")
	assert.ErrorIs(t, err, ErrSealed)

	other, err := NewSealer("another-passphrase")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrSealed)

	_, err = NewSealer("")
	assert.Error(t, err)
}
