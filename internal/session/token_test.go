package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTokenYieldsToken(t *testing.T) {
	supplier := StaticToken("secret")
	token, err := supplier()
	require.NoError(t, err)
	assert.Equal(t, "secret", token)
}

func TestStaticTokenEmptyFailsWithAuthMissing(t *testing.T) {
	supplier := StaticToken("")
	_, err := supplier()
	require.ErrorIs(t, err, ErrAuthMissing)
}
