package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedTokenGenerator(t *testing.T) {
	gen := NewFixedTokenGenerator("tok-1")

	tok, err := gen.NewToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	again, err := gen.NewToken()
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestFixedTokenGeneratorDefault(t *testing.T) {
	gen := NewFixedTokenGenerator("")
	tok, err := gen.NewToken()
	require.NoError(t, err)
	assert.Equal(t, "test-token-default", tok)
}
