package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	tok, err := Static("abc").AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestHolder(t *testing.T) {
	var h Holder
	ctx := context.Background()

	_, err := h.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	h.Set("fresh")
	tok, err := h.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	h.Clear()
	_, err = h.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestHolderHonoursCancelledContext(t *testing.T) {
	h := NewHolder("tok")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.AccessToken(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
