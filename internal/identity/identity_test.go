package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalSignVerifyRoundTrip(t *testing.T) {
	id, err := GenerateLocal()
	require.NoError(t, err)

	ctx := context.Background()
	pub, err := id.PublicKey(ctx)
	require.NoError(t, err)

	sig, err := id.Sign(ctx, []byte("hello"))
	require.NoError(t, err)
	require.True(t, Verify(pub, []byte("hello"), sig))
	require.False(t, Verify(pub, []byte("goodbye"), sig))
}

func TestLocalClosedRejectsCalls(t *testing.T) {
	id, err := GenerateLocal()
	require.NoError(t, err)
	id.Close()

	ctx := context.Background()
	_, err = id.PublicKey(ctx)
	require.ErrorIs(t, err, ErrClosed)

	_, err = id.Sign(ctx, []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewLocalRejectsBadSeedLength(t *testing.T) {
	_, err := NewLocal([]byte("short"))
	require.Error(t, err)
}
