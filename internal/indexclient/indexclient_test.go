package indexclient

import (
	"context"
	"testing"

	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/stretchr/testify/require"
)

func TestStaticReturnsRegisteredRoute(t *testing.T) {
	var a, b mutualcredit.PublicKey
	a[0], b[0] = 1, 2
	route := mutualcredit.Route{a, b}

	c := NewStatic()
	c.SetRoutes(b, "FST", []mutualcredit.Route{route})

	got, err := c.RequestRoutes(context.Background(), b, "FST", nil)
	require.NoError(t, err)
	require.Equal(t, []mutualcredit.Route{route}, got)
}

func TestStaticReturnsErrNoRouteWhenUnregistered(t *testing.T) {
	var b mutualcredit.PublicKey
	b[0] = 2
	c := NewStatic()

	_, err := c.RequestRoutes(context.Background(), b, "FST", nil)
	require.ErrorIs(t, err, ErrNoRoute)
}
