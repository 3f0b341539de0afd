package friend

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/stretchr/testify/require"
)

func TestLivenessExpiresAfterTTL(t *testing.T) {
	var local, remote mutualcredit.PublicKey
	remote[0] = 1

	clk := clock.NewTestClock(time.Unix(0, 0))
	f := New(local, remote, "bob", 10*time.Second, clk)

	require.False(t, f.IsOnline())
	f.MarkSeen()
	require.True(t, f.IsOnline())

	clk.SetTime(time.Unix(0, 0).Add(5 * time.Second))
	require.True(t, f.IsOnline())

	clk.SetTime(time.Unix(0, 0).Add(20 * time.Second))
	require.False(t, f.IsOnline())
}

func TestDisableFreezesChannelButKeepsState(t *testing.T) {
	var local, remote mutualcredit.PublicKey
	remote[0] = 1
	f := New(local, remote, "bob", 0, nil)

	require.True(t, f.CanSend())
	f.Disable()
	require.False(t, f.CanSend())
	require.NotNil(t, f.Channel)
	f.Enable()
	require.True(t, f.CanSend())
}

func TestPendingUserRequestsDrainOnce(t *testing.T) {
	var local, remote mutualcredit.PublicKey
	f := New(local, remote, "bob", 0, nil)

	f.QueuePendingUserRequest(PendingUserRequest{Currency: "FST"})
	f.QueuePendingUserRequest(PendingUserRequest{Currency: "FST"})

	drained := f.DrainPendingUserRequests()
	require.Len(t, drained, 2)
	require.Empty(t, f.DrainPendingUserRequests())
}
