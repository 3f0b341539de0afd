package mutualcredit

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRequest(id byte, amt int64, fees int64) *McRequest {
	var rid RequestID
	rid[0] = id
	return &McRequest{
		RequestID:   rid,
		Route:       Route{{1}, {2}, {3}},
		DestPayment: big.NewInt(amt),
		LeftFees:    big.NewInt(fees),
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	sender := NewLedger("FST")
	receiver := NewLedger("FST")

	require.NoError(t, receiver.ApplyQueued(OpSetRemoteMaxDebt{Amount: big.NewInt(100)}))
	require.NoError(t, sender.ApplyReceived(OpSetRemoteMaxDebt{Amount: big.NewInt(100)}))

	req := newTestRequest(1, 10, 1)

	require.NoError(t, sender.ApplyQueued(OpRequest{Request: req}))
	require.NoError(t, receiver.ApplyReceived(OpRequest{Request: req}))

	require.Equal(t, big.NewInt(11), sender.RemotePendingDebt)
	require.Equal(t, big.NewInt(11), receiver.LocalPendingDebt)

	resp := OpResponse{RequestID: req.RequestID, FeesTaken: big.NewInt(0)}
	require.NoError(t, receiver.ApplyQueued(resp))
	require.NoError(t, sender.ApplyReceived(resp))

	// Invariant #2 of spec.md §8: recipient balance equals sender balance
	// inverted.
	require.Equal(t, 0, new(big.Int).Neg(sender.Balance).Cmp(receiver.Balance))
	require.Equal(t, big.NewInt(-10), sender.Balance)
	require.Equal(t, big.NewInt(10), receiver.Balance)

	require.Zero(t, sender.RemotePendingDebt.Sign())
	require.Zero(t, receiver.LocalPendingDebt.Sign())
}

func TestCancelReversesWithoutTouchingBalance(t *testing.T) {
	sender := NewLedger("FST")
	receiver := NewLedger("FST")
	require.NoError(t, receiver.ApplyQueued(OpSetRemoteMaxDebt{Amount: big.NewInt(100)}))
	require.NoError(t, sender.ApplyReceived(OpSetRemoteMaxDebt{Amount: big.NewInt(100)}))

	req := newTestRequest(2, 6, 0)
	require.NoError(t, sender.ApplyQueued(OpRequest{Request: req}))
	require.NoError(t, receiver.ApplyReceived(OpRequest{Request: req}))

	cancel := OpCancel{RequestID: req.RequestID}
	require.NoError(t, receiver.ApplyQueued(cancel))
	require.NoError(t, sender.ApplyReceived(cancel))

	require.Equal(t, big.NewInt(0), sender.Balance)
	require.Equal(t, big.NewInt(0), receiver.Balance)
	require.Zero(t, sender.RemotePendingDebt.Sign())
	require.Zero(t, receiver.LocalPendingDebt.Sign())
}

func TestMaxDebtExceededRejected(t *testing.T) {
	sender := NewLedger("FST")
	require.NoError(t, sender.ApplyReceived(OpSetRemoteMaxDebt{Amount: big.NewInt(10)}))

	req := newTestRequest(3, 20, 0)
	err := sender.ApplyQueued(OpRequest{Request: req})
	require.ErrorIs(t, err, ErrMaxDebtExceeded)

	// State must be unchanged after a rejected op.
	require.Equal(t, big.NewInt(0), sender.RemotePendingDebt)
}

func TestUnknownRequestIDRejected(t *testing.T) {
	l := NewLedger("FST")
	err := l.ApplyReceived(OpResponse{RequestID: RequestID{9}, FeesTaken: big.NewInt(0)})
	require.ErrorIs(t, err, ErrUnknownRequestID)
}

func TestRemoveCurrencyRequiresEmpty(t *testing.T) {
	sender := NewLedger("FST")
	require.NoError(t, sender.ApplyReceived(OpSetRemoteMaxDebt{Amount: big.NewInt(100)}))
	req := newTestRequest(4, 5, 0)
	require.NoError(t, sender.ApplyQueued(OpRequest{Request: req}))

	err := sender.ApplyQueued(OpRemoveCurrency{})
	require.ErrorIs(t, err, ErrNotEmpty)

	// A Cancel clears the pending debt without moving the balance, leaving
	// the ledger empty again.
	cancel := OpCancel{RequestID: req.RequestID}
	require.NoError(t, sender.ApplyReceived(cancel))
	require.NoError(t, sender.ApplyQueued(OpRemoveCurrency{}))
}

func TestInvalidRouteRejected(t *testing.T) {
	l := NewLedger("FST")
	req := newTestRequest(5, 1, 0)
	req.Route = Route{{1}}
	err := l.ApplyQueued(OpRequest{Request: req})
	require.ErrorIs(t, err, ErrInvalidRoute)
}

func TestRouteValidity(t *testing.T) {
	require.False(t, Route{{1}}.IsValid())
	require.True(t, Route{{1}}.IsPartValid())
	require.False(t, Route(nil).IsValid())
	require.True(t, Route(nil).IsPartValid())

	require.True(t, Route{{1}, {2}, {3}, {4}}.IsValid())
	require.True(t, Route{{1}, {2}, {3}, {4}, {1}}.IsValid())
	require.False(t, Route{{1}, {1}}.IsValid())
	require.False(t, Route{{1}, {2}, {3}, {2}, {4}}.IsValid())

	require.True(t, Route{{1}, {2}, {3}, {4}}.IsPartValid())
	require.False(t, Route{{1}, {2}, {3}, {4}, {1}}.IsPartValid())
	require.False(t, Route{{1}, {1}}.IsPartValid())
}

func TestCurrencyValidate(t *testing.T) {
	require.NoError(t, Currency("FST").Validate())
	require.Error(t, Currency("").Validate())
	require.Error(t, Currency("this-currency-token-is-too-long").Validate())
}
