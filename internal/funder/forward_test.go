package funder

import (
	"context"
	"math/big"
	"testing"

	"github.com/meshcredit/fundd/internal/friend"
	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/tokenchannel"
	"github.com/stretchr/testify/require"
)

type node struct {
	pk     mutualcredit.PublicKey
	id     identity.Service
	router *Router
}

func newNode(t *testing.T) node {
	t.Helper()
	ctx := context.Background()
	local, err := identity.GenerateLocal()
	require.NoError(t, err)
	pk, err := local.PublicKey(ctx)
	require.NoError(t, err)
	return node{pk: pk, id: local, router: NewRouter(pk, local)}
}

// linkFriends wires a friend.State on each side of a channel between a and b,
// marks both records online, and configures currency with the given
// symmetric max-debt limits.
// fAatB is b's own friend record for a (b's channel object); fBatA is a's
// own friend record for b (a's channel object) — read the name as "friend X
// as seen at node Y".
func linkFriends(t *testing.T, a, b node, currency mutualcredit.Currency, maxDebt int64) (fAatB, fBatA *friend.State) {
	t.Helper()
	fBatA = friend.New(a.pk, b.pk, "b", 0, nil)
	fAatB = friend.New(b.pk, a.pk, "a", 0, nil)

	require.NoError(t, fBatA.Channel.AddCurrency(currency))
	require.NoError(t, fAatB.Channel.AddCurrency(currency))

	lBatA, _ := fBatA.Channel.Ledger(currency)
	lAatB, _ := fAatB.Channel.Ledger(currency)
	lBatA.RemoteMaxDebt = big.NewInt(maxDebt)
	lBatA.LocalMaxDebt = big.NewInt(maxDebt)
	lAatB.RemoteMaxDebt = big.NewInt(maxDebt)
	lAatB.LocalMaxDebt = big.NewInt(maxDebt)

	fBatA.MarkSeen()
	fAatB.MarkSeen()

	a.router.AddFriend(fBatA)
	b.router.AddFriend(fAatB)
	return fAatB, fBatA
}

// TestThreeNodeChainForwardSuccess walks spec.md §8 scenario 1 end to end: A
// pays C 10 credits through relay B, which keeps a 1-credit fee, using
// direct ledger manipulation to stand in for the move-token exchange each
// hop would otherwise sign and send (tokenchannel's own tests already cover
// that signing/chain machinery).
func TestThreeNodeChainForwardSuccess(t *testing.T) {
	ctx := context.Background()
	a, b, c := newNode(t), newNode(t), newNode(t)

	fAatB, fBatA := linkFriends(t, a, b, "FST", 100)
	fBatC, fCatB := linkFriends(t, b, c, "FST", 100)
	b.router.SetRate(c.pk, "FST", Rate{Base: big.NewInt(1), ProportionalMillionths: big.NewInt(0)})

	var invoiceHash mutualcredit.Hash32
	invoiceHash[0] = 0x42
	c.router.AddInvoice(invoiceHash, big.NewInt(10))

	var rid mutualcredit.RequestID
	rid[0] = 1
	req := &mutualcredit.McRequest{
		RequestID:   rid,
		Route:       mutualcredit.Route{a.pk, b.pk, c.pk},
		DestPayment: big.NewInt(10),
		LeftFees:    big.NewInt(1),
		InvoiceHash: invoiceHash,
	}

	// A queues the Request on its own channel object for B; B applies the
	// mirrored effect on its own ledger for A.
	require.NoError(t, fBatA.Channel.QueueOp("FST", mutualcredit.OpRequest{Request: req}))
	lAatB, _ := fAatB.Channel.Ledger("FST")
	require.NoError(t, lAatB.ApplyReceived(mutualcredit.OpRequest{Request: req}))

	// B forwards to C.
	result, forwarded, err := b.router.ForwardRequest(ctx, a.pk, "FST", req)
	require.NoError(t, err)
	require.Equal(t, ForwardRelayed, result.Kind)
	require.Equal(t, c.pk, result.NextHop)
	require.Zero(t, forwarded.LeftFees.Cmp(big.NewInt(0)))

	// B queues the forwarded Request on its own channel object for C; C
	// applies the mirrored effect on its own ledger for B.
	require.NoError(t, fCatB.Channel.QueueOp("FST", mutualcredit.OpRequest{Request: forwarded}))
	lBatC, _ := fBatC.Channel.Ledger("FST")
	require.NoError(t, lBatC.ApplyReceived(mutualcredit.OpRequest{Request: forwarded}))

	// C is the destination.
	cResult, _, err := c.router.ForwardRequest(ctx, b.pk, "FST", forwarded)
	require.NoError(t, err)
	require.Equal(t, ForwardDelivered, cResult.Kind)
	require.True(t, cResult.Receipt.Verify(c.pk))

	// C queues its Response on its own channel object for B; B applies the
	// mirrored effect on its own ledger for C.
	require.NoError(t, fBatC.Channel.QueueOp("FST", mutualcredit.OpResponse{RequestID: rid, FeesTaken: big.NewInt(0)}))
	lCatB, _ := fCatB.Channel.Ledger("FST")
	require.NoError(t, lCatB.ApplyReceived(mutualcredit.OpResponse{RequestID: rid, FeesTaken: big.NewInt(0)}))

	// B resolves its pending transaction and mirrors the result upstream
	// toward A.
	prevHop, currency, op, ok := b.router.ResolveDownstream(rid, true, big.NewInt(0))
	require.True(t, ok)
	require.Equal(t, a.pk, prevHop)
	require.EqualValues(t, "FST", currency)

	mcOp, err := tokenchannel.ToMcOp(op)
	require.NoError(t, err)
	require.NoError(t, fAatB.Channel.QueueOp("FST", mcOp))
	lBatA, _ := fBatA.Channel.Ledger("FST")
	require.NoError(t, lBatA.ApplyReceived(mcOp))

	// Final balances match spec.md §8 scenario 1 exactly.
	require.Zero(t, lBatA.Balance.Cmp(big.NewInt(-11)))
	require.Zero(t, lAatB.Balance.Cmp(big.NewInt(11)))
	require.Zero(t, lCatB.Balance.Cmp(big.NewInt(-10)))
	require.Zero(t, lBatC.Balance.Cmp(big.NewInt(10)))

	_, stillPending := b.router.PendingByID(rid)
	require.False(t, stillPending)
}
