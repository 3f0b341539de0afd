package funder

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/meshcredit/fundd/internal/friend"
	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/timersvc"
	"github.com/meshcredit/fundd/internal/tokenchannel"
	"github.com/meshcredit/fundd/internal/wire"
	"github.com/stretchr/testify/require"
)

type noopTimer struct{ ch chan time.Time }

func newNoopTimer() *noopTimer               { return &noopTimer{ch: make(chan time.Time)} }
func (t *noopTimer) Ticks() <-chan time.Time { return t.ch }
func (t *noopTimer) Resume()                 {}
func (t *noopTimer) Pause()                  {}
func (t *noopTimer) Stop()                   {}

func TestEventLoopDispatchesLivenessEvent(t *testing.T) {
	a, b := newNode(t), newNode(t)
	fBatA := friend.New(a.pk, b.pk, "b", 0, nil)
	a.router.AddFriend(fBatA)

	timers := &timersvc.Service{
		Keepalive:          newNoopTimer(),
		LivenessCheck:      newNoopTimer(),
		InconsistencyRetry: newNoopTimer(),
	}
	loop := NewEventLoop(a.router, timers, 4)

	ctx := context.Background()
	loop.Start(ctx)
	defer loop.Stop()

	loop.Push(LivenessEvent{Friend: fBatA.PublicKey, Online: true})
	require.Eventually(t, func() bool {
		return fBatA.IsOnline()
	}, time.Second, time.Millisecond)

	loop.RecordForward(&ForwardResult{Kind: ForwardRelayed})
	loop.RecordForward(&ForwardResult{Kind: ForwardCancelled})
	loop.RecordForward(&ForwardResult{Kind: ForwardDelivered})
	require.NotEmpty(t, loop.DumpState())
}

// TestEventLoopAppliesIncomingRequestAndRespondsLocally exercises spec.md
// §4.5's data flow end to end through the event loop itself: a
// FriendMessageEvent carrying a real signed move-token is pushed in,
// dispatch applies it via TokenChannel.ApplyIncoming, resolves the Request
// op it carried via Router.ForwardRequest, and queues the resulting
// Response back onto the sender's channel — all without the test calling
// ApplyIncoming/ForwardRequest directly.
func TestEventLoopAppliesIncomingRequestAndRespondsLocally(t *testing.T) {
	ctx := context.Background()
	a, b := newNode(t), newNode(t)
	fAatB, fBatA := linkFriends(t, a, b, "FST", 100)

	// Whichever side currently holds the token is the sender for this
	// single-hop exchange; the invoice lives at the other side.
	var (
		senderChannel, receiverChannel *tokenchannel.Channel
		senderID                       identity.Service
		receiverRouter                 *Router
		fromPK, toPK                   mutualcredit.PublicKey
	)
	if fBatA.Channel.HasToken() {
		senderChannel, receiverChannel = fBatA.Channel, fAatB.Channel
		senderID = a.id
		receiverRouter = b.router
		fromPK, toPK = a.pk, b.pk
	} else {
		senderChannel, receiverChannel = fAatB.Channel, fBatA.Channel
		senderID = b.id
		receiverRouter = a.router
		fromPK, toPK = b.pk, a.pk
	}

	var invoiceHash mutualcredit.Hash32
	invoiceHash[0] = 0x7
	receiverRouter.AddInvoice(invoiceHash, big.NewInt(10))

	var rid mutualcredit.RequestID
	rid[0] = 1
	req := &mutualcredit.McRequest{
		RequestID:   rid,
		Route:       mutualcredit.Route{fromPK, toPK},
		DestPayment: big.NewInt(10),
		LeftFees:    big.NewInt(1),
		InvoiceHash: invoiceHash,
	}
	require.NoError(t, senderChannel.QueueOp("FST", mutualcredit.OpRequest{Request: req}))

	mt, err := senderChannel.AssembleOutgoing(ctx, senderID, tokenchannel.DefaultMaxOperationsInBatch)
	require.NoError(t, err)

	timers := &timersvc.Service{
		Keepalive:          newNoopTimer(),
		LivenessCheck:      newNoopTimer(),
		InconsistencyRetry: newNoopTimer(),
	}
	loop := NewEventLoop(receiverRouter, timers, 4)
	loop.Start(ctx)
	defer loop.Stop()

	loop.Push(FriendMessageEvent{
		From:    fromPK,
		Message: &wire.MoveTokenRequest{MoveToken: *mt},
	})

	// linkFriends already left an AddCurrency op queued on the receiver, so
	// the request leaving the receiver's pending set is what shows the
	// Response was queued.
	require.Eventually(t, func() bool {
		l, ok := receiverChannel.Ledger("FST")
		if !ok || !receiverChannel.HasToken() {
			return false
		}
		_, stillPending := l.PendingLocalByID(rid)
		return !stillPending && receiverChannel.HasPendingOutgoing()
	}, time.Second, time.Millisecond, "receiver must apply the move-token and queue a Response back")

	inv, ok := receiverRouter.Invoice(invoiceHash)
	require.True(t, ok)
	require.Zero(t, inv.Outstanding().Sign())
}
