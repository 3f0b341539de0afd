package funder

import (
	"context"
	"math/big"

	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/wire"
)

// ForwardKind discriminates the outcome of ForwardRequest.
type ForwardKind uint8

const (
	// ForwardCancelled means a Cancel must be queued back to prevHop.
	ForwardCancelled ForwardKind = iota
	// ForwardRelayed means the request was enqueued toward NextHop and a
	// PendingTransaction now tracks it.
	ForwardRelayed
	// ForwardDelivered means this node is the route's destination; the
	// request has already been applied against the named invoice.
	ForwardDelivered
)

// ForwardResult is the outcome of ForwardRequest, per spec.md §4.5.1.
type ForwardResult struct {
	Kind    ForwardKind
	NextHop mutualcredit.PublicKey
	Receipt *Receipt // set only when Kind == ForwardDelivered
}

// ForwardRequest implements spec.md §4.5.1: given an incoming McRequest on
// (prevHop, currency), decide whether to deliver it locally, relay it
// onward, or cancel it. On ForwardRelayed the caller is responsible for
// calling QueueOp(nextHop, currency, OpRequest{forwarded}) to actually place
// the forwarded request on the outgoing channel; ForwardRequest itself only
// decides and books the pending transaction + freeze-guard reservation.
func (r *Router) ForwardRequest(ctx context.Context, prevHop mutualcredit.PublicKey, currency mutualcredit.Currency, req *mutualcredit.McRequest) (*ForwardResult, *mutualcredit.McRequest, error) {
	idx := req.Route.IndexOf(r.LocalPublicKey)
	if idx < 0 {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}

	next := idx + 1
	if next >= len(req.Route) || req.Route[next] == r.LocalPublicKey {
		result, err := r.deliverLocally(ctx, req)
		return result, nil, err
	}

	nextHop := req.Route[next]
	if req.LeftFees.Sign() == 0 {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}

	fee := r.rateFor(nextHop, currency).Calc(new(big.Int).Add(req.DestPayment, req.LeftFees))
	if fee.Cmp(req.LeftFees) > 0 {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}

	nextHopFriend, ok := r.Friend(nextHop)
	if !ok || !nextHopFriend.CanSend() || !nextHopFriend.IsOnline() {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}
	nextLedger, ok := nextHopFriend.Channel.Ledger(currency)
	if !ok {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}
	capacityNextHop := new(big.Int).Sub(
		new(big.Int).Add(nextLedger.Balance, nextLedger.RemoteMaxDebt),
		nextLedger.RemotePendingDebt,
	)

	prevHopFriend, ok := r.Friend(prevHop)
	if !ok {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}
	prevLedger, ok := prevHopFriend.Channel.Ledger(currency)
	if !ok {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}
	capacityPrevHop := new(big.Int).Sub(
		new(big.Int).Add(prevLedger.Balance, prevLedger.RemoteMaxDebt),
		prevLedger.RemotePendingDebt,
	)

	capacity := capacityPrevHop
	if capacityNextHop.Cmp(capacity) < 0 {
		capacity = capacityNextHop
	}

	amount := new(big.Int).Add(req.DestPayment, req.LeftFees)
	if !r.guard.TryReserve(req.RequestID, prevHop, currency, amount, capacity) {
		return &ForwardResult{Kind: ForwardCancelled}, nil, nil
	}

	forwarded := req.Clone()
	forwarded.LeftFees = new(big.Int).Sub(req.LeftFees, fee)

	r.pending[req.RequestID] = &PendingTransaction{
		RequestID:  req.RequestID,
		Currency:   currency,
		PrevHop:    prevHop,
		NextHop:    nextHop,
		Request:    req.Clone(),
		FeeTaken:   fee,
		ReservedAt: amount,
	}

	return &ForwardResult{Kind: ForwardRelayed, NextHop: nextHop}, forwarded, nil
}

// deliverLocally handles the case where this node is the route's
// destination (spec.md §4.5.1 step 2).
func (r *Router) deliverLocally(ctx context.Context, req *mutualcredit.McRequest) (*ForwardResult, error) {
	inv, ok := r.invoices[req.InvoiceHash]
	if !ok {
		return &ForwardResult{Kind: ForwardCancelled}, nil
	}
	if req.DestPayment.Cmp(inv.Outstanding()) > 0 {
		return &ForwardResult{Kind: ForwardCancelled}, nil
	}
	inv.Committed = new(big.Int).Add(inv.Committed, req.DestPayment)

	receipt, err := SignReceipt(ctx, r.Identity, req.RequestID, req.InvoiceHash, req.DestPayment, inv.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	return &ForwardResult{Kind: ForwardDelivered, Receipt: receipt}, nil
}

// ResolveDownstream looks up the pending transaction opened when this node
// relayed requestID, releases its freeze-guard reservation, and returns the
// mirrored op to enqueue upstream toward PrevHop (spec.md §4.5.1 step 6).
// success indicates whether the downstream side returned a Response
// (true, with feesTaken already deducted from the amount this node keeps)
// or a Cancel (false).
func (r *Router) ResolveDownstream(requestID mutualcredit.RequestID, success bool, downstreamFeesTaken *big.Int) (prevHop mutualcredit.PublicKey, currency mutualcredit.Currency, op wire.Op, ok bool) {
	pt, found := r.pending[requestID]
	if !found {
		return prevHop, currency, op, false
	}
	r.guard.Release(requestID, pt.ReservedAt)
	delete(r.pending, requestID)

	if success {
		totalFees := new(big.Int).Add(pt.FeeTaken, downstreamFeesTaken)
		return pt.PrevHop, pt.Currency, wire.Op{
			Kind:      wire.OpKindResponse,
			Currency:  pt.Currency,
			RequestID: requestID,
			FeesTaken: totalFees,
		}, true
	}
	return pt.PrevHop, pt.Currency, wire.Op{
		Kind:      wire.OpKindCancel,
		Currency:  pt.Currency,
		RequestID: requestID,
	}, true
}
