package funder

import (
	"github.com/meshcredit/fundd/internal/friend"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// OnFriendOffline freezes a friend's pending user requests in place
// (spec.md §4.5: "when a friend goes offline, freeze its pending user
// requests"). Routed transactions already in the pending table are left
// untouched; they resolve when a downstream response arrives or the
// channel resets (spec.md §5).
func (r *Router) OnFriendOffline(pk mutualcredit.PublicKey) {
	if f, ok := r.friends[pk]; ok {
		f.MarkOffline()
	}
}

// OnFriendOnline marks a friend live again and flushes its frozen pending
// user requests for re-dispatch (spec.md §4.5: "when it returns, flush
// queued operations").
func (r *Router) OnFriendOnline(pk mutualcredit.PublicKey) []friendPendingRequest {
	f, ok := r.friends[pk]
	if !ok {
		return nil
	}
	f.MarkSeen()
	return wrapPending(pk, f.DrainPendingUserRequests())
}

// OnFriendDisabled disables a friend and cancels its pending user requests
// synchronously (spec.md §5: disabling cancels pending user requests).
func (r *Router) OnFriendDisabled(pk mutualcredit.PublicKey) []friendPendingRequest {
	f, ok := r.friends[pk]
	if !ok {
		return nil
	}
	f.Disable()
	return wrapPending(pk, f.CancelPendingUserRequests())
}

// OnLivenessTimeout cancels a friend's pending user requests after its
// liveness TTL has elapsed without dropping its Enabled/Disabled
// configuration status (spec.md §5).
func (r *Router) OnLivenessTimeout(pk mutualcredit.PublicKey) []friendPendingRequest {
	f, ok := r.friends[pk]
	if !ok {
		return nil
	}
	f.MarkOffline()
	return wrapPending(pk, f.CancelPendingUserRequests())
}

// friendPendingRequest pairs a cancelled/flushed request with the friend it
// belonged to, for upward reporting.
type friendPendingRequest struct {
	Friend    mutualcredit.PublicKey
	RequestID mutualcredit.RequestID
	Currency  mutualcredit.Currency
}

func wrapPending(pk mutualcredit.PublicKey, reqs []friend.PendingUserRequest) []friendPendingRequest {
	out := make([]friendPendingRequest, len(reqs))
	for i, req := range reqs {
		out[i] = friendPendingRequest{Friend: pk, RequestID: req.RequestID, Currency: req.Currency}
	}
	return out
}
