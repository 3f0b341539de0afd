// Package freezeguard implements the per-(prev_hop, currency) credit
// reservation table of spec.md §4.4: it is what lets this node safely
// forward a request before the downstream response arrives, by proving in
// advance that the credit it is about to advance can always be covered.
// Grounded on original_source/components/funder/src/handler/prepare.rs's
// freeze-guard verification pass and the teacher's htlcswitch in-flight
// HTLC bookkeeping (switch.go's circuit map serves the same "don't forward
// more than you can cover" role for Lightning HTLCs).
package freezeguard

import (
	"math/big"

	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// edge is the key identifying one directed reservation bucket.
type edge struct {
	prevHop  mutualcredit.PublicKey
	currency mutualcredit.Currency
}

// Guard tracks, per (prev_hop, currency), the sum of dest_payment+left_fees
// for every request currently forwarded through this node whose previous
// hop is prev_hop.
type Guard struct {
	reserved map[edge]*big.Int
	byReq    map[mutualcredit.RequestID]edge
}

// New creates an empty Guard.
func New() *Guard {
	return &Guard{
		reserved: make(map[edge]*big.Int),
		byReq:    make(map[mutualcredit.RequestID]edge),
	}
}

// Reserved returns the currently reserved sum for (prevHop, currency).
func (g *Guard) Reserved(prevHop mutualcredit.PublicKey, currency mutualcredit.Currency) *big.Int {
	e := edge{prevHop, currency}
	if v, ok := g.reserved[e]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// TryReserve attempts to add amount to the (prevHop, currency) reservation
// for requestID, accepting iff the new sum remains <= capacity. capacity is
// the caller-computed min(balance + remote_max_debt - remote_pending_debt,
// capacity_on_next_hop) of spec.md §4.4. On success the reservation is
// committed and tracked by requestID for later Release; on failure nothing
// changes.
func (g *Guard) TryReserve(requestID mutualcredit.RequestID, prevHop mutualcredit.PublicKey, currency mutualcredit.Currency, amount, capacity *big.Int) bool {
	e := edge{prevHop, currency}
	current := g.reserved[e]
	if current == nil {
		current = big.NewInt(0)
	}
	next := new(big.Int).Add(current, amount)
	if next.Cmp(capacity) > 0 {
		return false
	}
	g.reserved[e] = next
	g.byReq[requestID] = e
	return true
}

// Release frees the reservation held for requestID (its Response or Cancel
// has been resolved), the inverse of TryReserve's amount addition. amount
// must be the same value originally passed to TryReserve.
func (g *Guard) Release(requestID mutualcredit.RequestID, amount *big.Int) {
	e, ok := g.byReq[requestID]
	if !ok {
		return
	}
	current := g.reserved[e]
	if current == nil {
		return
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() <= 0 {
		delete(g.reserved, e)
	} else {
		g.reserved[e] = next
	}
	delete(g.byReq, requestID)
}

// HasReservation reports whether requestID currently holds a reservation,
// used to guard against double-release.
func (g *Guard) HasReservation(requestID mutualcredit.RequestID) bool {
	_, ok := g.byReq[requestID]
	return ok
}
