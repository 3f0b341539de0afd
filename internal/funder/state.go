// Package funder implements the Router/Funder event loop of spec.md §4.5:
// single-threaded, cooperative dispatch over friend messages, timer ticks
// and liveness changes, driving the per-friend token channels and the
// cross-friend forwarding algorithm of §4.5.1. Seller and buyer operations
// are Router methods called directly; no event carries user commands or
// index-route responses. Grounded on the teacher's htlcswitch.Switch (circuit map,
// ForwardPackets, single-writer event loop) and on
// original_source/components/funder/src/handler/*, generalised from HTLCs
// to this node's plain mutual-credit requests.
package funder

import (
	"math/big"

	"github.com/btcsuite/btclog"
	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/freezeguard"
	"github.com/meshcredit/fundd/internal/friend"
	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}

var (
	// ErrUnknownFriend is returned when an operation names a friend this
	// Router has no record of.
	ErrUnknownFriend = errors.New("funder: unknown friend")

	// ErrNotDestination is returned when a Commit/Receipt request names a
	// route whose last hop is not this node.
	ErrNotDestination = errors.New("funder: this node is not the route's destination")

	// ErrUnknownInvoice is returned when a request's invoice_hash matches
	// no open invoice.
	ErrUnknownInvoice = errors.New("funder: unknown invoice")

	// ErrOverpayment is returned when a request would pay more than an
	// invoice's outstanding balance.
	ErrOverpayment = errors.New("funder: request exceeds invoice's outstanding balance")
)

// rateKey identifies one directed fee schedule.
type rateKey struct {
	nextHop  mutualcredit.PublicKey
	currency mutualcredit.Currency
}

// PendingTransaction is the bookkeeping record kept for a request this node
// is forwarding, from the moment it passes the freeze guard until a
// Response or Cancel arrives from the next hop (spec.md §4.5.1 step 5,
// §9 "Coroutine control flow").
type PendingTransaction struct {
	RequestID  mutualcredit.RequestID
	Currency   mutualcredit.Currency
	PrevHop    mutualcredit.PublicKey
	NextHop    mutualcredit.PublicKey
	Request    *mutualcredit.McRequest
	FeeTaken   *big.Int
	ReservedAt *big.Int // the amount reserved against PrevHop's freeze-guard bucket
}

// Invoice is a seller-side open invoice (spec.md §6 "Seller ops").
type Invoice struct {
	Hash             mutualcredit.Hash32
	TotalDestPayment *big.Int
	Committed        *big.Int
}

// Outstanding is TotalDestPayment - Committed.
func (inv *Invoice) Outstanding() *big.Int {
	return new(big.Int).Sub(inv.TotalDestPayment, inv.Committed)
}

// PaymentStatus is a buyer-side open payment's lifecycle stage.
type PaymentStatus uint8

const (
	PaymentPending PaymentStatus = iota
	PaymentDone
	PaymentCancelled
)

// OpenPayment is a buyer-side in-flight payment (spec.md §6 "Buyer ops").
type OpenPayment struct {
	RequestID mutualcredit.RequestID
	Currency  mutualcredit.Currency
	Route     mutualcredit.Route
	Status    PaymentStatus
	Receipt   *Receipt
}

// Router owns every friend, the cross-friend forwarding tables, and the
// seller/buyer payment bookkeeping of one node (spec.md §4.5's
// FunderState). It is single-threaded: every exported method is intended
// to run on the one event-loop goroutine (spec.md §5).
type Router struct {
	LocalPublicKey mutualcredit.PublicKey
	Identity       identity.Service

	friends map[mutualcredit.PublicKey]*friend.State
	guard   *freezeguard.Guard
	rates   map[rateKey]Rate

	pending  map[mutualcredit.RequestID]*PendingTransaction
	invoices map[mutualcredit.Hash32]*Invoice
	payments map[mutualcredit.RequestID]*OpenPayment
}

// NewRouter creates an empty Router for localPublicKey.
func NewRouter(localPublicKey mutualcredit.PublicKey, signer identity.Service) *Router {
	return &Router{
		LocalPublicKey: localPublicKey,
		Identity:       signer,
		friends:        make(map[mutualcredit.PublicKey]*friend.State),
		guard:          freezeguard.New(),
		rates:          make(map[rateKey]Rate),
		pending:        make(map[mutualcredit.RequestID]*PendingTransaction),
		invoices:       make(map[mutualcredit.Hash32]*Invoice),
		payments:       make(map[mutualcredit.RequestID]*OpenPayment),
	}
}

// AddFriend registers a new friend record.
func (r *Router) AddFriend(f *friend.State) {
	r.friends[f.PublicKey] = f
}

// Friend looks up a friend by public key.
func (r *Router) Friend(pk mutualcredit.PublicKey) (*friend.State, bool) {
	f, ok := r.friends[pk]
	return f, ok
}

// SetRate configures the fee schedule charged when forwarding onto
// (nextHop, currency).
func (r *Router) SetRate(nextHop mutualcredit.PublicKey, currency mutualcredit.Currency, rate Rate) {
	r.rates[rateKey{nextHop, currency}] = rate
}

func (r *Router) rateFor(nextHop mutualcredit.PublicKey, currency mutualcredit.Currency) Rate {
	if rate, ok := r.rates[rateKey{nextHop, currency}]; ok {
		return rate
	}
	return ZeroRate()
}

// AddInvoice opens a new seller invoice.
func (r *Router) AddInvoice(hash mutualcredit.Hash32, totalDestPayment *big.Int) {
	r.invoices[hash] = &Invoice{
		Hash:             hash,
		TotalDestPayment: totalDestPayment,
		Committed:        big.NewInt(0),
	}
}

// CancelInvoice removes an open invoice (spec.md §6 "Seller ops").
func (r *Router) CancelInvoice(hash mutualcredit.Hash32) {
	delete(r.invoices, hash)
}

// Invoice looks up an open invoice by hash.
func (r *Router) Invoice(hash mutualcredit.Hash32) (*Invoice, bool) {
	inv, ok := r.invoices[hash]
	return inv, ok
}

// OpenPayment looks up a buyer-side payment by request id.
func (r *Router) OpenPayment(id mutualcredit.RequestID) (*OpenPayment, bool) {
	p, ok := r.payments[id]
	return p, ok
}

// InitPayment registers a new buyer-side payment before its Request is
// queued on the first hop (spec.md §6 "Buyer ops: init payment").
func (r *Router) InitPayment(id mutualcredit.RequestID, currency mutualcredit.Currency, route mutualcredit.Route) *OpenPayment {
	p := &OpenPayment{RequestID: id, Currency: currency, Route: route, Status: PaymentPending}
	r.payments[id] = p
	return p
}

// PendingByID looks up a transaction this node is currently forwarding.
func (r *Router) PendingByID(id mutualcredit.RequestID) (*PendingTransaction, bool) {
	p, ok := r.pending[id]
	return p, ok
}
