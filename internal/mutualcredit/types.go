// Package mutualcredit implements the bilateral balance ledger described in
// spec.md §4.2: per-(friend, currency) balance, pending debts, max-debt
// limits, and the six operations that mutate them.
package mutualcredit

import (
	"math/big"

	"github.com/go-errors/errors"
)

// MaxCurrencyLen is the maximum byte length of a Currency token (spec.md §3).
const MaxCurrencyLen = 16

// MaxRouteLen is the maximum number of hops a FriendsRoute may carry
// (spec.md §3, grounded on original_source's MAX_ROUTE_LEN).
const MaxRouteLen = 32

// Currency is a short printable token identifying an independent credit
// ledger between two friends.
type Currency string

// Validate checks the printable-ASCII, length constraints of spec.md §3.
func (c Currency) Validate() error {
	if len(c) == 0 || len(c) > MaxCurrencyLen {
		return ErrInvalidCurrency
	}
	for _, r := range c {
		if r < 0x21 || r > 0x7e {
			return ErrInvalidCurrency
		}
	}
	return nil
}

// PublicKey is a 32-byte ed25519 public key identifying a node.
type PublicKey [32]byte

// RequestID uniquely identifies one in-flight transaction end to end.
type RequestID [16]byte

// Hash32 is a 32-byte hash (src_hashed_lock, invoice_hash, ...).
type Hash32 [32]byte

// Route is an ordered sequence of public keys a payment travels through
// (spec.md §3 FriendsRoute). Grounded on original_source
// components/funder/src/route.rs.
type Route []PublicKey

// IsValid reports whether the route has at least two distinct nodes, is no
// longer than MaxRouteLen, and has no repeated node except an allowed
// first==last cycle of length >= 3.
func (r Route) IsValid() bool {
	if len(r) < 2 || len(r) > MaxRouteLen {
		return false
	}
	last := r[len(r)-1]
	if last == r[0] {
		if len(r) <= 2 {
			// A -- A is not a valid cycle.
			return false
		}
		return noDuplicates(r[1:])
	}
	return noDuplicates(r)
}

// IsPartValid reports whether a partial, still-growing route (as built
// incrementally by an index client) is free of repetitions. Unlike IsValid,
// an empty or single-node part is allowed, and no first==last cycle is ever
// allowed in a partial route.
func (r Route) IsPartValid() bool {
	if len(r) >= MaxRouteLen {
		return false
	}
	return noDuplicates(r)
}

func noDuplicates(route []PublicKey) bool {
	seen := make(map[PublicKey]struct{}, len(route))
	for _, pk := range route {
		if _, ok := seen[pk]; ok {
			return false
		}
		seen[pk] = struct{}{}
	}
	return true
}

// IndexOf returns the index of pk in the route, or -1 if absent.
func (r Route) IndexOf(pk PublicKey) int {
	for i, k := range r {
		if k == pk {
			return i
		}
	}
	return -1
}

// McRequest is the in-flight transaction record of spec.md §3.
type McRequest struct {
	RequestID     RequestID
	SrcHashedLock Hash32
	Route         Route
	DestPayment   *big.Int
	InvoiceHash   Hash32
	LeftFees      *big.Int
}

// Clone returns a deep copy safe to store independently of the original.
func (r *McRequest) Clone() *McRequest {
	if r == nil {
		return nil
	}
	route := make(Route, len(r.Route))
	copy(route, r.Route)
	return &McRequest{
		RequestID:     r.RequestID,
		SrcHashedLock: r.SrcHashedLock,
		Route:         route,
		DestPayment:   new(big.Int).Set(r.DestPayment),
		InvoiceHash:   r.InvoiceHash,
		LeftFees:      new(big.Int).Set(r.LeftFees),
	}
}

var (
	// ErrInvalidCurrency is returned when a currency token fails validation.
	ErrInvalidCurrency = errors.New("mutualcredit: invalid currency token")

	// ErrUnknownCurrency is returned when an op references a currency this
	// ledger hasn't been initialised with (AddCurrency not yet applied).
	ErrUnknownCurrency = errors.New("mutualcredit: unknown currency")

	// ErrCurrencyExists is returned by AddCurrency when the currency is
	// already initialised.
	ErrCurrencyExists = errors.New("mutualcredit: currency already added")

	// ErrNotEmpty is returned by RemoveCurrency when balance or pending
	// debts are nonzero.
	ErrNotEmpty = errors.New("mutualcredit: currency has nonzero balance or pending debt")

	// ErrUnknownRequestID is returned when a Response/Cancel references a
	// request_id this ledger has no record of.
	ErrUnknownRequestID = errors.New("mutualcredit: unknown request_id")

	// ErrInvalidRoute is returned when an McRequest's route fails IsValid.
	ErrInvalidRoute = errors.New("mutualcredit: invalid route")

	// ErrMaxDebtExceeded is returned when an operation would violate the
	// balance invariants of spec.md §3.
	ErrMaxDebtExceeded = errors.New("mutualcredit: operation would exceed max debt")

	// ErrNegativeAmount is returned when an amount field is negative.
	ErrNegativeAmount = errors.New("mutualcredit: amount must be non-negative")
)
