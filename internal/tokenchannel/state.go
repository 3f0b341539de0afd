// Package tokenchannel implements the per-friend move-token state machine
// of spec.md §4.3: turn-taking over a signed hash chain, batched mutual
// credit operations, and the inconsistency/reset protocol. Grounded on the
// teacher's htlcswitch/link.go link-state machine (ConsistentIn/
// ConsistentOut/Inconsistent mirror the teacher's channel link states) and
// on original_source/components/funder/src/state.rs's FunderMutualCredit +
// TokenChannel split.
package tokenchannel

import (
	"crypto/sha512"

	"github.com/btcsuite/btclog"
	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/persistence"
	"github.com/meshcredit/fundd/internal/wire"
)

// log is the package-level subsystem logger, wired by UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// State is one node of spec.md §4.3's state-transition diagram.
type State uint8

const (
	// ConsistentIn means this side holds the token: it may assemble and
	// send the next move-token.
	ConsistentIn State = iota
	// ConsistentOut means this side has sent and is waiting for the
	// remote's next move-token.
	ConsistentOut
	// Inconsistent means a validation failure occurred; the channel is
	// frozen until a compatible reset is agreed.
	Inconsistent
)

func (s State) String() string {
	switch s {
	case ConsistentIn:
		return "ConsistentIn"
	case ConsistentOut:
		return "ConsistentOut"
	case Inconsistent:
		return "Inconsistent"
	default:
		return "Unknown"
	}
}

var (
	// ErrWrongState is returned when an operation is attempted in a state
	// that forbids it (e.g. assembling a move-token while not holding the
	// token, or applying ops while Inconsistent).
	ErrWrongState = errors.New("tokenchannel: operation not valid in current state")

	// ErrEmptyBatch is returned by AssembleOutgoing when there is nothing
	// to send: spec.md §4.3 forbids an empty move-token to prevent an
	// empty-token livelock.
	ErrEmptyBatch = errors.New("tokenchannel: refusing to emit an empty move-token")

	// ErrBadSignature is returned when an incoming move-token's new_token
	// does not verify under the remote public key.
	ErrBadSignature = errors.New("tokenchannel: new_token signature verification failed")

	// ErrBadOldToken is returned when old_token does not chain from our
	// last recorded token.
	ErrBadOldToken = errors.New("tokenchannel: old_token does not match last chain link")

	// ErrBadCounter is returned when move_token_counter is not exactly
	// previous+1.
	ErrBadCounter = errors.New("tokenchannel: move_token_counter is not previous+1")

	// ErrInconsistencyCounterChanged is returned when an incoming
	// move-token's inconsistency_counter does not match ours.
	ErrInconsistencyCounterChanged = errors.New("tokenchannel: inconsistency_counter changed outside reset")

	// ErrUnknownCurrency is returned when an op references a currency this
	// channel has no ledger for and the op is not AddCurrency.
	ErrUnknownCurrency = mutualcredit.ErrUnknownCurrency

	// ErrNotPersisted is returned by AssembleOutgoing/ApplyIncoming when the
	// batch's Store.Apply call fails; the caller must not treat the
	// move-token as sent/accepted (spec.md §4.5: "the core must not
	// proceed with an unpersisted mutation batch").
	ErrNotPersisted = errors.New("tokenchannel: move-token batch failed to persist")
)

// initialTokenTag domain-separates the deterministic initial token from any
// real signature; it is never produced by signing, only by hashing.
const initialTokenTag = "INITIAL_MOVE_TOKEN"

// InitialToken computes the deterministic old_token of the very first
// move-token on a channel between a and b, independent of which side
// computes it (spec.md §4.3: "a deterministic value derived from both
// public keys"). sha512 is used purely because it happens to produce the
// same 64 bytes a signature occupies on the wire; no signature is involved.
func InitialToken(a, b mutualcredit.PublicKey) [64]byte {
	lo, hi := a, b
	if bytesGreater(lo[:], hi[:]) {
		lo, hi = hi, lo
	}
	buf := make([]byte, 0, len(initialTokenTag)+64)
	buf = append(buf, initialTokenTag...)
	buf = append(buf, lo[:]...)
	buf = append(buf, hi[:]...)
	return sha512.Sum512(buf)
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// Channel is the per-friend token-channel state machine. It owns one
// mutualcredit.Ledger per currency and the signed hash-chain bookkeeping;
// it does not own transport or identity — those are supplied per call, per
// spec.md §9's "message passing replaces shared state". Batches are
// persisted through the Store the Channel was constructed with.
type Channel struct {
	LocalPublicKey  mutualcredit.PublicKey
	RemotePublicKey mutualcredit.PublicKey

	State State

	// lastToken is the new_token of the most recent message accepted into
	// the chain, whichever direction it travelled.
	lastToken [64]byte
	// counter is move_token_counter of the most recent accepted message.
	counter uint64
	// inconsistencyCounter is bumped when this side proposes reset terms
	// (EnterInconsistency) and set to the agreed value by a reset.
	inconsistencyCounter uint64

	ledgers map[mutualcredit.Currency]*mutualcredit.Ledger
	// currencyOrder preserves round-robin drain order across AddCurrency
	// calls (map iteration order is not stable).
	currencyOrder []mutualcredit.Currency
	outgoing      map[mutualcredit.Currency][]wire.Op
	pendingRelays []wire.RelayAddress

	localTerms  *wire.ResetTerms
	remoteTerms *wire.ResetTerms

	// store is the durability seam every assembled or accepted move-token
	// batch commits through before the in-memory counter/lastToken/State
	// advance (spec.md §4.5/§5). New defaults it to an in-memory Store so
	// existing call sites keep working; production wiring should use
	// NewWithStore with a persistence.BoltDB.
	store persistence.Store
}

// New creates a fresh Channel in its initial ConsistentIn/ConsistentOut
// state, determined by which public key is lexicographically smaller (the
// same tie-break used after a reset, so a brand-new channel and a
// just-reset channel converge on the same rule). The channel's mutation
// journal is kept in memory; use NewWithStore to durably persist it.
func New(local, remote mutualcredit.PublicKey) *Channel {
	return NewWithStore(local, remote, persistence.NewMemory())
}

// NewWithStore is New, persisting every batch through store instead of an
// implicit in-memory journal.
func NewWithStore(local, remote mutualcredit.PublicKey, store persistence.Store) *Channel {
	c := &Channel{
		LocalPublicKey:  local,
		RemotePublicKey: remote,
		lastToken:       InitialToken(local, remote),
		ledgers:         make(map[mutualcredit.Currency]*mutualcredit.Ledger),
		outgoing:        make(map[mutualcredit.Currency][]wire.Op),
		store:           store,
	}
	c.State = tieBreakInitialState(local, remote)
	return c
}

// Store returns the Store this channel persists batches through.
func (c *Channel) Store() persistence.Store { return c.store }

func tieBreakInitialState(local, remote mutualcredit.PublicKey) State {
	if bytesGreater(remote[:], local[:]) {
		return ConsistentIn
	}
	return ConsistentOut
}

// HasToken reports whether this side may assemble and send the next
// move-token.
func (c *Channel) HasToken() bool { return c.State == ConsistentIn }

// Counter returns the current move_token_counter.
func (c *Channel) Counter() uint64 { return c.counter }

// InconsistencyCounter returns the current inconsistency_counter.
func (c *Channel) InconsistencyCounter() uint64 { return c.inconsistencyCounter }

// Ledger returns the ledger for currency, if configured.
func (c *Channel) Ledger(currency mutualcredit.Currency) (*mutualcredit.Ledger, bool) {
	l, ok := c.ledgers[currency]
	return l, ok
}

// Currencies returns the configured currencies in stable round-robin order.
func (c *Channel) Currencies() []mutualcredit.Currency {
	out := make([]mutualcredit.Currency, len(c.currencyOrder))
	copy(out, c.currencyOrder)
	return out
}
