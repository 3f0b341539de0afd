// Package friend models one counterparty of this node: its relay
// addresses, enabled/disabled status, liveness, and the token channel
// carrying its mutual-credit ledgers (spec.md §4.4). Grounded on the
// teacher's channeldb.OpenChannel / peer.go liveness bookkeeping, using
// github.com/lightningnetwork/lnd/clock for injectable time the way the
// teacher does for its liveness and reconnect timers.
package friend

import (
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/persistence"
	"github.com/meshcredit/fundd/internal/tokenchannel"
	"github.com/meshcredit/fundd/internal/wire"
)

// Status is a friend's configuration status (spec.md §4.4).
type Status uint8

const (
	Enabled Status = iota
	Disabled
)

// PendingUserRequest is a buyer-initiated payment or seller invoice action
// waiting on this friend's liveness or token availability.
type PendingUserRequest struct {
	RequestID mutualcredit.RequestID
	Currency  mutualcredit.Currency
	Op        wire.Op
}

// State is the full per-friend record owned by the Funder.
type State struct {
	PublicKey mutualcredit.PublicKey
	Name      string
	Relays    []wire.RelayAddress
	Status    Status

	Channel *tokenchannel.Channel

	online       bool
	lastSeen     time.Time
	livenessTTL  time.Duration
	clock        clock.Clock

	pending []PendingUserRequest
}

// New creates a friend record with a fresh token channel backed by an
// in-memory mutation journal. Use NewWithStore to durably persist it.
func New(local, remote mutualcredit.PublicKey, name string, livenessTTL time.Duration, clk clock.Clock) *State {
	return NewWithStore(local, remote, name, livenessTTL, clk, persistence.NewMemory())
}

// NewWithStore is New, persisting the friend's token-channel batches
// through store instead of an implicit in-memory journal — production
// wiring passes a shared *persistence.BoltDB here.
func NewWithStore(local, remote mutualcredit.PublicKey, name string, livenessTTL time.Duration, clk clock.Clock, store persistence.Store) *State {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &State{
		PublicKey:   remote,
		Name:        name,
		Status:      Enabled,
		Channel:     tokenchannel.NewWithStore(local, remote, store),
		livenessTTL: livenessTTL,
		clock:       clk,
		lastSeen:    clk.Now(),
	}
}

// MarkSeen records a liveness signal (any received message or keepalive).
func (s *State) MarkSeen() {
	wasOffline := !s.online
	s.online = true
	s.lastSeen = s.clock.Now()
	if wasOffline {
		log.Debugf("friend %x: online", s.PublicKey[:4])
	}
}

// MarkOffline forces the friend offline, e.g. on transport disconnection.
func (s *State) MarkOffline() {
	if s.online {
		log.Debugf("friend %x: offline", s.PublicKey[:4])
	}
	s.online = false
}

// IsOnline reports current liveness, expiring it against livenessTTL.
func (s *State) IsOnline() bool {
	if !s.online {
		return false
	}
	if s.livenessTTL > 0 && s.clock.Now().Sub(s.lastSeen) > s.livenessTTL {
		s.online = false
		return false
	}
	return true
}

// Enable/Disable toggle Status (spec.md §4.4: "Disabled friends receive no
// outgoing messages; their token channels are frozen in place.").
func (s *State) Enable()  { s.Status = Enabled }
func (s *State) Disable() { s.Status = Disabled }

// CanSend reports whether this friend may currently be sent anything.
func (s *State) CanSend() bool {
	return s.Status == Enabled
}

// QueuePendingUserRequest stages a buyer/seller-originated op that cannot
// be queued onto the channel yet (friend offline or token unavailable).
func (s *State) QueuePendingUserRequest(req PendingUserRequest) {
	s.pending = append(s.pending, req)
}

// DrainPendingUserRequests removes and returns all staged requests, called
// once the friend becomes available again (spec.md §4.5 "Liveness change:
// ... when it returns, flush queued operations").
func (s *State) DrainPendingUserRequests() []PendingUserRequest {
	out := s.pending
	s.pending = nil
	return out
}

// CancelPendingUserRequests drops all staged requests, returning them so
// the caller can surface a Cancel upward (spec.md §5 "Cancellation and
// timeouts": disabling/disconnecting cancels pending user requests
// synchronously).
func (s *State) CancelPendingUserRequests() []PendingUserRequest {
	return s.DrainPendingUserRequests()
}
