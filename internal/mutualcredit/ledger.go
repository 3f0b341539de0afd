package mutualcredit

import (
	"math/big"

	"github.com/btcsuite/btclog"
)

// log is the package-level subsystem logger, wired by UseLogger. Defaults to
// disabled, matching the teacher's per-package btclog convention.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Op is the sum type of the six mutual-credit operations of spec.md §4.2.
type Op interface {
	isOp()
}

// OpAddCurrency initialises a ledger with zero balances.
type OpAddCurrency struct{}

// OpSetRemoteMaxDebt sets, from the queuer's point of view, the max debt the
// queuer allows the remote to owe them; the receiver stores it as its own
// LocalMaxDebt.
type OpSetRemoteMaxDebt struct {
	Amount *big.Int
}

// OpRemoveCurrency tears down a currency's ledger. Only valid when balance
// and all pending debts are zero.
type OpRemoveCurrency struct{}

// OpRequest forwards a new in-flight transaction onto this channel.
type OpRequest struct {
	Request *McRequest
}

// OpResponse resolves a previously forwarded request with success.
type OpResponse struct {
	RequestID RequestID
	// FeesTaken is the total fee kept by the responding side and every hop
	// after it on the route (0 at the destination).
	FeesTaken *big.Int
}

// OpCancel resolves a previously forwarded request with failure, reversing
// the pending-debt reservation without touching balance.
type OpCancel struct {
	RequestID RequestID
}

func (OpAddCurrency) isOp()      {}
func (OpSetRemoteMaxDebt) isOp() {}
func (OpRemoveCurrency) isOp()   {}
func (OpRequest) isOp()          {}
func (OpResponse) isOp()         {}
func (OpCancel) isOp()           {}

// Ledger is the per-(friend, currency) bilateral balance ledger of
// spec.md §3's McBalance, extended with the pending-transaction tables
// needed to resolve Response/Cancel ops against the Request that created
// them.
//
// A Ledger is owned exclusively by one TokenChannel (see
// internal/tokenchannel); it is not safe for concurrent use without an
// external lock, matching the single-threaded-owner model of spec.md §5.
type Ledger struct {
	Currency Currency

	Balance           *big.Int
	LocalPendingDebt  *big.Int
	RemotePendingDebt *big.Int
	LocalMaxDebt      *big.Int
	RemoteMaxDebt     *big.Int
	InFees            *big.Int
	OutFees           *big.Int

	// localPending holds requests WE received (incrementing
	// LocalPendingDebt) and have not yet resolved by queuing a Response or
	// Cancel back to the sender.
	localPending map[RequestID]*McRequest

	// remotePending holds requests WE queued (incrementing
	// RemotePendingDebt) and are waiting to hear back about via an
	// incoming Response or Cancel.
	remotePending map[RequestID]*McRequest
}

// NewLedger creates a freshly AddCurrency'd ledger for currency.
func NewLedger(currency Currency) *Ledger {
	return &Ledger{
		Currency:          currency,
		Balance:           big.NewInt(0),
		LocalPendingDebt:  big.NewInt(0),
		RemotePendingDebt: big.NewInt(0),
		LocalMaxDebt:      big.NewInt(0),
		RemoteMaxDebt:     big.NewInt(0),
		InFees:            big.NewInt(0),
		OutFees:           big.NewInt(0),
		localPending:      make(map[RequestID]*McRequest),
		remotePending:     make(map[RequestID]*McRequest),
	}
}

// NewLedgerFromReset rebuilds a ledger from agreed reset-terms
// balance_for_reset (spec.md §4.3 "both channels initialise as if fresh with
// balance equal to the agreed balance_for_reset").
func NewLedgerFromReset(currency Currency, balance *big.Int) *Ledger {
	l := NewLedger(currency)
	l.Balance = new(big.Int).Set(balance)
	return l
}

// IsEmpty reports whether balance and all pending debts are zero, the
// precondition for RemoveCurrency (spec.md §4.2).
func (l *Ledger) IsEmpty() bool {
	zero := big.NewInt(0)
	return l.Balance.Cmp(zero) == 0 &&
		l.LocalPendingDebt.Cmp(zero) == 0 &&
		l.RemotePendingDebt.Cmp(zero) == 0
}

// checkInvariants enforces spec.md §3's two balance invariants:
//
//	balance - local_pending_debt >= -remote_max_debt
//	balance + remote_pending_debt <= local_max_debt
func (l *Ledger) checkInvariants() error {
	lower := new(big.Int).Sub(l.Balance, l.LocalPendingDebt)
	negRemoteMax := new(big.Int).Neg(l.RemoteMaxDebt)
	if lower.Cmp(negRemoteMax) < 0 {
		return ErrMaxDebtExceeded
	}
	upper := new(big.Int).Add(l.Balance, l.RemotePendingDebt)
	if upper.Cmp(l.LocalMaxDebt) > 0 {
		return ErrMaxDebtExceeded
	}
	return nil
}

// ApplyReceived applies an operation that arrived from the remote side in an
// incoming move-token batch, per the "Applied by receiver" column of
// spec.md §4.2's table.
func (l *Ledger) ApplyReceived(op Op) error {
	switch o := op.(type) {
	case OpAddCurrency:
		return nil

	case OpSetRemoteMaxDebt:
		if o.Amount.Sign() < 0 {
			return ErrNegativeAmount
		}
		l.LocalMaxDebt = new(big.Int).Set(o.Amount)
		return nil

	case OpRemoveCurrency:
		if !l.IsEmpty() {
			return ErrNotEmpty
		}
		return nil

	case OpRequest:
		if !o.Request.Route.IsValid() {
			return ErrInvalidRoute
		}
		amt := totalOwed(o.Request)
		next := new(big.Int).Add(l.LocalPendingDebt, amt)
		prevPending, prevBalance := l.LocalPendingDebt, l.Balance
		l.LocalPendingDebt = next
		if err := l.checkInvariants(); err != nil {
			l.LocalPendingDebt = prevPending
			l.Balance = prevBalance
			return err
		}
		l.localPending[o.Request.RequestID] = o.Request.Clone()
		return nil

	case OpResponse:
		req, ok := l.remotePending[o.RequestID]
		if !ok {
			return ErrUnknownRequestID
		}
		amt := new(big.Int).Add(req.DestPayment, o.FeesTaken)
		l.Balance = new(big.Int).Sub(l.Balance, amt)
		l.RemotePendingDebt = new(big.Int).Sub(l.RemotePendingDebt, totalOwed(req))
		l.InFees = new(big.Int).Add(l.InFees, o.FeesTaken)
		delete(l.remotePending, o.RequestID)
		return nil

	case OpCancel:
		req, ok := l.remotePending[o.RequestID]
		if !ok {
			return ErrUnknownRequestID
		}
		l.RemotePendingDebt = new(big.Int).Sub(l.RemotePendingDebt, totalOwed(req))
		delete(l.remotePending, o.RequestID)
		return nil

	default:
		return ErrUnknownCurrency
	}
}

// ApplyQueued applies, to our own ledger, the mirror-image effect of an
// operation WE are about to place into our own outgoing batch, per
// spec.md §4.2 ("Operations the sender queues are the mirror image").
func (l *Ledger) ApplyQueued(op Op) error {
	switch o := op.(type) {
	case OpAddCurrency:
		return nil

	case OpSetRemoteMaxDebt:
		if o.Amount.Sign() < 0 {
			return ErrNegativeAmount
		}
		l.RemoteMaxDebt = new(big.Int).Set(o.Amount)
		return nil

	case OpRemoveCurrency:
		if !l.IsEmpty() {
			return ErrNotEmpty
		}
		return nil

	case OpRequest:
		if !o.Request.Route.IsValid() {
			return ErrInvalidRoute
		}
		amt := totalOwed(o.Request)
		next := new(big.Int).Add(l.RemotePendingDebt, amt)
		prevPending := l.RemotePendingDebt
		l.RemotePendingDebt = next
		if err := l.checkInvariants(); err != nil {
			l.RemotePendingDebt = prevPending
			return err
		}
		l.remotePending[o.Request.RequestID] = o.Request.Clone()
		return nil

	case OpResponse:
		req, ok := l.localPending[o.RequestID]
		if !ok {
			return ErrUnknownRequestID
		}
		amt := new(big.Int).Add(req.DestPayment, o.FeesTaken)
		l.Balance = new(big.Int).Add(l.Balance, amt)
		l.LocalPendingDebt = new(big.Int).Sub(l.LocalPendingDebt, totalOwed(req))
		l.OutFees = new(big.Int).Add(l.OutFees, o.FeesTaken)
		delete(l.localPending, o.RequestID)
		return nil

	case OpCancel:
		req, ok := l.localPending[o.RequestID]
		if !ok {
			return ErrUnknownRequestID
		}
		l.LocalPendingDebt = new(big.Int).Sub(l.LocalPendingDebt, totalOwed(req))
		delete(l.localPending, o.RequestID)
		return nil

	default:
		return ErrUnknownCurrency
	}
}

// totalOwed is dest_payment + left_fees, the amount an McRequest reserves
// against the pending-debt aggregate (spec.md §4.2's Request row).
func totalOwed(r *McRequest) *big.Int {
	return new(big.Int).Add(r.DestPayment, r.LeftFees)
}

// PendingLocalByID looks up a request we received and have not yet resolved.
func (l *Ledger) PendingLocalByID(id RequestID) (*McRequest, bool) {
	r, ok := l.localPending[id]
	return r, ok
}

// PendingRemoteByID looks up a request we queued and have not yet heard back
// about.
func (l *Ledger) PendingRemoteByID(id RequestID) (*McRequest, bool) {
	r, ok := l.remotePending[id]
	return r, ok
}

// BalanceReport is the delta snapshot produced after applying a batch of
// operations, consumed by the application's report stream (spec.md §6).
type BalanceReport struct {
	Currency          Currency
	Balance           *big.Int
	LocalPendingDebt  *big.Int
	RemotePendingDebt *big.Int
	InFees            *big.Int
	OutFees           *big.Int
}

// Report snapshots the current ledger state.
func (l *Ledger) Report() BalanceReport {
	return BalanceReport{
		Currency:          l.Currency,
		Balance:           new(big.Int).Set(l.Balance),
		LocalPendingDebt:  new(big.Int).Set(l.LocalPendingDebt),
		RemotePendingDebt: new(big.Int).Set(l.RemotePendingDebt),
		InFees:            new(big.Int).Set(l.InFees),
		OutFees:           new(big.Int).Set(l.OutFees),
	}
}
