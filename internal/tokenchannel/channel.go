package tokenchannel

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/persistence"
	"github.com/meshcredit/fundd/internal/wire"
)

// DefaultMaxOperationsInBatch is spec.md §4.3's default batch size.
const DefaultMaxOperationsInBatch = 16

// AddCurrency configures a new ledger for currency on this channel and
// queues the AddCurrency op so the remote side mirrors it. Grounded on
// original_source's mutual_credit/utils.rs currency bring-up.
func (c *Channel) AddCurrency(currency mutualcredit.Currency) error {
	if err := currency.Validate(); err != nil {
		return err
	}
	if _, exists := c.ledgers[currency]; exists {
		return mutualcredit.ErrCurrencyExists
	}
	ledger := mutualcredit.NewLedger(currency)
	if err := ledger.ApplyQueued(mutualcredit.OpAddCurrency{}); err != nil {
		return err
	}
	c.ledgers[currency] = ledger
	c.currencyOrder = append(c.currencyOrder, currency)
	c.outgoing[currency] = append(c.outgoing[currency], fromMcOp(currency, mutualcredit.OpAddCurrency{}))
	return nil
}

// QueueOp applies op's mirror-image effect to our own ledger and, on
// success, appends it to the per-currency outgoing queue for the next
// assembled move-token (spec.md §4.2 "operations the sender queues are the
// mirror image").
func (c *Channel) QueueOp(currency mutualcredit.Currency, op mutualcredit.Op) error {
	ledger, ok := c.ledgers[currency]
	if !ok {
		return ErrUnknownCurrency
	}
	if err := ledger.ApplyQueued(op); err != nil {
		return err
	}
	c.outgoing[currency] = append(c.outgoing[currency], fromMcOp(currency, op))
	return nil
}

// QueueRelaysUpdate stages a relay-address update to ride the next
// move-token's opt_local_relays field.
func (c *Channel) QueueRelaysUpdate(relays []wire.RelayAddress) {
	c.pendingRelays = relays
}

// HasPendingOutgoing reports whether assembling a move-token right now
// would produce a non-empty batch.
func (c *Channel) HasPendingOutgoing() bool {
	if c.pendingRelays != nil {
		return true
	}
	for _, cur := range c.currencyOrder {
		if len(c.outgoing[cur]) > 0 {
			return true
		}
	}
	return false
}

// AssembleOutgoing drains at most maxOps operations round-robin across
// currencies' outgoing queues, stamps the hash-chain fields, signs the
// result, and advances the state to ConsistentOut. It refuses to emit an
// empty move-token (spec.md §4.3).
func (c *Channel) AssembleOutgoing(ctx context.Context, signer identity.Service, maxOps int) (*wire.MoveToken, error) {
	if !c.HasToken() {
		return nil, ErrWrongState
	}
	if maxOps <= 0 {
		maxOps = DefaultMaxOperationsInBatch
	}

	ops, consumed := c.peekRoundRobin(maxOps)
	if len(ops) == 0 && c.pendingRelays == nil {
		return nil, ErrEmptyBatch
	}

	mt := &wire.MoveToken{
		Operations:           ops,
		OptLocalRelays:        c.pendingRelays,
		OldToken:              c.lastToken,
		LocalPublicKey:        c.LocalPublicKey,
		RemotePublicKey:       c.RemotePublicKey,
		InconsistencyCounter:  c.inconsistencyCounter,
		MoveTokenCounter:      new(big.Int).SetUint64(c.counter + 1),
		BalancesForReset:      c.balancesForReset(),
	}

	sig, err := signer.Sign(ctx, mt.SignatureBuffer())
	if err != nil {
		return nil, err
	}
	mt.NewToken = sig

	// spec.md §4.5: the core must not proceed with an unpersisted mutation
	// batch. Persist the signed move-token before removing its operations
	// from the outgoing queues or advancing the hash chain, so a crash
	// here leaves the ops still queued for a retry rather than lost.
	if c.store != nil {
		if err := c.persist(ctx, mt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotPersisted, err)
		}
	}

	c.commitDrain(consumed)
	c.lastToken = sig
	c.counter++
	c.State = ConsistentOut
	c.pendingRelays = nil

	return mt, nil
}

func (c *Channel) persist(ctx context.Context, mt *wire.MoveToken) error {
	var buf bytes.Buffer
	if err := mt.Encode(&buf); err != nil {
		return err
	}
	mutations := make([]persistence.Mutation, len(mt.Operations))
	for i, op := range mt.Operations {
		mutations[i] = persistence.Mutation{Currency: op.Currency, OpBytes: nil}
	}
	return c.store.Apply(ctx, persistence.Batch{
		Friend:    c.RemotePublicKey,
		Counter:   mt.MoveTokenCounter.Uint64(),
		Mutations: mutations,
		MoveToken: buf.Bytes(),
	})
}

// peekRoundRobin returns up to maxOps operations cycling through
// currencies in the order they were added (spec.md §4.3, §4.5.1 tie-break
// rule) without mutating the outgoing queues; commitDrain performs the
// actual removal once the batch has been durably persisted.
func (c *Channel) peekRoundRobin(maxOps int) ([]wire.Op, map[mutualcredit.Currency]int) {
	var ops []wire.Op
	consumed := make(map[mutualcredit.Currency]int)
	if len(c.currencyOrder) == 0 {
		return ops, consumed
	}
	for len(ops) < maxOps {
		progressed := false
		for _, cur := range c.currencyOrder {
			if len(ops) >= maxOps {
				break
			}
			q := c.outgoing[cur]
			i := consumed[cur]
			if i >= len(q) {
				continue
			}
			ops = append(ops, q[i])
			consumed[cur] = i + 1
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return ops, consumed
}

// commitDrain removes the operations peekRoundRobin counted in consumed.
func (c *Channel) commitDrain(consumed map[mutualcredit.Currency]int) {
	for cur, n := range consumed {
		c.outgoing[cur] = c.outgoing[cur][n:]
	}
}

// ApplyIncoming validates and applies an incoming move-token per spec.md
// §4.3's five ordered checks. The first failure transitions the channel to
// Inconsistent and returns the triggering error; the caller is expected to
// then call EnterInconsistency to compute and send reset terms.
func (c *Channel) ApplyIncoming(ctx context.Context, mt *wire.MoveToken) error {
	if c.State != ConsistentOut && c.State != ConsistentIn {
		return ErrWrongState
	}

	if !identity.Verify(c.RemotePublicKey, mt.SignatureBuffer(), mt.NewToken) {
		c.State = Inconsistent
		return ErrBadSignature
	}
	if mt.OldToken != c.lastToken {
		c.State = Inconsistent
		return ErrBadOldToken
	}
	if mt.MoveTokenCounter.Cmp(new(big.Int).SetUint64(c.counter+1)) != 0 {
		c.State = Inconsistent
		return ErrBadCounter
	}
	if mt.InconsistencyCounter != c.inconsistencyCounter {
		c.State = Inconsistent
		return ErrInconsistencyCounterChanged
	}

	applied := make([]appliedOp, 0, len(mt.Operations))
	for _, wop := range mt.Operations {
		mop, err := toMcOp(wop)
		if err != nil {
			c.rollback(applied)
			c.State = Inconsistent
			return err
		}
		if wop.Kind == wire.OpKindAddCurrency {
			if _, exists := c.ledgers[wop.Currency]; !exists {
				ledger := mutualcredit.NewLedger(wop.Currency)
				c.ledgers[wop.Currency] = ledger
				c.currencyOrder = append(c.currencyOrder, wop.Currency)
				applied = append(applied, appliedOp{currency: wop.Currency, addedCurrency: true})
			}
			continue
		}
		ledger, ok := c.ledgers[wop.Currency]
		if !ok {
			c.rollback(applied)
			c.State = Inconsistent
			return ErrUnknownCurrency
		}
		if err := ledger.ApplyReceived(mop); err != nil {
			c.rollback(applied)
			c.State = Inconsistent
			return err
		}
		applied = append(applied, appliedOp{currency: wop.Currency})
	}

	if mt.OptLocalRelays != nil {
		// Relay updates are forwarded to the transport layer by the
		// caller; the channel itself only needs to accept the field as
		// part of the signed buffer.
		_ = mt.OptLocalRelays
	}

	// spec.md §4.5: the core must not proceed with an unpersisted mutation
	// batch. By this point every op has already been applied to the
	// in-memory ledgers above, so a persist failure here cannot be cleanly
	// rolled back the way rollback() undoes a mid-batch validation
	// failure; it is instead treated the same as any other commit fault
	// and drives the channel Inconsistent, relying on the reset protocol
	// to resynchronize authoritative balances.
	if c.store != nil {
		if err := c.persist(ctx, mt); err != nil {
			c.State = Inconsistent
			return fmt.Errorf("%w: %v", ErrNotPersisted, err)
		}
	}

	c.lastToken = mt.NewToken
	c.counter = mt.MoveTokenCounter.Uint64()
	c.State = ConsistentIn
	return nil
}

// appliedOp records the currency bring-ups performed earlier in a batch so
// they can be undone if a later op in the same batch fails (spec.md §4.3
// step 5: "any op failure aborts the batch"). Per-currency ledger mutations
// from Request/Response/Cancel need no symmetric rollback here: each one
// either fully commits or fully no-ops inside Ledger.ApplyReceived, and a
// batch failure always drives the channel into Inconsistent, whose only
// recovery path (EnterInconsistency + reset) replaces every currency's
// balance wholesale from the agreed BalancesForReset rather than relying on
// in-memory bookkeeping surviving the aborted batch.
type appliedOp struct {
	currency      mutualcredit.Currency
	addedCurrency bool
}

func (c *Channel) rollback(applied []appliedOp) {
	for i := len(applied) - 1; i >= 0; i-- {
		if applied[i].addedCurrency {
			delete(c.ledgers, applied[i].currency)
			c.currencyOrder = c.currencyOrder[:len(c.currencyOrder)-1]
		}
	}
}

// balancesForReset snapshots every currency's current balance, used both
// to populate BalancesForReset speculatively on outgoing move-tokens (for
// observability) and authoritatively when computing reset terms.
func (c *Channel) balancesForReset() []wire.BalanceForReset {
	out := make([]wire.BalanceForReset, 0, len(c.currencyOrder))
	for _, cur := range c.currencyOrder {
		out = append(out, wire.BalanceForReset{
			Currency: cur,
			Balance:  new(big.Int).Set(c.ledgers[cur].Balance),
		})
	}
	return out
}
