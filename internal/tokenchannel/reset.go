package tokenchannel

import (
	"context"
	"math/big"

	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/wire"
)

// EnterInconsistency computes this side's reset proposal: a bumped
// inconsistency_counter, the current per-currency balances, and a fresh
// signature over both (spec.md §4.3). It is idempotent — calling it again
// before a reset resolves simply re-signs the same proposed terms.
func (c *Channel) EnterInconsistency(ctx context.Context, signer identity.Service) (*wire.ResetTerms, error) {
	if c.localTerms == nil {
		c.inconsistencyCounter++
	}
	balances := c.balancesForReset()

	buf := wire.ResetTermsSignatureBuffer(c.inconsistencyCounter, balances)
	sig, err := signer.Sign(ctx, buf)
	if err != nil {
		if c.localTerms == nil {
			c.inconsistencyCounter--
		}
		return nil, err
	}

	terms := &wire.ResetTerms{
		InconsistencyCounter: c.inconsistencyCounter,
		BalancesForReset:     balances,
		ResetToken:           sig,
	}
	c.localTerms = terms
	c.State = Inconsistent
	return terms, nil
}

// ReceiveResetTerms handles an incoming InconsistencyError. If we were not
// already Inconsistent, we first compute our own proposal so the two sides
// have something to compare. A reset is accepted, per spec.md §4.3, when
// the remote's inconsistency_counter is strictly greater than ours. When
// both sides propose the same counter, the terms of the side with the
// lexicographically smaller public key are adopted (with identical balances
// either proposal gives the same result), so both peers converge when they
// detect the same fault and race to propose reset terms (see DESIGN.md).
func (c *Channel) ReceiveResetTerms(ctx context.Context, signer identity.Service, remote *wire.ResetTerms) (resolved bool, err error) {
	if c.State != Inconsistent {
		if _, err := c.EnterInconsistency(ctx, signer); err != nil {
			return false, err
		}
	}
	c.remoteTerms = remote

	switch {
	case remote.InconsistencyCounter > c.inconsistencyCounter:
		c.applyReset(remote.InconsistencyCounter, remote.BalancesForReset)
		return true, nil
	case remote.InconsistencyCounter == c.inconsistencyCounter && balancesEqual(remote.BalancesForReset, c.localTerms.BalancesForReset):
		c.applyReset(remote.InconsistencyCounter, remote.BalancesForReset)
		return true, nil
	case remote.InconsistencyCounter == c.inconsistencyCounter:
		// Same counter, different balances: the smaller public key's terms
		// win.
		if bytesGreater(c.LocalPublicKey[:], c.RemotePublicKey[:]) {
			c.applyReset(remote.InconsistencyCounter, remote.BalancesForReset)
		} else {
			c.applyReset(c.localTerms.InconsistencyCounter, c.localTerms.BalancesForReset)
		}
		return true, nil
	default:
		return false, nil
	}
}

// applyReset rebuilds every currency's ledger from the agreed balances and
// resets the hash chain to a freshly-derived initial token, per spec.md
// §4.3's "both channels initialise as if fresh".
func (c *Channel) applyReset(newCounter uint64, balances []wire.BalanceForReset) {
	c.ledgers = make(map[mutualcredit.Currency]*mutualcredit.Ledger)
	c.currencyOrder = nil
	for _, b := range balances {
		c.ledgers[b.Currency] = mutualcredit.NewLedgerFromReset(b.Currency, b.Balance)
		c.currencyOrder = append(c.currencyOrder, b.Currency)
	}
	c.outgoing = make(map[mutualcredit.Currency][]wire.Op)
	c.pendingRelays = nil

	c.inconsistencyCounter = newCounter
	c.counter = 0
	c.lastToken = InitialToken(c.LocalPublicKey, c.RemotePublicKey)
	c.localTerms = nil
	c.remoteTerms = nil
	c.State = tieBreakInitialState(c.LocalPublicKey, c.RemotePublicKey)
}

func balancesEqual(a, b []wire.BalanceForReset) bool {
	if len(a) != len(b) {
		return false
	}
	idx := make(map[mutualcredit.Currency]*big.Int, len(a))
	for _, x := range a {
		idx[x.Currency] = x.Balance
	}
	for _, y := range b {
		bal, ok := idx[y.Currency]
		if !ok || bal.Cmp(y.Balance) != 0 {
			return false
		}
	}
	return true
}
