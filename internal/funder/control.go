package funder

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// ErrInvoiceNotFullyPaid is returned by CommitInvoice before the invoice's
// outstanding balance has reached zero.
var ErrInvoiceNotFullyPaid = errors.New("funder: invoice is not yet fully paid")

// CommitInvoice is the seller control op of spec.md §6 ("Seller ops:
// add/cancel/commit invoice") and scenario 5: it yields the signed Commit
// proving the invoice's full TotalDestPayment has been received, once every
// contributing request has already been applied via deliverLocally.
func (r *Router) CommitInvoice(ctx context.Context, hash mutualcredit.Hash32) (*Commit, error) {
	inv, ok := r.invoices[hash]
	if !ok {
		return nil, ErrUnknownInvoice
	}
	if inv.Outstanding().Sign() != 0 {
		return nil, ErrInvoiceNotFullyPaid
	}

	commit, err := SignCommit(ctx, r.Identity, hash, inv.Committed, inv.TotalDestPayment)
	if err != nil {
		return nil, err
	}
	delete(r.invoices, hash)
	return commit, nil
}
