package funder

import (
	"context"
	"math/big"

	"github.com/meshcredit/fundd/internal/identity"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/sigbuf"
)

// Receipt is the buyer-facing proof that a payment reached its destination
// (spec.md §8 property 5, scenario 1). It is signed by the destination's
// identity and verifies independently of the route taken.
type Receipt struct {
	RequestID        mutualcredit.RequestID
	InvoiceHash      mutualcredit.Hash32
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	Signature        [64]byte
}

func (r *Receipt) signatureBuffer() []byte {
	sw := sigbuf.NewWriter(sigbuf.TagReceipt)
	sw.PutFixed(r.RequestID[:])
	sw.PutFixed(r.InvoiceHash[:])
	putUint128(sw, r.DestPayment)
	putUint128(sw, r.TotalDestPayment)
	return sw.Bytes()
}

// SignReceipt builds and signs a Receipt for a request that has reached
// its destination.
func SignReceipt(ctx context.Context, signer identity.Service, requestID mutualcredit.RequestID, invoiceHash mutualcredit.Hash32, destPayment, totalDestPayment *big.Int) (*Receipt, error) {
	r := &Receipt{
		RequestID:        requestID,
		InvoiceHash:      invoiceHash,
		DestPayment:       destPayment,
		TotalDestPayment:  totalDestPayment,
	}
	sig, err := signer.Sign(ctx, r.signatureBuffer())
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	return r, nil
}

// Verify checks the receipt's signature against the destination's public
// key (spec.md §8 property 5).
func (r *Receipt) Verify(destPublicKey mutualcredit.PublicKey) bool {
	return identity.Verify(destPublicKey, r.signatureBuffer(), r.Signature)
}

// Commit is the seller-facing proof that an invoice (or one of its partial
// payments) has been finalised (spec.md scenario 5). TotalDestPayment is
// the invoice's full amount; DestPayment is this commit's increment. The
// final commit for an invoice is the one where the sum of every commit's
// DestPayment so far equals TotalDestPayment.
type Commit struct {
	InvoiceHash      mutualcredit.Hash32
	DestPayment      *big.Int
	TotalDestPayment *big.Int
	Signature        [64]byte
}

func (c *Commit) signatureBuffer() []byte {
	sw := sigbuf.NewWriter(sigbuf.TagCommit)
	sw.PutFixed(c.InvoiceHash[:])
	putUint128(sw, c.DestPayment)
	putUint128(sw, c.TotalDestPayment)
	return sw.Bytes()
}

// SignCommit builds and signs a Commit for an invoice's partial or final
// payment.
func SignCommit(ctx context.Context, signer identity.Service, invoiceHash mutualcredit.Hash32, destPayment, totalDestPayment *big.Int) (*Commit, error) {
	c := &Commit{
		InvoiceHash:      invoiceHash,
		DestPayment:       destPayment,
		TotalDestPayment:  totalDestPayment,
	}
	sig, err := signer.Sign(ctx, c.signatureBuffer())
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

// Verify checks the commit's signature against the seller's public key.
func (c *Commit) Verify(sellerPublicKey mutualcredit.PublicKey) bool {
	return identity.Verify(sellerPublicKey, c.signatureBuffer(), c.Signature)
}

// putUint128 mirrors wire's fixed-width u128 encoding for the signature
// buffers built in this package.
func putUint128(sw *sigbuf.Writer, v *big.Int) {
	b := v.Bytes()
	var buf [16]byte
	copy(buf[16-len(b):], b)
	sw.PutFixed(buf[:])
}
