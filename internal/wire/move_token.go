package wire

import (
	"bytes"
	"io"
	"math/big"

	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/sigbuf"
)

// Encode serialises the body of a MoveToken (used standalone when a token
// channel persists a batch, and nested inside MoveTokenRequest). The
// signature buffer is built separately by SignatureBuffer.
func (mt *MoveToken) Encode(w io.Writer) error {
	if err := writeUint64(w, uint64(len(mt.Operations))); err != nil {
		return err
	}
	for _, op := range mt.Operations {
		if err := encodeOp(w, op); err != nil {
			return err
		}
	}

	var relayBuf bytes.Buffer
	if err := encodeRelaysTLV(&relayBuf, mt.OptLocalRelays); err != nil {
		return err
	}
	if err := writeVarBytes(w, relayBuf.Bytes()); err != nil {
		return err
	}

	if err := writeFixed(w, mt.OldToken[:]); err != nil {
		return err
	}
	if err := writePublicKey(w, mt.LocalPublicKey); err != nil {
		return err
	}
	if err := writePublicKey(w, mt.RemotePublicKey); err != nil {
		return err
	}
	if err := writeUint64(w, mt.InconsistencyCounter); err != nil {
		return err
	}
	if err := writeUint128(w, mt.MoveTokenCounter); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(mt.BalancesForReset))); err != nil {
		return err
	}
	for _, b := range mt.BalancesForReset {
		if err := writeVarBytes(w, []byte(b.Currency)); err != nil {
			return err
		}
		if err := writeInt128(w, b.Balance); err != nil {
			return err
		}
	}

	if err := writeFixed(w, mt.RandNonce[:]); err != nil {
		return err
	}
	return writeFixed(w, mt.NewToken[:])
}

// Decode deserialises a MoveToken body written by Encode.
func (mt *MoveToken) Decode(r io.Reader) error {
	n, err := readUint64(r)
	if err != nil {
		return err
	}
	mt.Operations = make([]Op, n)
	for i := range mt.Operations {
		mt.Operations[i], err = decodeOp(r)
		if err != nil {
			return err
		}
	}

	relayBlob, err := readVarBytes(r)
	if err != nil {
		return err
	}
	relays, present, err := decodeRelaysTLV(bytes.NewReader(relayBlob), uint64(len(relayBlob)))
	if err != nil {
		return err
	}
	if present {
		mt.OptLocalRelays = relays
	} else {
		mt.OptLocalRelays = nil
	}

	old, err := readFixed(r, 64)
	if err != nil {
		return err
	}
	copy(mt.OldToken[:], old)

	mt.LocalPublicKey, err = readPublicKey(r)
	if err != nil {
		return err
	}
	mt.RemotePublicKey, err = readPublicKey(r)
	if err != nil {
		return err
	}
	mt.InconsistencyCounter, err = readUint64(r)
	if err != nil {
		return err
	}
	mt.MoveTokenCounter, err = readUint128(r)
	if err != nil {
		return err
	}

	bn, err := readUint64(r)
	if err != nil {
		return err
	}
	mt.BalancesForReset = make([]BalanceForReset, bn)
	for i := range mt.BalancesForReset {
		cur, err := readVarBytes(r)
		if err != nil {
			return err
		}
		mt.BalancesForReset[i].Currency = mutualcredit.Currency(cur)
		mt.BalancesForReset[i].Balance, err = readInt128(r)
		if err != nil {
			return err
		}
	}

	nonce, err := readFixed(r, 32)
	if err != nil {
		return err
	}
	copy(mt.RandNonce[:], nonce)

	newTok, err := readFixed(r, 64)
	if err != nil {
		return err
	}
	copy(mt.NewToken[:], newTok)
	return nil
}

// SignatureBuffer returns the canonical bytes the sender signs to produce
// NewToken: the MOVE_TOKEN tag followed by every field except NewToken
// itself, in fixed order (spec.md §4.1, §3).
func (mt *MoveToken) SignatureBuffer() []byte {
	sw := sigbuf.NewWriter(sigbuf.TagMoveToken)

	sw.PutVarCount(len(mt.Operations))
	for _, op := range mt.Operations {
		writeOpToSigBuf(sw, op)
	}

	if mt.OptLocalRelays == nil {
		sw.PutBool(false)
	} else {
		sw.PutBool(true)
		sw.PutVarCount(len(mt.OptLocalRelays))
		for _, relay := range mt.OptLocalRelays {
			sw.PutFixed(relay.PublicKey[:])
			sw.PutVarBytes([]byte(relay.Address))
		}
	}

	sw.PutFixed(mt.OldToken[:])
	sw.PutFixed(mt.LocalPublicKey[:])
	sw.PutFixed(mt.RemotePublicKey[:])
	sw.PutUint64(mt.InconsistencyCounter)
	putUint128(sw, mt.MoveTokenCounter)

	sw.PutVarCount(len(mt.BalancesForReset))
	for _, b := range mt.BalancesForReset {
		sw.PutVarBytes([]byte(b.Currency))
		putInt128(sw, b.Balance)
	}

	sw.PutFixed(mt.RandNonce[:])

	return sw.Bytes()
}

func writeOpToSigBuf(sw *sigbuf.Writer, op Op) {
	sw.PutUint8(uint8(op.Kind))
	sw.PutVarBytes([]byte(op.Currency))
	switch op.Kind {
	case OpKindAddCurrency, OpKindRemoveCurrency:
	case OpKindSetRemoteMaxDebt:
		putUint128(sw, op.Amount)
	case OpKindRequest:
		sw.PutFixed(op.Request.RequestID[:])
		sw.PutFixed(op.Request.SrcHashedLock[:])
		sw.PutVarCount(len(op.Request.Route))
		for _, pk := range op.Request.Route {
			sw.PutFixed(pk[:])
		}
		putUint128(sw, op.Request.DestPayment)
		sw.PutFixed(op.Request.InvoiceHash[:])
		putUint128(sw, op.Request.LeftFees)
	case OpKindResponse:
		sw.PutFixed(op.RequestID[:])
		putUint128(sw, op.FeesTaken)
	case OpKindCancel:
		sw.PutFixed(op.RequestID[:])
	}
}

func putUint128(sw *sigbuf.Writer, v *big.Int) {
	b := v.Bytes()
	var buf [16]byte
	copy(buf[16-len(b):], b)
	sw.PutFixed(buf[:])
}

func putInt128(sw *sigbuf.Writer, v *big.Int) {
	if v.Sign() < 0 {
		sw.PutUint8(1)
	} else {
		sw.PutUint8(0)
	}
	putUint128(sw, new(big.Int).Abs(v))
}

// ResetTermsSignatureBuffer returns the canonical bytes signed to produce
// ResetToken: the RESET_TERMS tag, the proposed inconsistency_counter, and
// the agreed-upon balances for reset (spec.md §4.3: "a fresh signature over
// (current channel state hash, new inconsistency_counter)" — the state hash
// is realised here as the full balances-for-reset vector, which is exactly
// the channel state that must match bit-for-bit between peers for a reset
// to be accepted).
func ResetTermsSignatureBuffer(counter uint64, balances []BalanceForReset) []byte {
	sw := sigbuf.NewWriter(sigbuf.TagResetTerms)
	sw.PutUint64(counter)
	sw.PutVarCount(len(balances))
	for _, b := range balances {
		sw.PutVarBytes([]byte(b.Currency))
		putInt128(sw, b.Balance)
	}
	return sw.Bytes()
}
