package wire

import (
	"io"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// ErrUnknownOpKind is returned when decoding an Op with an unrecognised
// discriminator byte.
var ErrUnknownOpKind = errors.New("wire: unknown mutual-credit op kind")

func encodeOp(w io.Writer, op Op) error {
	if err := writeUint8(w, uint8(op.Kind)); err != nil {
		return err
	}
	if err := writeVarBytes(w, []byte(op.Currency)); err != nil {
		return err
	}

	switch op.Kind {
	case OpKindAddCurrency, OpKindRemoveCurrency:
		return nil

	case OpKindSetRemoteMaxDebt:
		return writeUint128(w, op.Amount)

	case OpKindRequest:
		return encodeMcRequest(w, op.Request)

	case OpKindResponse:
		if err := writeRequestID(w, op.RequestID); err != nil {
			return err
		}
		return writeUint128(w, op.FeesTaken)

	case OpKindCancel:
		return writeRequestID(w, op.RequestID)

	default:
		return errors.Errorf("wire: cannot encode op kind %d", op.Kind)
	}
}

func decodeOp(r io.Reader) (Op, error) {
	var op Op

	kind, err := readUint8(r)
	if err != nil {
		return op, err
	}
	op.Kind = OpKind(kind)

	currency, err := readVarBytes(r)
	if err != nil {
		return op, err
	}
	op.Currency = mutualcredit.Currency(currency)

	switch op.Kind {
	case OpKindAddCurrency, OpKindRemoveCurrency:
		return op, nil

	case OpKindSetRemoteMaxDebt:
		op.Amount, err = readUint128(r)
		return op, err

	case OpKindRequest:
		op.Request, err = decodeMcRequest(r)
		return op, err

	case OpKindResponse:
		op.RequestID, err = readRequestID(r)
		if err != nil {
			return op, err
		}
		op.FeesTaken, err = readUint128(r)
		return op, err

	case OpKindCancel:
		op.RequestID, err = readRequestID(r)
		return op, err

	default:
		return op, errors.Wrap(ErrUnknownOpKind, 0)
	}
}

func encodeMcRequest(w io.Writer, req *mutualcredit.McRequest) error {
	if err := writeRequestID(w, req.RequestID); err != nil {
		return err
	}
	if err := writeHash32(w, req.SrcHashedLock); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(len(req.Route))); err != nil {
		return err
	}
	for _, pk := range req.Route {
		if err := writePublicKey(w, pk); err != nil {
			return err
		}
	}
	if err := writeUint128(w, req.DestPayment); err != nil {
		return err
	}
	if err := writeHash32(w, req.InvoiceHash); err != nil {
		return err
	}
	return writeUint128(w, req.LeftFees)
}

func decodeMcRequest(r io.Reader) (*mutualcredit.McRequest, error) {
	req := &mutualcredit.McRequest{}

	var err error
	req.RequestID, err = readRequestID(r)
	if err != nil {
		return nil, err
	}
	req.SrcHashedLock, err = readHash32(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if n > mutualcredit.MaxRouteLen {
		return nil, errors.New("wire: route length exceeds maximum")
	}
	req.Route = make(mutualcredit.Route, n)
	for i := range req.Route {
		req.Route[i], err = readPublicKey(r)
		if err != nil {
			return nil, err
		}
	}
	req.DestPayment, err = readUint128(r)
	if err != nil {
		return nil, err
	}
	req.InvoiceHash, err = readHash32(r)
	if err != nil {
		return nil, err
	}
	req.LeftFees, err = readUint128(r)
	if err != nil {
		return nil, err
	}
	return req, nil
}
