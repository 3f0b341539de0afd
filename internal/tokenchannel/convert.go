package tokenchannel

import (
	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/meshcredit/fundd/internal/wire"
)

// ToMcOp converts a wire-encoded operation into the mutualcredit.Op it
// represents. Exported so callers holding a wire.Op produced outside a
// Channel (e.g. funder.Router.ResolveDownstream's mirrored Response/Cancel)
// can still queue it with QueueOp.
func ToMcOp(op wire.Op) (mutualcredit.Op, error) {
	return toMcOp(op)
}

// toMcOp converts a wire-encoded operation into the mutualcredit.Op it
// represents, the inverse of fromMcOp.
func toMcOp(op wire.Op) (mutualcredit.Op, error) {
	switch op.Kind {
	case wire.OpKindAddCurrency:
		return mutualcredit.OpAddCurrency{}, nil
	case wire.OpKindSetRemoteMaxDebt:
		return mutualcredit.OpSetRemoteMaxDebt{Amount: op.Amount}, nil
	case wire.OpKindRemoveCurrency:
		return mutualcredit.OpRemoveCurrency{}, nil
	case wire.OpKindRequest:
		return mutualcredit.OpRequest{Request: op.Request}, nil
	case wire.OpKindResponse:
		return mutualcredit.OpResponse{RequestID: op.RequestID, FeesTaken: op.FeesTaken}, nil
	case wire.OpKindCancel:
		return mutualcredit.OpCancel{RequestID: op.RequestID}, nil
	default:
		return nil, errors.Errorf("tokenchannel: unknown op kind %d", op.Kind)
	}
}

// fromMcOp wraps a mutualcredit.Op for the wire, tagging it with currency.
func fromMcOp(currency mutualcredit.Currency, op mutualcredit.Op) wire.Op {
	switch o := op.(type) {
	case mutualcredit.OpAddCurrency:
		return wire.Op{Kind: wire.OpKindAddCurrency, Currency: currency}
	case mutualcredit.OpSetRemoteMaxDebt:
		return wire.Op{Kind: wire.OpKindSetRemoteMaxDebt, Currency: currency, Amount: o.Amount}
	case mutualcredit.OpRemoveCurrency:
		return wire.Op{Kind: wire.OpKindRemoveCurrency, Currency: currency}
	case mutualcredit.OpRequest:
		return wire.Op{Kind: wire.OpKindRequest, Currency: currency, Request: o.Request}
	case mutualcredit.OpResponse:
		return wire.Op{Kind: wire.OpKindResponse, Currency: currency, RequestID: o.RequestID, FeesTaken: o.FeesTaken}
	case mutualcredit.OpCancel:
		return wire.Op{Kind: wire.OpKindCancel, Currency: currency, RequestID: o.RequestID}
	default:
		panic("tokenchannel: unhandled mutualcredit.Op variant")
	}
}
