package funder

import "math/big"

// Rate is a linear fee schedule: fee = base + amount*proportional/1_000_000,
// grounded on original_source's funder rate model and generalised from the
// teacher's routing.ChannelEdgePolicy fee_base_msat/fee_proportional_millionths.
type Rate struct {
	Base                 *big.Int
	ProportionalMillionths *big.Int
}

// ZeroRate never charges a fee, used for a destination's own outgoing edge
// and in tests.
func ZeroRate() Rate {
	return Rate{Base: big.NewInt(0), ProportionalMillionths: big.NewInt(0)}
}

// Calc computes the fee charged for forwarding amount across this edge.
func (r Rate) Calc(amount *big.Int) *big.Int {
	prop := new(big.Int).Mul(amount, r.ProportionalMillionths)
	prop.Div(prop, big.NewInt(1_000_000))
	return new(big.Int).Add(r.Base, prop)
}
