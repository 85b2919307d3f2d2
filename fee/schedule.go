// Package fee implements the channel fee schedule: a flat fee, a
// proportional fee, and an optional imbalance-penalty piecewise-linear
// table (spec §3, §9).
//
// No repository in the retrieval pack ships an interpolation table shaped
// like this one (lnd's fee model is flat+proportional only), so the
// reconstruction of the continuous penalty function from a handful of
// (capacity, penalty) points is implemented directly against the stdlib;
// see DESIGN.md for why no pack dependency was a fit.
package fee

import (
	"github.com/chainmesh/corelayer/statemachine"
)

// PenaltyPoint is one knot of the piecewise-linear imbalance-penalty
// table: at the given channel capacity, the schedule assesses the given
// penalty.
type PenaltyPoint struct {
	Capacity statemachine.TokenAmount
	Penalty  statemachine.TokenAmount
}

// Schedule is a channel's fee schedule: flat, proportional, and an optional
// imbalance-penalty table with a cap flag (spec §3).
type Schedule struct {
	Flat          statemachine.TokenAmount
	ProportionalPPM uint32
	Penalty       []PenaltyPoint
	CapFees       bool
}

// Estimate computes the fee for moving amount through a hop whose
// outgoing-channel balance is balanceBefore, decreasing to balanceAfter
// once the transfer completes. The second return reports whether the
// result is a rebate (to be added to the forwarded amount) rather than a
// fee (to be subtracted from it): a falling penalty curve can make the
// imbalance term outweigh the flat+proportional fee (spec §9's "sign
// flip when fees cross zero"). With CapFees set, a negative total is
// clamped to a zero fee instead of becoming a rebate (spec §9 "cap the
// result at zero when the cap_fees flag is set").
func (s Schedule) Estimate(amount statemachine.TokenAmount, balanceBefore, balanceAfter statemachine.TokenAmount) (statemachine.TokenAmount, bool) {
	flatAndProportional := s.Flat
	proportional := amount.Uint64() * uint64(s.ProportionalPPM) / 1_000_000
	flatAndProportional, _ = flatAndProportional.Add(statemachine.NewTokenAmount(proportional))

	if len(s.Penalty) == 0 {
		return flatAndProportional, false
	}

	before := s.interpolate(balanceBefore)
	after := s.interpolate(balanceAfter)

	// The penalty is the cost imposed by moving balance from `before` to
	// `after`; since after < before (the outgoing end's balance
	// decreases as the node forwards outbound), a rising penalty curve
	// produces a positive imbalance fee and a falling one produces a
	// rebate.
	imbalance := after - before

	total := int64(flatAndProportional.Uint64()) + imbalance
	if total >= 0 {
		return statemachine.NewTokenAmount(uint64(total)), false
	}
	if s.CapFees {
		return statemachine.TokenAmount{}, false
	}
	return statemachine.NewTokenAmount(uint64(-total)), true
}

// interpolate reconstructs the continuous penalty function at capacity c by
// linearly interpolating between the two bracketing knots in the table.
func (s Schedule) interpolate(c statemachine.TokenAmount) int64 {
	points := s.Penalty
	if len(points) == 0 {
		return 0
	}
	cv := int64(c.Uint64())

	if cv <= int64(points[0].Capacity.Uint64()) {
		return int64(points[0].Penalty.Uint64())
	}
	last := points[len(points)-1]
	if cv >= int64(last.Capacity.Uint64()) {
		return int64(last.Penalty.Uint64())
	}

	for i := 0; i < len(points)-1; i++ {
		x0 := int64(points[i].Capacity.Uint64())
		x1 := int64(points[i+1].Capacity.Uint64())
		if cv < x0 || cv > x1 {
			continue
		}
		y0 := int64(points[i].Penalty.Uint64())
		y1 := int64(points[i+1].Penalty.Uint64())
		if x1 == x0 {
			return y0
		}
		return y0 + (y1-y0)*(cv-x0)/(x1-x0)
	}
	return 0
}
