package fee

import (
	"testing"

	"github.com/chainmesh/corelayer/statemachine"
)

func points(pairs ...uint64) []PenaltyPoint {
	var out []PenaltyPoint
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, PenaltyPoint{
			Capacity: statemachine.NewTokenAmount(pairs[i]),
			Penalty:  statemachine.NewTokenAmount(pairs[i+1]),
		})
	}
	return out
}

func TestEstimateFlatOnlyWithNoPenaltyTable(t *testing.T) {
	s := Schedule{Flat: statemachine.NewTokenAmount(5), ProportionalPPM: 0}
	amt, rebate := s.Estimate(statemachine.NewTokenAmount(100), statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(900))
	if rebate {
		t.Fatalf("did not expect a rebate with no penalty table")
	}
	if amt.Uint64() != 5 {
		t.Fatalf("amt = %d, want 5", amt.Uint64())
	}
}

func TestEstimateRisingPenaltyProducesPositiveFee(t *testing.T) {
	// Penalty rises as balance falls: forwarding drains the outgoing
	// side's balance from 1000 to 0, moving the penalty from 0 to 100.
	s := Schedule{Penalty: points(0, 100, 1000, 0)}
	amt, rebate := s.Estimate(statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(0))
	if rebate {
		t.Fatalf("expected a fee, not a rebate")
	}
	if amt.Uint64() != 100 {
		t.Fatalf("amt = %d, want 100", amt.Uint64())
	}
}

func TestEstimateFallingPenaltyProducesRebateWhenUncapped(t *testing.T) {
	// Penalty falls as balance falls: forwarding moves the node's
	// balance towards the table's low-penalty end, so the imbalance term
	// is negative and, uncapped, should surface as a rebate.
	s := Schedule{Penalty: points(0, 0, 1000, 100), CapFees: false}
	amt, rebate := s.Estimate(statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(0))
	if !rebate {
		t.Fatalf("expected a rebate, got a fee of %d", amt.Uint64())
	}
	if amt.Uint64() != 100 {
		t.Fatalf("rebate = %d, want 100", amt.Uint64())
	}
}

func TestEstimateCapFeesZeroesNegativeTotalInsteadOfRebating(t *testing.T) {
	s := Schedule{Penalty: points(0, 0, 1000, 100), CapFees: true}
	amt, rebate := s.Estimate(statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(1000), statemachine.NewTokenAmount(0))
	if rebate {
		t.Fatalf("CapFees should clamp to a zero fee, not a rebate")
	}
	if !amt.IsZero() {
		t.Fatalf("amt = %d, want 0", amt.Uint64())
	}
}
