package vm

import "github.com/ledgerproto/ledgerd/pkg/errs"

// GasMeter tracks cumulative gas usage against a total budget and rejects
// any single operation costing more than the per-op ceiling, independent
// of how much budget remains. The ceiling exists so one pathological
// instruction can't consume an entire tick's gas budget in one step.
type GasMeter struct {
	used    uint64
	limit   uint64
	ceiling uint64
}

// NewGasMeter constructs a meter with the given total budget and per-op
// ceiling. A zero ceiling means no per-op limit beyond the total budget.
func NewGasMeter(limit, ceiling uint64) *GasMeter {
	return &GasMeter{limit: limit, ceiling: ceiling}
}

// Consume charges cost against the meter. It fails with a
// errs.KindValidation error on a ceiling violation or budget exhaustion,
// the same classification as any other predicate failure.
func (g *GasMeter) Consume(cost uint64) error {
	if g.ceiling > 0 && cost > g.ceiling {
		return errs.Validationf("gas: op cost %d exceeds per-op ceiling %d", cost, g.ceiling)
	}
	if g.used+cost > g.limit {
		return errs.Validationf("gas: budget exhausted (%d/%d)", g.used+cost, g.limit)
	}
	g.used += cost
	return nil
}

// Used returns the cumulative gas consumed so far.
func (g *GasMeter) Used() uint64 {
	return g.used
}

// Remaining returns the gas left in the budget.
func (g *GasMeter) Remaining() uint64 {
	return g.limit - g.used
}
