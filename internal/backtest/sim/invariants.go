package sim

import (
	"fmt"
	"math"
)

// Tolerance is the absolute slack allowed when comparing float accounting
// values that were converted from exact decimals
const Tolerance = 1e-6

// CheckInvariants verifies the accounting invariants of a finished run:
// equity = cash + holdings at every point, cash never below the leverage
// floor, open positions within max_positions, and realized plus unrealized
// pnl reconciling to the change in equity.
func CheckInvariants(res *Result) error {
	cfg := res.Config
	floor := -cfg.InitialCapital * cfg.LeverageLimit

	for _, pt := range res.EquityCurve {
		if math.Abs(pt.Equity-(pt.Cash+pt.HoldingsValue)) > Tolerance {
			return fmt.Errorf("%s: equity %.6f != cash %.6f + holdings %.6f",
				pt.Date.Format("2006-01-02"), pt.Equity, pt.Cash, pt.HoldingsValue)
		}
		if pt.Cash < floor-Tolerance {
			return fmt.Errorf("%s: cash %.6f below floor %.6f", pt.Date.Format("2006-01-02"), pt.Cash, floor)
		}
		if cfg.Mode != ModeIndependent && pt.OpenPositions > cfg.MaxPositions {
			return fmt.Errorf("%s: %d open positions exceed max_positions %d",
				pt.Date.Format("2006-01-02"), pt.OpenPositions, cfg.MaxPositions)
		}
	}

	if len(res.EquityCurve) == 0 {
		return nil
	}
	if diff := Reconcile(res); math.Abs(diff) > Tolerance*float64(1+len(res.Trades)+len(res.OpenPositions)) {
		return fmt.Errorf("reconciliation off by %.6f", diff)
	}
	return nil
}

// Reconcile returns (equity_final − capital) − (Σ realized pnl + Σ unrealized
// pnl of open positions). A correct run returns zero up to float rounding.
func Reconcile(res *Result) float64 {
	explained := 0.0
	for _, t := range res.Trades {
		explained += t.PnL
	}
	for _, p := range res.OpenPositions {
		explained += p.UnrealizedPnL
	}
	return (res.FinalEquity() - res.Config.InitialCapital) - explained
}
