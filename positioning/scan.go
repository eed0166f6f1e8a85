package positioning

import (
	"context"
	"fmt"
	"sort"

	"asset-trader/asset"
	"asset-trader/execution"
	"asset-trader/marketdata"
)

// maxScanPasses bounds the restarts of one side of a scan.
const maxScanPasses = 256

// Row is one leg of a side view together with its current contract snapshot.
type Row struct {
	Leg      *asset.Leg
	Contract *marketdata.Contract
	Coverage int64 // cumulative quantity up to this leg, see Coverage
}

// Adjuster inspects one row and reports whether it changed the ledger.
type Adjuster func(ctx context.Context, ledger asset.Ledger, side []Row, row Row) (bool, error)

// Less orders the rows of a side view.
type Less func(a, b Row) bool

// ByQuantity sorts ascending by signed quantity.
func ByQuantity(a, b Row) bool { return a.Leg.Quantity < b.Leg.Quantity }

// ByStrikeDesc sorts from the highest strike down.
func ByStrikeDesc(a, b Row) bool { return a.Leg.Strike.GreaterThan(b.Leg.Strike) }

// Coverage returns the running sum of quantity over a side, walking calls from the lowest
// strike up and puts from the highest down. A positive value at a long leg means the long
// exceeds the shorts before it; a negative value at a short leg is its uncovered quantity.
func Coverage(legs []*asset.Leg) map[string]int64 {
	if len(legs) == 0 {
		return map[string]int64{}
	}
	ordered := append([]*asset.Leg(nil), legs...)
	ascending := ordered[0].Type == marketdata.Call
	sort.SliceStable(ordered, func(i, j int) bool {
		if ascending {
			return ordered[i].Strike.LessThan(ordered[j].Strike)
		}
		return ordered[i].Strike.GreaterThan(ordered[j].Strike)
	})
	out := make(map[string]int64, len(ordered))
	var sum int64
	for _, leg := range ordered {
		sum += leg.Quantity
		out[leg.Symbol] = sum
	}
	return out
}

func sideView(l asset.Ledger, t marketdata.ContractType, chain marketdata.Chain, less Less) ([]Row, error) {
	legs := l.Side(t)
	coverage := Coverage(legs)
	rows := make([]Row, 0, len(legs))
	for _, leg := range legs {
		c, err := chain.Get(leg.Symbol)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Leg: leg, Contract: c, Coverage: coverage[leg.Symbol]})
	}
	// Legs arrive ordered by symbol, so equal keys keep a stable order.
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	return rows, nil
}

// Scan sweeps the call side and then the put side of the asset's ledger, calling adjust on
// each row in the given order. After any adjustment the side is rebuilt from the ledger
// and swept again from the top; a side ends after a pass with no adjustment.
func Scan(ctx context.Context, a *asset.Asset, chain marketdata.Chain, less Less, adjust Adjuster) error {
	if less == nil {
		less = ByQuantity
	}
	for _, leg := range a.Legs.All() {
		if leg.Type != marketdata.Call && leg.Type != marketdata.Put {
			return fmt.Errorf("%w: leg %s of %s", execution.ErrUnsupportedContract, leg.Symbol, a.DisplayName())
		}
	}

	for _, t := range []marketdata.ContractType{marketdata.Call, marketdata.Put} {
		settled := false
		for pass := 0; pass < maxScanPasses && !settled; pass++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := sideView(a.Legs, t, chain, less)
			if err != nil {
				return err
			}
			settled = true
			for _, row := range rows {
				adjusted, err := adjust(ctx, a.Legs, rows, row)
				if err != nil {
					return err
				}
				if adjusted {
					settled = false
					break
				}
			}
		}
		if !settled {
			return fmt.Errorf("%w: %s side of %s after %d passes", ErrScanDiverged, t, a.DisplayName(), maxScanPasses)
		}
	}
	return nil
}
