package positioning

import (
	"fmt"
	"math"
	"sort"

	"asset-trader/asset"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
)

// Margin is the premium paid plus the worst-case liability of a position. An Undefined
// margin (an uncovered short call) saturates: it exceeds every budget.
type Margin struct {
	Amount    decimal.Decimal
	Undefined bool
}

func Defined(amount decimal.Decimal) Margin { return Margin{Amount: amount} }

// Float64 reports +Inf for an undefined margin.
func (m Margin) Float64() float64 {
	if m.Undefined {
		return math.Inf(1)
	}
	return m.Amount.InexactFloat64()
}

func (m Margin) String() string {
	if m.Undefined {
		return "undefined"
	}
	return m.Amount.String()
}

// Headroom is budget minus margin, never negative; zero when undefined.
func (m Margin) Headroom(budget decimal.Decimal) decimal.Decimal {
	if m.Undefined {
		return decimal.Zero
	}
	return decimal.Max(decimal.Zero, budget.Sub(m.Amount))
}

// TotalCost returns Σ leg cost plus the larger of the call and put side liabilities.
//
// Put liability starts at strike × units of every short put and is reduced by long puts
// taken from the highest strike down, one unit of short quantity each. Call liability
// is measured against the highest held call strike and reduced by long calls taken from
// the lowest strike up.
func TotalCost(l asset.Ledger) Margin {
	if len(l) == 0 {
		return Defined(decimal.Zero)
	}
	if l.NetQuantity(marketdata.Call) < 0 {
		return Margin{Undefined: true}
	}

	calls := l.Side(marketdata.Call)
	maxCallStrike := decimal.Zero
	for _, leg := range calls {
		maxCallStrike = decimal.Max(maxCallStrike, leg.Strike)
	}

	putL := sideLiability(l.Side(marketdata.Put), false, func(leg *asset.Leg) decimal.Decimal {
		return leg.Strike
	})
	callL := sideLiability(calls, true, func(leg *asset.Leg) decimal.Decimal {
		return maxCallStrike.Sub(leg.Strike)
	})

	return Defined(l.TotalCost().Add(decimal.Max(decimal.Zero, callL, putL)))
}

// sideLiability sums distance × units over shorts, then nets longs in strike order while
// short quantity remains and the liability is still non-negative.
func sideLiability(legs []*asset.Leg, ascending bool, distance func(*asset.Leg) decimal.Decimal) decimal.Decimal {
	liability := decimal.Zero
	var remaining int64
	longs := make([]*asset.Leg, 0, len(legs))
	for _, leg := range legs {
		switch {
		case leg.Quantity < 0:
			units := decimal.NewFromInt(-leg.Quantity * leg.Multiplier)
			liability = liability.Add(distance(leg).Mul(units))
			remaining += -leg.Quantity
		case leg.Quantity > 0:
			longs = append(longs, leg)
		}
	}
	sort.SliceStable(longs, func(i, j int) bool {
		if ascending {
			return longs[i].Strike.LessThan(longs[j].Strike)
		}
		return longs[i].Strike.GreaterThan(longs[j].Strike)
	})

	for _, leg := range longs {
		if remaining <= 0 || liability.IsNegative() {
			break
		}
		q := min(remaining, leg.Quantity)
		liability = liability.Sub(distance(leg).Mul(decimal.NewFromInt(q * leg.Multiplier)))
		remaining -= q
	}
	return liability
}

// =============================================================================
// Ledger valuation
// =============================================================================

// LedgerDelta is Σ delta × quantity × multiplier, rounded per leg.
func LedgerDelta(l asset.Ledger, chain marketdata.Chain) (int64, error) {
	var total int64
	for _, leg := range l.All() {
		c, err := chain.Get(leg.Symbol)
		if err != nil {
			return 0, err
		}
		total += int64(math.Round(c.Delta * float64(leg.Quantity*leg.Multiplier)))
	}
	return total, nil
}

// LedgerMarketValue prices every leg at the side that would close it: shorts at the ask
// plus commission, longs at the bid less commission. It returns the value and the running
// profit (value less cost plus realized profit).
func LedgerMarketValue(a *asset.Asset, chain marketdata.Chain, commission, nonIdeal decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	value := decimal.Zero
	for _, leg := range a.Legs.All() {
		c, err := chain.Get(leg.Symbol)
		if err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to value %s: %w", a.DisplayName(), err)
		}
		mult := decimal.NewFromInt(leg.Multiplier)
		perContract := commission.Div(mult)
		var price decimal.Decimal
		if leg.Quantity < 0 {
			price = c.Ask.Mul(one.Add(nonIdeal)).Add(perContract)
		} else {
			price = c.Bid.Mul(one.Sub(nonIdeal)).Sub(perContract)
		}
		value = value.Add(price.Mul(leg.Units()))
	}
	return value, value.Sub(a.Legs.TotalCost()).Add(a.Profit), nil
}

var one = decimal.NewFromInt(1)
