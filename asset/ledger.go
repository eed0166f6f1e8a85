package asset

import (
	"encoding/json"
	"sort"
	"time"

	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
)

// DefaultMultiplier is the number of underlying units per option contract.
const DefaultMultiplier = 100

// Leg is one held option contract. Quantity is positive for long and negative for short
// legs; Cost accumulates every signed premium and commission contribution of the open
// quantity. A leg with zero quantity never stays in a ledger.
type Leg struct {
	Symbol         string                  `json:"-"`
	Expiration     time.Time               `json:"opex"`
	Strike         decimal.Decimal         `json:"strike"`
	Type           marketdata.ContractType `json:"contract_type"`
	Multiplier     int64                   `json:"shares_per_contract"`
	CreatedAt      time.Time               `json:"created_at"`
	Quantity       int64                   `json:"quantity"`
	Cost           decimal.Decimal         `json:"cost"`
	LastTradePrice *decimal.Decimal        `json:"last_trade_price,omitempty"`
	HedgeSymbol    string                  `json:"hedge_symbol,omitempty"`
}

// CostPerUnit is the average signed cost per underlying unit of the open quantity.
func (l *Leg) CostPerUnit() decimal.Decimal {
	units := l.Units()
	if units.IsZero() {
		return decimal.Zero
	}
	return l.Cost.Div(units)
}

// Units is Quantity times Multiplier.
func (l *Leg) Units() decimal.Decimal {
	return decimal.NewFromInt(l.Quantity * l.Multiplier)
}

func (l *Leg) clone() *Leg {
	c := *l
	if l.LastTradePrice != nil {
		v := *l.LastTradePrice
		c.LastTradePrice = &v
	}
	return &c
}

// Ledger is the set of held legs keyed by contract symbol.
type Ledger map[string]*Leg

// UnmarshalJSON restores the symbol of every leg from its key.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	raw := make(map[string]*Leg)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	for symbol, leg := range raw {
		if leg == nil {
			delete(raw, symbol)
			continue
		}
		leg.Symbol = symbol
		leg.Type = marketdata.ParseContractType(string(leg.Type))
		if leg.Multiplier == 0 {
			leg.Multiplier = DefaultMultiplier
		}
	}
	*l = raw
	return nil
}

// All returns every leg ordered by symbol.
func (l Ledger) All() []*Leg {
	out := make([]*Leg, 0, len(l))
	for _, leg := range l {
		out = append(out, leg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Side returns the legs of contract type t ordered by symbol.
func (l Ledger) Side(t marketdata.ContractType) []*Leg {
	out := make([]*Leg, 0)
	for _, leg := range l.All() {
		if leg.Type == t {
			out = append(out, leg)
		}
	}
	return out
}

// TotalCost is the sum of every leg's cost.
func (l Ledger) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range l {
		total = total.Add(leg.Cost)
	}
	return total
}

// NetQuantity sums the signed quantity of contract type t.
func (l Ledger) NetQuantity(t marketdata.ContractType) int64 {
	var n int64
	for _, leg := range l {
		if leg.Type == t {
			n += leg.Quantity
		}
	}
	return n
}

// Leg looks up a held leg.
func (a *Asset) Leg(symbol string) (*Leg, bool) {
	leg, ok := a.Legs[symbol]
	return leg, ok
}

// OpenLeg returns the leg of contract c, creating it with zero quantity and cost first if needed.
func (a *Asset) OpenLeg(c *marketdata.Contract, multiplier int64, now time.Time) *Leg {
	if leg, ok := a.Legs[c.Symbol]; ok {
		return leg
	}
	if a.Legs == nil {
		a.Legs = make(Ledger)
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	leg := &Leg{
		Symbol:     c.Symbol,
		Expiration: c.Expiration,
		Strike:     c.Strike,
		Type:       c.Type,
		Multiplier: multiplier,
		CreatedAt:  now,
		Cost:       decimal.Zero,
	}
	a.Legs[c.Symbol] = leg
	return leg
}

// DropLeg removes a leg; the ledger itself is released once empty.
func (a *Asset) DropLeg(symbol string) {
	delete(a.Legs, symbol)
	if len(a.Legs) == 0 {
		a.Legs = nil
	}
}
