// Package asset holds the per-asset record: configuration identity, budget and the mutable
// holdings (equity position or option leg ledger) with running profit and slippage.
package asset

import (
	"time"

	"asset-trader/budget"

	"github.com/shopspring/decimal"
)

// Asset is one independently budgeted trading position. A nil Position and an empty
// Legs ledger both mean the asset is flat.
type Asset struct {
	Name   string      `json:"name,omitempty"`
	Class  string      `json:"class"`
	Enable bool        `json:"enable"`
	Ticker string      `json:"ticker,omitempty"`
	Budget budget.Spec `json:"budget"`

	// Per-asset overrides of the class blueprint.
	EnableTrades        *bool            `json:"enable_trades,omitempty"`
	ExpectedRate        *float64         `json:"expected_rate,omitempty"`
	Denomination        *int64           `json:"denomination,omitempty"`
	TargetPremiumPerDay *decimal.Decimal `json:"target_premium_per_day,omitempty"`

	// Runtime state.
	Position       *Position        `json:"position,omitempty"`
	Legs           Ledger           `json:"leg_db,omitempty"`
	Profit         decimal.Decimal  `json:"profit"`
	Slippage       decimal.Decimal  `json:"slippage"`
	ATH            *decimal.Decimal `json:"ath,omitempty"`
	LastTradePrice *decimal.Decimal `json:"last_trade_price,omitempty"`
}

// Position is the equity holding of an accumulative asset.
type Position struct {
	Quantity   int64           `json:"quantity"`
	Cost       decimal.Decimal `json:"cost"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// DisplayName falls back to the ticker when the asset is unnamed.
func (a *Asset) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Ticker != "" {
		return a.Ticker
	}
	return "(No Name)"
}

// IsFlat reports whether the asset holds nothing.
func (a *Asset) IsFlat() bool {
	return (a.Position == nil || a.Position.Quantity == 0) && len(a.Legs) == 0
}

// Quantity returns the equity position, zero when flat.
func (a *Asset) Quantity() int64 {
	if a.Position == nil {
		return 0
	}
	return a.Position.Quantity
}

// PositionCost returns the equity cost basis, zero when flat.
func (a *Asset) PositionCost() decimal.Decimal {
	if a.Position == nil {
		return decimal.Zero
	}
	return a.Position.Cost
}

// SetLastTradePrice records p as the last trade price.
func (a *Asset) SetLastTradePrice(p decimal.Decimal) {
	a.LastTradePrice = &p
}

// Clone returns a deep copy suitable for publishing outside the event loop.
func (a *Asset) Clone() *Asset {
	c := *a
	if a.Position != nil {
		p := *a.Position
		c.Position = &p
	}
	if a.Legs != nil {
		c.Legs = make(Ledger, len(a.Legs))
		for k, v := range a.Legs {
			c.Legs[k] = v.clone()
		}
	}
	if a.ATH != nil {
		v := *a.ATH
		c.ATH = &v
	}
	if a.LastTradePrice != nil {
		v := *a.LastTradePrice
		c.LastTradePrice = &v
	}
	return &c
}
