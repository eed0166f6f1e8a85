// Package positioning owns the accounting and order placement of an asset's holdings.
// A Structure is chosen once per asset and answers availability, valuation and the
// bullish, bearish, probe and neutralize operations the strategies drive.
package positioning

import (
	"context"
	"errors"
	"sort"

	"asset-trader/asset"
	"asset-trader/execution"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
)

var (
	ErrUndefinedRisk = errors.New("undefined risk")
	ErrScanDiverged  = errors.New("scan did not settle")
)

// Availability is the remaining room of an asset's budget in unit trades.
type Availability struct {
	BudgetLong     decimal.Decimal
	BullishTrades  int64
	BearishTrades  int64
	BullishVacancy float64 // fraction of capacity not yet deployed long
	BearishVacancy float64
	Denomination   int64 // units per trade
}

// Instrument is a market-data subscription a structure needs.
type Instrument struct {
	Ticker      string `json:"ticker"`
	Options     bool   `json:"options,omitempty"`
	MaxDTE      int    `json:"max_dte,omitempty"`
	StrikeCount int    `json:"strike_count,omitempty"`
}

// Structure is the positioning model of one asset.
type Structure interface {
	Name() string
	Instruments(a *asset.Asset) []Instrument
	Availability(a *asset.Asset, book *marketdata.Book) (Availability, error)
	CostWithMargin(a *asset.Asset) Margin
	CostPerUnit(a *asset.Asset, book *marketdata.Book) (decimal.Decimal, error)
	Delta(a *asset.Asset, book *marketdata.Book) (int64, error)
	MarketValue(a *asset.Asset, book *marketdata.Book) (value, pnl decimal.Decimal, err error)
	PlaceBullishTrade(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error)
	PlaceBearishTrade(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error)
	Probe(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error)
	Neutralize(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error)
}

// ActiveInstruments merges the instruments of every structure, dropping duplicates and
// keeping the widest option window per ticker.
func ActiveInstruments(lists ...[]Instrument) []Instrument {
	merged := make(map[string]Instrument)
	for _, list := range lists {
		for _, in := range list {
			cur, ok := merged[in.Ticker]
			if !ok {
				merged[in.Ticker] = in
				continue
			}
			cur.Options = cur.Options || in.Options
			cur.MaxDTE = max(cur.MaxDTE, in.MaxDTE)
			cur.StrikeCount = max(cur.StrikeCount, in.StrikeCount)
			merged[in.Ticker] = cur
		}
	}
	out := make([]Instrument, 0, len(merged))
	for _, in := range merged {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// placed turns an executor result into the structure's (adjusted, error) contract: a
// broker refusal is logged upstream and reported as no adjustment.
func placed(ok bool, err error) (bool, error) {
	if errors.Is(err, execution.ErrOrderRejected) {
		return false, nil
	}
	return ok, err
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
