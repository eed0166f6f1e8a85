// Package strategy decides when a positioning structure trades. Strategies never size or
// price orders themselves; they only call the structure's bullish and bearish entries.
package strategy

import (
	"context"

	"asset-trader/asset"
	"asset-trader/marketdata"
	"asset-trader/positioning"
	"asset-trader/schedule"
)

// Strategy is the per-asset trade trigger.
type Strategy interface {
	Name() string
	// Instruments lists the bar histories the strategy reads.
	Instruments(a *asset.Asset) []positioning.Instrument
	Execute(ctx context.Context, a *asset.Asset, s positioning.Structure, book *marketdata.Book) (bool, error)
}

// Window bounds when a strategy may trade within the session.
type Window struct {
	StartAt           *schedule.TimeOfDay `yaml:"start_at,omitempty"`
	NeutralizeAt      *schedule.TimeOfDay `yaml:"neutralize_at,omitempty"`
	NeutralizeOnClose bool                `yaml:"neutralize_on_close"`
}

// Neutralizes reports whether positions are flattened outside the window.
func (w Window) Neutralizes() bool { return w.NeutralizeAt != nil || w.NeutralizeOnClose }

// Binding ties an asset to its resolved structure and strategy.
type Binding struct {
	Asset     *asset.Asset
	Structure positioning.Structure
	Strategy  Strategy
	Window    Window
}

// Active reports whether the binding should run.
func (b *Binding) Active() bool {
	return b != nil && b.Asset != nil && b.Asset.Enable && b.Structure != nil && b.Strategy != nil
}

// =============================================================================
// BUY
// =============================================================================

// Buy attempts a bullish trade on every event; the structure's availability and guards
// decide whether anything is placed.
type Buy struct{}

func (Buy) Name() string { return "buy" }

func (Buy) Instruments(*asset.Asset) []positioning.Instrument { return nil }

func (Buy) Execute(ctx context.Context, a *asset.Asset, s positioning.Structure, book *marketdata.Book) (bool, error) {
	return s.PlaceBullishTrade(ctx, a, book)
}
