package strategy

import (
	"context"
	"errors"
	"time"

	"asset-trader/marketdata"
	"asset-trader/positioning"
	"asset-trader/schedule"

	"go.uber.org/zap"
)

// Runner drives every bound asset once per market-data event: strategies first, then
// the structures' probes. Per-asset failures are logged and never stop other assets.
type Runner struct {
	bindings []*Binding
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(bindings []*Binding, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{bindings: bindings, logger: logger, now: time.Now}
}

func (r *Runner) SetClock(now func() time.Time) { r.now = now }

func (r *Runner) Bindings() []*Binding { return r.bindings }

// Instruments merges what active structures trade and what active strategies read.
func (r *Runner) Instruments() []positioning.Instrument {
	var lists [][]positioning.Instrument
	for _, b := range r.bindings {
		if !b.Active() {
			continue
		}
		lists = append(lists, b.Structure.Instruments(b.Asset), b.Strategy.Instruments(b.Asset))
	}
	return positioning.ActiveInstruments(lists...)
}

// RunStrategies runs each active strategy during normal hours. Outside its tradable
// window an asset is neutralized instead when its window asks for it, but only once the
// window's start has passed for the day.
func (r *Runner) RunStrategies(ctx context.Context, book *marketdata.Book) {
	now := r.now()
	for _, b := range r.bindings {
		if !b.Active() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}
		r.logSnapshot(b, book)
		if !schedule.IsNormalMarketHours(now) {
			continue
		}

		if !schedule.IsTradable(now, b.Window.StartAt, b.Window.NeutralizeAt) {
			start := schedule.DefaultStartTime
			if b.Window.StartAt != nil {
				start = *b.Window.StartAt
			}
			if schedule.Before(now, start) || !b.Window.Neutralizes() {
				continue
			}
			done, err := b.Structure.Neutralize(ctx, b.Asset, book)
			r.report(b, "neutralize", done, err)
			continue
		}

		traded, err := b.Strategy.Execute(ctx, b.Asset, b.Structure, book)
		r.report(b, b.Strategy.Name(), traded, err)
	}
}

// RunProbes runs each active structure's maintenance probe inside the default window.
func (r *Runner) RunProbes(ctx context.Context, book *marketdata.Book) {
	now := r.now()
	if !schedule.IsTradable(now, nil, nil) {
		return
	}
	for _, b := range r.bindings {
		if !b.Active() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return
		}
		adjusted, err := b.Structure.Probe(ctx, b.Asset, book)
		r.report(b, "probe", adjusted, err)
	}
}

func (r *Runner) report(b *Binding, action string, ok bool, err error) {
	log := r.logger.With(
		zap.String("asset", b.Asset.DisplayName()),
		zap.String("structure", b.Structure.Name()),
		zap.String("action", action))
	switch {
	case err == nil && ok:
		log.Info("Asset adjusted")
	case err == nil:
	case errors.Is(err, marketdata.ErrMissingMarketData):
		// Expected until the feed has delivered the asset's instruments.
		log.Debug("Skipped asset", zap.Error(err))
	default:
		log.Error("Asset action failed", zap.Error(err))
	}
}

func (r *Runner) logSnapshot(b *Binding, book *marketdata.Book) {
	if ce := r.logger.Check(zap.DebugLevel, "Asset snapshot"); ce != nil {
		delta, _ := b.Structure.Delta(b.Asset, book)
		value, profit, _ := b.Structure.MarketValue(b.Asset, book)
		ce.Write(
			zap.String("asset", b.Asset.DisplayName()),
			zap.Int64("delta", delta),
			zap.Stringer("cost", b.Structure.CostWithMargin(b.Asset)),
			zap.Stringer("market_value", value),
			zap.Stringer("profit", profit))
	}
}
