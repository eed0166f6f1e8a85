package positioning

import (
	"context"

	"asset-trader/asset"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// exitPremium is the per-unit value of selling at the bid after drag, less commission
// spread over the units.
func (r *RatioSpread) exitPremium(row Row, contracts int64) decimal.Decimal {
	s := r.exec.Settings()
	perUnit := s.Commission.Div(decimal.NewFromInt(row.Leg.Multiplier))
	return row.Contract.Bid.Mul(one.Sub(s.NonIdeal)).Sub(perUnit.Mul(decimal.NewFromInt(contracts)))
}

// closeProfitableLongs closes a long once its exit premium reaches LongProfitTarget of
// its cost per unit, provided it is not consumed covering shorts. A hedged long buys its
// hedge contract instead.
func (r *RatioSpread) closeProfitableLongs(a *asset.Asset, chain marketdata.Chain) Adjuster {
	return func(ctx context.Context, _ asset.Ledger, _ []Row, row Row) (bool, error) {
		leg := row.Leg
		if leg.Quantity <= 0 {
			return false, nil
		}
		cpu := leg.CostPerUnit()
		premium := r.exitPremium(row, leg.Quantity)
		target := r.config.LongProfitTarget.Mul(cpu)
		if row.Coverage <= 0 || target.GreaterThan(premium) {
			return false, nil
		}

		r.logger.Info("Closing profitable long",
			zap.String("asset", a.DisplayName()),
			zap.String("symbol", leg.Symbol),
			zap.Stringer("cost_per_unit", cpu),
			zap.Stringer("premium", premium))
		if leg.HedgeSymbol != "" {
			if hedge, err := chain.Get(leg.HedgeSymbol); err == nil {
				ok, err := placed(r.exec.PlaceSingle(ctx, a, leg.Quantity, hedge, ""))
				if err != nil || ok {
					return ok, err
				}
			}
		}
		return placed(r.exec.PlaceSingle(ctx, a, -leg.Quantity, row.Contract, ""))
	}
}

// closeProfitableOrUncoveredShorts buys back a short once it is cheap relative to the
// credit received, or buys back its uncovered part once that reaches ShortLossLimit.
func (r *RatioSpread) closeProfitableOrUncoveredShorts(a *asset.Asset) Adjuster {
	return func(ctx context.Context, _ asset.Ledger, _ []Row, row Row) (bool, error) {
		leg := row.Leg
		if leg.Quantity >= 0 {
			return false, nil
		}
		cpu := leg.CostPerUnit()
		premium := r.exitPremium(row, -leg.Quantity)
		target := decimal.Max(r.config.MaxBuyMarginPremium, r.config.ShortProfitTarget.Mul(cpu))
		loss := r.config.ShortLossLimit.Mul(cpu)

		var qty int64
		switch {
		case target.GreaterThanOrEqual(premium):
			qty = -leg.Quantity
		case row.Coverage < 0 && loss.LessThanOrEqual(premium):
			qty = -row.Coverage
		default:
			return false, nil
		}

		r.logger.Info("Closing short",
			zap.String("asset", a.DisplayName()),
			zap.String("symbol", leg.Symbol),
			zap.Int64("coverage", row.Coverage),
			zap.Int64("quantity", qty),
			zap.Stringer("cost_per_unit", cpu),
			zap.Stringer("premium", premium))
		return placed(r.exec.PlaceSingle(ctx, a, qty, row.Contract, ""))
	}
}

// rollProfitableLongs replaces a long worth twice its cost with the nearest-the-money
// contract of the same expiration and type costing no more than the original did. With
// no such contract the long is closed.
func (r *RatioSpread) rollProfitableLongs(a *asset.Asset, chain marketdata.Chain) Adjuster {
	return func(ctx context.Context, _ asset.Ledger, _ []Row, row Row) (bool, error) {
		leg := row.Leg
		if leg.Quantity <= 0 {
			return false, nil
		}
		s := r.exec.Settings()
		cpu := leg.CostPerUnit()
		perUnit := s.Commission.Div(decimal.NewFromInt(leg.Multiplier))
		premium := row.Contract.Bid.Mul(one.Sub(s.NonIdeal)).Sub(perUnit)
		if cpu.Mul(decimal.NewFromInt(2)).GreaterThan(premium) {
			return false, nil
		}

		targetAsk := cpu.Mul(one.Sub(s.NonIdeal)).Sub(perUnit)
		candidates := chain.Filter(func(c *marketdata.Contract) bool {
			if c.Symbol == leg.Symbol || c.Type != leg.Type || !c.Expiration.Equal(leg.Expiration) {
				return false
			}
			if c.Type == marketdata.Call && c.Delta < r.config.MinLongDelta {
				return false
			}
			if c.Type == marketdata.Put && c.Delta > -r.config.MinLongDelta {
				return false
			}
			return c.Ask.LessThanOrEqual(targetAsk)
		})
		replacement := byStrike(candidates, leg.Type == marketdata.Put)

		log := r.logger.With(
			zap.String("asset", a.DisplayName()),
			zap.String("symbol", leg.Symbol),
			zap.Stringer("cost_per_unit", cpu),
			zap.Stringer("premium", premium))
		if replacement == nil {
			log.Info("Closing profitable long, no roll target", zap.Stringer("target_ask", targetAsk))
			return placed(r.exec.PlaceSingle(ctx, a, -leg.Quantity, row.Contract, ""))
		}
		log.Info("Rolling profitable long", zap.String("into", replacement.Symbol))
		return placed(r.exec.PlaceSpread(ctx, a, leg.Quantity, replacement, row.Contract))
	}
}

// buybackCheapShorts buys back any short whose ask fell to the margin premium.
func (r *RatioSpread) buybackCheapShorts(a *asset.Asset) Adjuster {
	return func(ctx context.Context, _ asset.Ledger, _ []Row, row Row) (bool, error) {
		leg := row.Leg
		if leg.Quantity >= 0 || row.Contract.Ask.GreaterThan(r.config.MaxBuyMarginPremium) {
			return false, nil
		}
		r.logger.Info("Buying back short at max profit",
			zap.String("asset", a.DisplayName()),
			zap.String("symbol", leg.Symbol),
			zap.Stringer("ask", row.Contract.Ask))
		return placed(r.exec.PlaceSingle(ctx, a, -leg.Quantity, row.Contract, ""))
	}
}
