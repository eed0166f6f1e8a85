package config

import (
	"errors"
	"fmt"

	"asset-trader/asset"
	"asset-trader/budget"
	"asset-trader/execution"
	"asset-trader/positioning"
	"asset-trader/schedule"
	"asset-trader/strategy"

	"go.uber.org/zap"
)

// Deps are the collaborators shared by every resolved asset.
type Deps struct {
	Broker   execution.Broker
	Observer execution.OrderObserver // optional
	Logger   *zap.Logger
}

// Resolve builds the binding of every asset. An asset that fails to resolve is left out
// and its error joined into the returned error; the others are still returned.
func (c *Config) Resolve(assets []*asset.Asset, deps Deps) ([]*strategy.Binding, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// Orders outside normal hours are refused before they reach the broker.
	deps.Broker = execution.NewSessionBroker(deps.Broker, schedule.IsNormalMarketHours, deps.Logger)

	var (
		bindings []*strategy.Binding
		errs     []error
	)
	for _, a := range assets {
		b, err := c.ResolveAsset(a, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", a.DisplayName(), err))
			continue
		}
		bindings = append(bindings, b)
	}
	return bindings, errors.Join(errs...)
}

// ResolveAsset applies the asset's class blueprint and its overrides. The asset's ticker
// is filled from the class when unset.
func (c *Config) ResolveAsset(a *asset.Asset, deps Deps) (*strategy.Binding, error) {
	class, ok := c.Classes[a.Class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, a.Class)
	}
	if a.Ticker == "" {
		a.Ticker = class.Ticker
	}
	if a.Ticker == "" {
		return nil, fmt.Errorf("%w: no ticker", ErrInvalidDefinition)
	}
	if _, err := budget.Resolve(a.Budget); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := class.Positioning
	enableTrades := p.EnableTrades
	if a.EnableTrades != nil {
		enableTrades = *a.EnableTrades
	}
	settings := c.Settings(enableTrades)

	var structure positioning.Structure
	switch p.Type {
	case "ratio":
		cfg := p.Ratio
		if a.Denomination != nil {
			cfg.Denomination = *a.Denomination
		}
		if a.TargetPremiumPerDay != nil {
			cfg.TargetPremiumPerDay = *a.TargetPremiumPerDay
		}
		if cfg.Denomination <= 0 {
			return nil, fmt.Errorf("%w: denomination must be positive", ErrInvalidDefinition)
		}
		exec := execution.NewOptionExecutor(deps.Broker, settings, logger)
		if deps.Observer != nil {
			exec.SetObserver(deps.Observer)
		}
		structure = positioning.NewRatioSpread(cfg, exec, logger)
	case "accumulative":
		cfg := p.Accumulative
		if a.ExpectedRate != nil {
			cfg.ExpectedRate = *a.ExpectedRate
		}
		exec := execution.NewEquityExecutor(deps.Broker, settings, logger)
		if deps.Observer != nil {
			exec.SetObserver(deps.Observer)
		}
		structure = positioning.NewAccumulative(cfg, exec, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStructure, p.Type)
	}

	var strat strategy.Strategy
	switch class.Strategy.Type {
	case "buy":
		strat = strategy.Buy{}
	case "trend":
		strat = strategy.NewTrend(class.Strategy.Trend, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, class.Strategy.Type)
	}

	return &strategy.Binding{
		Asset:     a,
		Structure: structure,
		Strategy:  strat,
		Window:    class.Strategy.Window,
	}, nil
}
