package strategy

import (
	"context"
	"errors"
	"math"

	"asset-trader/asset"
	"asset-trader/indicators"
	"asset-trader/marketdata"
	"asset-trader/positioning"

	"go.uber.org/zap"
)

// TrendConfig parameterizes the regression channel.
type TrendConfig struct {
	Ticker string `yaml:"ticker,omitempty"` // bar source, defaults to the asset ticker
	Window int    `yaml:"window"`           // newest bars fitted, 0 for the whole history
	// Alpha scales how far the targets move away from the anchor as vacancy grows.
	// Zero disables it; negative values pull the targets in.
	Alpha float64 `yaml:"alpha"`
}

func DefaultTrendConfig() TrendConfig {
	return TrendConfig{Alpha: 1.0}
}

// Trend fits a line through recent closes and trades when price crosses back inside
// a band around the line's newest value: selling on a fall through the upper target,
// buying on a rise through the lower one.
type Trend struct {
	config TrendConfig
	logger *zap.Logger
}

func NewTrend(config TrendConfig, logger *zap.Logger) *Trend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trend{config: config, logger: logger}
}

func (t *Trend) Name() string { return "trend" }

func (t *Trend) Config() TrendConfig { return t.config }

func (t *Trend) ticker(a *asset.Asset) string {
	if t.config.Ticker != "" {
		return t.config.Ticker
	}
	return a.Ticker
}

func (t *Trend) Instruments(a *asset.Asset) []positioning.Instrument {
	return []positioning.Instrument{{Ticker: t.ticker(a)}}
}

func (t *Trend) Execute(ctx context.Context, a *asset.Asset, s positioning.Structure, book *marketdata.Book) (bool, error) {
	ticker := t.ticker(a)
	history, ok := book.History(ticker)
	if !ok || history.Count() < 2 {
		return false, nil
	}
	bars := history.Newest(t.config.Window)
	line, err := indicators.FitCloses(bars)
	if errors.Is(err, indicators.ErrInsufficientData) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	av, err := s.Availability(a, book)
	if err != nil {
		return false, err
	}

	anchor := line.At(0)
	current, previous := bars[0].Close, bars[1].Close
	minOffset := math.Max(line.Residual, 0.0001*current)
	sellAt := anchor + minOffset*(1+t.config.Alpha*av.BullishVacancy)
	buyAt := anchor - minOffset*(1+t.config.Alpha*av.BearishVacancy)

	span := bars[0].Time.Sub(bars[len(bars)-1].Time).Seconds()
	rise := span * line.Slope
	t.logger.Debug("Trend targets",
		zap.String("ticker", ticker),
		zap.Float64("close", current),
		zap.Float64("sell_at", sellAt),
		zap.Float64("buy_at", buyAt),
		zap.Float64("anchor", anchor),
		zap.Float64("rise", rise),
		zap.Float64("channel_width", 2*line.Residual),
		zap.Bool("flat", math.Abs(rise) < 2*line.Residual))

	switch {
	case previous > sellAt && current <= sellAt:
		t.logger.Debug("Sell zone", zap.String("ticker", ticker))
		return s.PlaceBearishTrade(ctx, a, book)
	case previous < buyAt && current >= buyAt:
		t.logger.Debug("Buy zone", zap.String("ticker", ticker))
		return s.PlaceBullishTrade(ctx, a, book)
	}
	return false, nil
}
