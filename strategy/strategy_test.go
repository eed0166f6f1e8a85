package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"asset-trader/asset"
	"asset-trader/indicators"
	"asset-trader/marketdata"
	"asset-trader/positioning"
	"asset-trader/schedule"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStructure struct {
	availability positioning.Availability
	err          error
	calls        []string
}

func (f *fakeStructure) Name() string { return "fake" }

func (f *fakeStructure) Instruments(a *asset.Asset) []positioning.Instrument {
	return []positioning.Instrument{{Ticker: a.Ticker, Options: true, MaxDTE: 3, StrikeCount: 50}}
}

func (f *fakeStructure) Availability(*asset.Asset, *marketdata.Book) (positioning.Availability, error) {
	return f.availability, nil
}

func (f *fakeStructure) CostWithMargin(*asset.Asset) positioning.Margin {
	return positioning.Defined(decimal.Zero)
}

func (f *fakeStructure) CostPerUnit(*asset.Asset, *marketdata.Book) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeStructure) Delta(*asset.Asset, *marketdata.Book) (int64, error) { return 0, nil }

func (f *fakeStructure) MarketValue(*asset.Asset, *marketdata.Book) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}

func (f *fakeStructure) record(call string) (bool, error) {
	f.calls = append(f.calls, call)
	return f.err == nil, f.err
}

func (f *fakeStructure) PlaceBullishTrade(context.Context, *asset.Asset, *marketdata.Book) (bool, error) {
	return f.record("bullish")
}

func (f *fakeStructure) PlaceBearishTrade(context.Context, *asset.Asset, *marketdata.Book) (bool, error) {
	return f.record("bearish")
}

func (f *fakeStructure) Probe(context.Context, *asset.Asset, *marketdata.Book) (bool, error) {
	return f.record("probe")
}

func (f *fakeStructure) Neutralize(context.Context, *asset.Asset, *marketdata.Book) (bool, error) {
	return f.record("neutralize")
}

func at(hh, mm int) func() time.Time {
	return func() time.Time { return time.Date(2024, time.March, 4, hh, mm, 0, 0, schedule.NewYork) }
}

func binding(name string, w Window) (*Binding, *fakeStructure) {
	s := &fakeStructure{}
	return &Binding{
		Asset:     &asset.Asset{Name: name, Ticker: "SPY", Enable: true},
		Structure: s,
		Strategy:  Buy{},
		Window:    w,
	}, s
}

func tod(hh, mm int) *schedule.TimeOfDay { return &schedule.TimeOfDay{Hour: hh, Minute: mm} }

// =============================================================================
// RUNNER
// =============================================================================

func TestRunnerSchedule(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		now    func() time.Time
		want   []string
	}{
		{"tradable", Window{}, at(10, 0), []string{"bullish", "probe"}},
		{"before default start", Window{NeutralizeOnClose: true}, at(9, 30), nil},
		{"after stop without neutralize", Window{}, at(16, 5), nil},
		{"neutralize on close", Window{NeutralizeOnClose: true}, at(16, 5), []string{"neutralize"}},
		{"after market close", Window{NeutralizeOnClose: true}, at(16, 30), nil},
		{"custom window before start", Window{StartAt: tod(9, 35), NeutralizeAt: tod(9, 40)}, at(9, 33), []string{"probe"}},
		{"custom window open", Window{StartAt: tod(9, 35), NeutralizeAt: tod(9, 40)}, at(9, 37), []string{"bullish", "probe"}},
		{"custom window neutralizes", Window{StartAt: tod(9, 35), NeutralizeAt: tod(9, 40)}, at(9, 45), []string{"neutralize", "probe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, s := binding("a", tt.window)
			r := NewRunner([]*Binding{b}, nil)
			r.SetClock(tt.now)
			r.RunStrategies(context.Background(), marketdata.NewBook())
			r.RunProbes(context.Background(), marketdata.NewBook())
			assert.Equal(t, tt.want, s.calls)
		})
	}
}

func TestRunnerSkipsWeekendsAndDisabledAssets(t *testing.T) {
	b, s := binding("a", Window{NeutralizeOnClose: true})
	r := NewRunner([]*Binding{b}, nil)
	r.SetClock(func() time.Time { return time.Date(2024, time.March, 2, 12, 0, 0, 0, schedule.NewYork) })
	r.RunStrategies(context.Background(), marketdata.NewBook())
	r.RunProbes(context.Background(), marketdata.NewBook())
	assert.Empty(t, s.calls)

	disabled, ds := binding("b", Window{})
	disabled.Asset.Enable = false
	r = NewRunner([]*Binding{disabled}, nil)
	r.SetClock(at(10, 0))
	r.RunStrategies(context.Background(), marketdata.NewBook())
	r.RunProbes(context.Background(), marketdata.NewBook())
	assert.Empty(t, ds.calls)
}

func TestRunnerIsolatesFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	failing, fs := binding("failing", Window{})
	fs.err = errors.New("boom")
	missing, ms := binding("missing", Window{})
	ms.err = marketdata.ErrMissingMarketData
	healthy, hs := binding("healthy", Window{})

	r := NewRunner([]*Binding{failing, missing, healthy}, zap.New(core))
	r.SetClock(at(10, 0))
	r.RunStrategies(context.Background(), marketdata.NewBook())

	assert.Equal(t, []string{"bullish"}, fs.calls)
	assert.Equal(t, []string{"bullish"}, hs.calls)
	assert.Equal(t, 1, logs.FilterMessage("Asset action failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Skipped asset").Len())
	assert.Equal(t, 1, logs.FilterMessage("Asset adjusted").Len())
	assert.Equal(t, 3, logs.FilterMessage("Asset snapshot").Len())
}

func TestRunnerInstruments(t *testing.T) {
	a, _ := binding("a", Window{})
	b, _ := binding("b", Window{})
	b.Asset.Ticker = "QQQ"
	b.Strategy = NewTrend(TrendConfig{Ticker: "SPY", Window: 10}, nil)
	off, _ := binding("off", Window{})
	off.Asset.Ticker = "IWM"
	off.Asset.Enable = false

	got := NewRunner([]*Binding{a, b, off}, nil).Instruments()
	assert.Equal(t, []positioning.Instrument{
		{Ticker: "QQQ", Options: true, MaxDTE: 3, StrikeCount: 50},
		{Ticker: "SPY", Options: true, MaxDTE: 3, StrikeCount: 50},
	}, got)
}

// =============================================================================
// TREND
// =============================================================================

// trendBook holds minute bars given newest first.
func trendBook(closes ...float64) *marketdata.Book {
	book := marketdata.NewBook()
	w := indicators.NewBarWindow(len(closes))
	newest := time.Date(2024, time.March, 4, 15, 0, 0, 0, time.UTC)
	for i := len(closes) - 1; i >= 0; i-- {
		c := closes[i]
		w.Add(indicators.Bar{Time: newest.Add(-time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c})
	}
	book.Bars["SPY"] = w
	return book
}

func TestTrendCrossings(t *testing.T) {
	tests := []struct {
		name    string
		closes  []float64
		vacancy float64
		want    []string
	}{
		{"falls through the sell target", []float64{100.5, 104, 100, 100, 100, 100}, 0, []string{"bearish"}},
		{"rises through the buy target", []float64{99.5, 96, 100, 100, 100, 100}, 0, []string{"bullish"}},
		{"flat", []float64{100, 100, 100, 100, 100, 100}, 0, nil},
		{"vacancy widens the sell target", []float64{100.5, 104, 100, 100, 100, 100}, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStructure{availability: positioning.Availability{BullishVacancy: tt.vacancy}}
			trend := NewTrend(DefaultTrendConfig(), nil)
			a := &asset.Asset{Ticker: "SPY"}
			traded, err := trend.Execute(context.Background(), a, s, trendBook(tt.closes...))
			require.NoError(t, err)
			assert.Equal(t, tt.want != nil, traded)
			assert.Equal(t, tt.want, s.calls)
		})
	}
}

func TestTrendWindowAndMissingHistory(t *testing.T) {
	s := &fakeStructure{}
	a := &asset.Asset{Ticker: "SPY"}

	traded, err := NewTrend(DefaultTrendConfig(), nil).Execute(context.Background(), a, s, marketdata.NewBook())
	require.NoError(t, err)
	assert.False(t, traded)

	// The full history keeps the sell target above the previous close; the three
	// newest bars alone pull it below.
	book := trendBook(101, 104, 104, 100, 100, 100)
	traded, err = NewTrend(DefaultTrendConfig(), nil).Execute(context.Background(), a, s, book)
	require.NoError(t, err)
	assert.False(t, traded)
	assert.Empty(t, s.calls)

	cfg := DefaultTrendConfig()
	cfg.Window = 3
	traded, err = NewTrend(cfg, nil).Execute(context.Background(), a, s, book)
	require.NoError(t, err)
	assert.True(t, traded)
	assert.Equal(t, []string{"bearish"}, s.calls)
}

func TestBuyAlwaysTriesBullish(t *testing.T) {
	s := &fakeStructure{}
	traded, err := Buy{}.Execute(context.Background(), &asset.Asset{}, s, marketdata.NewBook())
	require.NoError(t, err)
	assert.True(t, traded)
	assert.Equal(t, []string{"bullish"}, s.calls)
	assert.Empty(t, Buy{}.Instruments(&asset.Asset{Ticker: "SPY"}))
}
