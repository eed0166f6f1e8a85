package positioning

import (
	"context"
	"testing"
	"time"

	"asset-trader/asset"
	"asset-trader/budget"
	"asset-trader/execution"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccumulative(t *testing.T) (*Accumulative, *recordingBroker) {
	t.Helper()
	b := &recordingBroker{}
	settings := execution.DefaultSettings()
	settings.EnableTrades = true
	exec := execution.NewEquityExecutor(b, settings, nil)
	exec.SetClock(func() time.Time { return testNow })
	s := NewAccumulative(DefaultAccumulativeConfig(), exec, nil)
	s.SetClock(func() time.Time { return testNow })
	return s, b
}

func holding(qty int64, cost string) *asset.Position {
	return &asset.Position{Quantity: qty, Cost: dec(cost), AcquiredAt: testNow.Add(-time.Hour)}
}

func TestAccumulativeAvailability(t *testing.T) {
	s, _ := newAccumulative(t)
	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000)}

	av, err := s.Availability(a, newBook("VTI", "49.9", "50"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), av.BullishTrades)
	assert.Equal(t, int64(0), av.BearishTrades)
	assert.Equal(t, 1.0, av.BullishVacancy)
	assert.Equal(t, 0.0, av.BearishVacancy)
	assert.Equal(t, int64(1), av.Denomination)
	assertDecimal(t, "50", *a.ATH)

	// Realized profit extends the budget; the held shares count against it.
	a.Profit = dec("500")
	a.Position = holding(10, "500")
	av, err = s.Availability(a, newBook("VTI", "49.9", "50"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), av.BullishTrades)
	assert.Equal(t, int64(10), av.BearishTrades)
	assertDecimal(t, "10500", av.BudgetLong)
}

func TestAccumulativeTracksAllTimeHigh(t *testing.T) {
	s, _ := newAccumulative(t)
	ath := dec("120")
	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), ATH: &ath}

	_, err := s.Availability(a, newBook("VTI", "99", "100"))
	require.NoError(t, err)
	assertDecimal(t, "120", *a.ATH)

	_, err = s.Availability(a, newBook("VTI", "129", "130"))
	require.NoError(t, err)
	assertDecimal(t, "130", *a.ATH)
}

func TestAccumulativeRejectsInvalidBudget(t *testing.T) {
	s, _ := newAccumulative(t)
	book := newBook("VTI", "49.9", "50")
	for name, spec := range map[string]budget.Spec{
		"short range": budget.Range(-100, 500),
		"shares":      {Unit: "share", Amounts: []decimal.Decimal{dec("10")}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Availability(&asset.Asset{Ticker: "VTI", Budget: spec}, book)
			assert.ErrorIs(t, err, budget.ErrInvalidBudget)
		})
	}
}

func TestAccumulativeFollowsLastTrade(t *testing.T) {
	s, b := newAccumulative(t)
	last := dec("50")
	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), Position: holding(10, "500"), LastTradePrice: &last}

	ok, err := s.PlaceBullishTrade(context.Background(), a, newBook("VTI", "51.9", "52"))
	require.NoError(t, err)
	assert.False(t, ok, "buying above the last trade")
	assert.Empty(t, b.orders)

	ok, err = s.PlaceBullishTrade(context.Background(), a, newBook("VTI", "48.9", "49"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(11), a.Quantity())
	assertDecimal(t, "549", a.PositionCost())
	assertDecimal(t, "49", *a.LastTradePrice)
	require.Len(t, b.orders, 1)
	assert.Equal(t, execution.DirectionBuy, b.orders[0][0].Direction)
}

func TestAccumulativeSellGuards(t *testing.T) {
	s, b := newAccumulative(t)
	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), Position: holding(10, "500")}

	ok, err := s.PlaceBearishTrade(context.Background(), a, newBook("VTI", "45", "45.1"))
	require.NoError(t, err)
	assert.False(t, ok, "selling below cost")
	assert.Empty(t, b.orders)

	ok, err = s.PlaceBearishTrade(context.Background(), a, newBook("VTI", "60", "60.1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), a.Quantity())
	assertDecimal(t, "450", a.PositionCost())
	assertDecimal(t, "10", a.Profit)
	assert.Equal(t, execution.DirectionSell, b.orders[0][0].Direction)
}

func TestAccumulativeCompoundsCostBasis(t *testing.T) {
	s, _ := newAccumulative(t)
	s.config.ExpectedRate = 0.1
	a := &asset.Asset{Ticker: "VTI", Position: holding(10, "500")}
	a.Position.AcquiredAt = testNow.Add(-time.Duration(secondsPerYear * float64(time.Second)))

	assertDecimal(t, "55", s.CompoundedCostPerUnit(a))

	// A compounded basis above the bid blocks the sale.
	ok, err := s.PlaceBearishTrade(context.Background(), &asset.Asset{
		Ticker: "VTI", Budget: budget.Scalar(10000), Position: a.Position,
	}, newBook("VTI", "54", "54.1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccumulativeProbeBuysDrawdown(t *testing.T) {
	s, b := newAccumulative(t)
	ath := dec("100")
	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), ATH: &ath}

	// 25% below the high with nothing held: a quarter of the budget at the ask.
	ok, err := s.Probe(context.Background(), a, newBook("VTI", "74.9", "75"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(33), a.Quantity())
	require.Len(t, b.orders, 1)
	assert.Equal(t, int64(33), b.orders[0][0].Quantity)

	// At the high nothing is bought.
	flat := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), ATH: &ath}
	ok, err = s.Probe(context.Background(), flat, newBook("VTI", "99.9", "100"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccumulativeNeutralize(t *testing.T) {
	s, _ := newAccumulative(t)

	ok, err := s.Neutralize(context.Background(), &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000)}, newBook("VTI", "60", "60.1"))
	require.NoError(t, err)
	assert.True(t, ok, "flat is already neutral")

	a := &asset.Asset{Ticker: "VTI", Budget: budget.Scalar(10000), Position: holding(10, "500")}
	ok, err = s.Neutralize(context.Background(), a, newBook("VTI", "40", "40.1"))
	require.NoError(t, err)
	assert.False(t, ok, "sell guards still apply")
	assert.Equal(t, int64(10), a.Quantity())

	ok, err = s.Neutralize(context.Background(), a, newBook("VTI", "60", "60.1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, a.Position)
	assertDecimal(t, "100", a.Profit)
}

func TestAccumulativeValuation(t *testing.T) {
	s, _ := newAccumulative(t)
	a := &asset.Asset{Ticker: "VTI", Position: holding(10, "500")}
	book := newBook("VTI", "59", "61")

	value, pnl, err := s.MarketValue(a, book)
	require.NoError(t, err)
	assertDecimal(t, "600", value)
	assertDecimal(t, "100", pnl)

	cpu, err := s.CostPerUnit(a, book)
	require.NoError(t, err)
	assertDecimal(t, "50", cpu)
	assertDecimal(t, "500", s.CostWithMargin(a).Amount)

	delta, err := s.Delta(a, book)
	require.NoError(t, err)
	assert.Equal(t, int64(10), delta)
}
