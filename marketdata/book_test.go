package marketdata

import (
	"testing"
	"time"

	"asset-trader/indicators"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestApplyQuotePatchKeepsMissingFields(t *testing.T) {
	b := NewBook()
	b.Apply(Event{Quotes: []QuotePatch{{Symbol: "SPY", Bid: dec("99.9"), Ask: dec("100.1"), Mark: dec("100")}}})
	b.Apply(Event{Quotes: []QuotePatch{{Symbol: "SPY", Ask: dec("100.2")}}})

	q, err := b.Quote("SPY")
	require.NoError(t, err)
	assert.Equal(t, "99.9", q.Bid.String())
	assert.Equal(t, "100.2", q.Ask.String())
	assert.Equal(t, "100", q.Mark.String())

	_, err = b.Quote("QQQ")
	assert.ErrorIs(t, err, ErrMissingMarketData)
}

func TestIndexQuoteFallback(t *testing.T) {
	b := NewBook()
	b.Apply(Event{Quotes: []QuotePatch{{Symbol: "$SPX.X", Last: dec("4500.25")}}})

	q, err := b.Quote("$SPX.X")
	require.NoError(t, err)
	assert.True(t, q.Mark.Equal(decimal.RequireFromString("4500.25")))
	assert.True(t, q.Bid.Equal(q.Last))
	assert.True(t, q.Ask.Equal(q.Last))
}

func TestApplyContractPatchDerivesExtrinsic(t *testing.T) {
	b := NewBook()
	exp := time.Date(2024, 3, 8, 21, 0, 0, 0, time.UTC)
	put := "put"
	b.Apply(Event{
		Quotes: []QuotePatch{{Symbol: "SPY", Bid: dec("99"), Ask: dec("101"), Mark: dec("100")}},
		Contracts: []ContractPatch{{
			Symbol: "SPY_030824P105", Underlying: "SPY", Expiration: &exp, Strike: dec("105"), Type: &put,
			Bid: dec("5.50"), Ask: dec("6.50"), Mark: dec("6"),
		}},
	})

	ch, err := b.Chain("SPY")
	require.NoError(t, err)
	c, err := ch.Get("SPY_030824P105")
	require.NoError(t, err)
	assert.Equal(t, Put, c.Type)
	assert.Equal(t, "1", c.ExtrinsicMark.String())
	assert.Equal(t, "0", c.ExtrinsicBid.String())
	assert.Equal(t, "2.5", c.ExtrinsicAsk.String())

	_, err = ch.Get("nope")
	assert.ErrorIs(t, err, ErrMissingMarketData)
	_, err = b.Chain("QQQ")
	assert.ErrorIs(t, err, ErrMissingMarketData)
}

func TestChainExpirations(t *testing.T) {
	d1 := time.Date(2024, 3, 8, 21, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 7)
	ch := Chain{
		"a": {Symbol: "a", Expiration: d2, Type: Call},
		"b": {Symbol: "b", Expiration: d1, Type: Put},
		"c": {Symbol: "c", Expiration: d1, Type: Call},
	}
	assert.Equal(t, []time.Time{d1, d2}, ch.Expirations())

	exp, ok := ch.NearestExpiration(d1.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, d2, exp)
	_, ok = ch.NearestExpiration(d2.Add(time.Hour))
	assert.False(t, ok)

	calls := ch.Filter(func(c *Contract) bool { return c.Type == Call })
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Symbol)
	assert.Equal(t, "c", calls[1].Symbol)
}

func TestApplyBarsAndTouchedOrder(t *testing.T) {
	b := NewBook()
	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	touched := b.Apply(Event{
		Quotes: []QuotePatch{{Symbol: "SPY", Mark: dec("1")}},
		Bars: []BarPatch{
			{Symbol: "QQQ", Bar: indicators.Bar{Time: t0, Close: 1}},
			{Symbol: "SPY", Bar: indicators.Bar{Time: t0, Close: 2}},
		},
	})
	assert.Equal(t, []string{"SPY", "QQQ"}, touched)

	w, ok := b.History("QQQ")
	require.True(t, ok)
	assert.Equal(t, 1, w.Count())
}

func TestParseContractType(t *testing.T) {
	assert.Equal(t, Call, ParseContractType(" call "))
	assert.Equal(t, Put, ParseContractType("PUT"))
	assert.Equal(t, Unsupported, ParseContractType("future"))
}
