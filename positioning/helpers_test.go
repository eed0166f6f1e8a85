package positioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"asset-trader/asset"
	"asset-trader/execution"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

type recordingBroker struct {
	mu     sync.Mutex
	orders [][]execution.LegOrder
	err    error
}

func (b *recordingBroker) PlaceMarketOrder(ctx context.Context, account string, instrument execution.InstrumentType, symbol string, direction execution.Direction, quantity int64) error {
	return b.PlaceMultiLegMarketOrder(ctx, account, instrument, []execution.LegOrder{{Symbol: symbol, Direction: direction, Quantity: quantity}})
}

func (b *recordingBroker) PlaceMultiLegMarketOrder(_ context.Context, _ string, _ execution.InstrumentType, legs []execution.LegOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.orders = append(b.orders, legs)
	return nil
}

type contractSpec struct {
	symbol     string
	typ        marketdata.ContractType
	strike     string
	delta      float64
	bid, ask   string
	expiration time.Time
}

func newBook(ticker string, bid, ask string, specs ...contractSpec) *marketdata.Book {
	book := marketdata.NewBook()
	book.PutQuote(&marketdata.Quote{
		Symbol: ticker,
		Bid:    dec(bid),
		Ask:    dec(ask),
		Mark:   dec(bid).Add(dec(ask)).Div(decimal.NewFromInt(2)),
	})
	for _, s := range specs {
		book.PutContract(&marketdata.Contract{
			Symbol:     s.symbol,
			Underlying: ticker,
			Expiration: s.expiration,
			Strike:     dec(s.strike),
			Type:       s.typ,
			Bid:        dec(s.bid),
			Ask:        dec(s.ask),
			Mark:       dec(s.bid).Add(dec(s.ask)).Div(decimal.NewFromInt(2)),
			Delta:      s.delta,
		})
	}
	return book
}

// hold puts a leg straight into the ledger.
func hold(a *asset.Asset, book *marketdata.Book, symbol string, qty int64, cost string) *asset.Leg {
	c := book.Chains[a.Ticker][symbol]
	leg := a.OpenLeg(c, 100, testNow)
	leg.Quantity = qty
	leg.Cost = dec(cost)
	return leg
}

func newOptionExec(b execution.Broker) *execution.OptionExecutor {
	e := execution.NewOptionExecutor(b, execution.DefaultSettings(), nil)
	e.SetClock(func() time.Time { return testNow })
	return e
}
