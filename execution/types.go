package execution

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderRejected       = errors.New("order rejected")
	ErrMarketClosed        = errors.New("market closed")
	ErrUnsupportedContract = errors.New("unsupported contract type")
	ErrInvalidSpread       = errors.New("invalid spread")
)

// Direction is the broker instruction of one order leg.
type Direction string

const (
	DirectionBuy         Direction = "BUY"
	DirectionSell        Direction = "SELL"
	DirectionBuyToOpen   Direction = "BUY_TO_OPEN"
	DirectionSellToOpen  Direction = "SELL_TO_OPEN"
	DirectionBuyToClose  Direction = "BUY_TO_CLOSE"
	DirectionSellToClose Direction = "SELL_TO_CLOSE"
)

// Closes reports whether the direction reduces an existing holding.
func (d Direction) Closes() bool {
	return d == DirectionBuyToClose || d == DirectionSellToClose
}

type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentOption InstrumentType = "OPTION"
)

// LegOrder is one leg of a market order. Quantity is always positive.
type LegOrder struct {
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"instruction"`
	Quantity  int64     `json:"quantity"`
}

type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order is a submitted market order as recorded by a broker.
type Order struct {
	ID             string         `json:"id"`
	ClientOrderID  string         `json:"client_order_id"`
	Account        string         `json:"account"`
	InstrumentType InstrumentType `json:"instrument_type"`
	Legs           []LegOrder     `json:"legs"`
	Status         OrderStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Outcome classifies what happened to an order the executor was asked to place.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomeSimulated Outcome = "simulated"
	OutcomeRejected  Outcome = "rejected"
)

// OrderObserver is told about every order outcome, e.g. to count them.
type OrderObserver interface {
	ObserveOrder(asset string, direction Direction, outcome Outcome)
}

// Settings are the per-asset execution parameters.
type Settings struct {
	Account        string
	EnableTrades   bool            // false simulates every order
	Commission     decimal.Decimal // per contract
	NonIdeal       decimal.Decimal // fractional price drag
	MinSellPremium decimal.Decimal // cheaper sells stay local
	Multiplier     int64
}

func DefaultSettings() Settings {
	return Settings{
		EnableTrades:   false,
		Commission:     decimal.RequireFromString("1.15"),
		NonIdeal:       decimal.Zero,
		MinSellPremium: decimal.RequireFromString("0.60"),
		Multiplier:     100,
	}
}
