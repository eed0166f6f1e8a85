package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingMarketData is returned when a ticker or contract is absent from the book.
var ErrMissingMarketData = errors.New("missing market data")

// ContractType is the option right of a contract.
type ContractType string

const (
	Call        ContractType = "CALL"
	Put         ContractType = "PUT"
	Unsupported ContractType = ""
)

// ParseContractType matches case-insensitively; anything else is Unsupported.
func ParseContractType(s string) ContractType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Call):
		return Call
	case string(Put):
		return Put
	}
	return Unsupported
}

// Sign is +1 for calls and -1 for puts.
func (t ContractType) Sign() int64 {
	if t == Put {
		return -1
	}
	return 1
}

// Quote is the top of book for an underlying or equity.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Mark      decimal.Decimal `json:"mark"`
	PrevMark  decimal.Decimal `json:"prev_mark"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Contract is one option contract snapshot.
type Contract struct {
	Symbol       string          `json:"symbol"`
	Underlying   string          `json:"underlying"`
	Description  string          `json:"description,omitempty"`
	Expiration   time.Time       `json:"expiration"`
	Strike       decimal.Decimal `json:"strike"`
	Type         ContractType    `json:"contract_type"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Last         decimal.Decimal `json:"last"`
	Mark         decimal.Decimal `json:"mark"`
	Delta        float64         `json:"delta"`
	OpenInterest int64           `json:"open_interest"`
	Volume       int64           `json:"volume"`

	// Derived against the underlying quote.
	ExtrinsicMark decimal.Decimal `json:"extrinsic_mark"`
	ExtrinsicBid  decimal.Decimal `json:"extrinsic_bid"`
	ExtrinsicAsk  decimal.Decimal `json:"extrinsic_ask"`
}

// Intrinsic returns the in-the-money amount of the contract at the given underlying price.
func (c *Contract) Intrinsic(underlying decimal.Decimal) decimal.Decimal {
	v := underlying.Sub(c.Strike).Mul(decimal.NewFromInt(c.Type.Sign()))
	return decimal.Max(decimal.Zero, v)
}

func (c *Contract) refreshExtrinsic(q *Quote) {
	if q == nil || c.Type == Unsupported {
		return
	}
	c.ExtrinsicMark = decimal.Max(decimal.Zero, c.Mark.Sub(c.Intrinsic(q.Mark)))
	c.ExtrinsicBid = decimal.Max(decimal.Zero, c.Bid.Sub(c.Intrinsic(q.Bid)))
	c.ExtrinsicAsk = decimal.Max(decimal.Zero, c.Ask.Sub(c.Intrinsic(q.Ask)))
}

// Chain is the option chain of one underlying keyed by contract symbol.
type Chain map[string]*Contract

// Get returns the contract or ErrMissingMarketData.
func (ch Chain) Get(symbol string) (*Contract, error) {
	c, ok := ch[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", ErrMissingMarketData, symbol)
	}
	return c, nil
}

// Filter returns matching contracts ordered by symbol.
func (ch Chain) Filter(pred func(*Contract) bool) []*Contract {
	out := make([]*Contract, 0)
	for _, c := range ch {
		if pred(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Expirations returns the distinct expirations in ascending order.
func (ch Chain) Expirations() []time.Time {
	seen := make(map[int64]time.Time)
	for _, c := range ch {
		seen[c.Expiration.UnixNano()] = c.Expiration
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// NearestExpiration returns the earliest expiration at or after t.
func (ch Chain) NearestExpiration(t time.Time) (time.Time, bool) {
	for _, exp := range ch.Expirations() {
		if !exp.Before(t) {
			return exp, true
		}
	}
	return time.Time{}, false
}
