package marketdata

import (
	"fmt"
	"sort"
	"time"

	"asset-trader/indicators"

	"github.com/shopspring/decimal"
)

// DefaultBarCapacity bounds each ticker's bar history.
const DefaultBarCapacity = 390

// Book holds the quote, option chain and bar databases. It is owned by the event loop and
// passed explicitly to every call that reads market data.
type Book struct {
	Quotes      map[string]*Quote
	Chains      map[string]Chain
	Bars        map[string]*indicators.BarWindow
	BarCapacity int
}

func NewBook() *Book {
	return &Book{
		Quotes:      make(map[string]*Quote),
		Chains:      make(map[string]Chain),
		Bars:        make(map[string]*indicators.BarWindow),
		BarCapacity: DefaultBarCapacity,
	}
}

// Quote returns the quote of ticker or ErrMissingMarketData.
func (b *Book) Quote(ticker string) (*Quote, error) {
	q, ok := b.Quotes[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: quote %s", ErrMissingMarketData, ticker)
	}
	return q, nil
}

// Chain returns the option chain of underlying or ErrMissingMarketData.
func (b *Book) Chain(underlying string) (Chain, error) {
	ch, ok := b.Chains[underlying]
	if !ok || len(ch) == 0 {
		return nil, fmt.Errorf("%w: option chain %s", ErrMissingMarketData, underlying)
	}
	return ch, nil
}

// History returns the bar window of ticker.
func (b *Book) History(ticker string) (*indicators.BarWindow, bool) {
	w, ok := b.Bars[ticker]
	return w, ok
}

// =============================================================================
// Patches
// =============================================================================

// QuotePatch updates only the fields it carries.
type QuotePatch struct {
	Symbol string           `json:"symbol"`
	Bid    *decimal.Decimal `json:"bid,omitempty"`
	Ask    *decimal.Decimal `json:"ask,omitempty"`
	Last   *decimal.Decimal `json:"last,omitempty"`
	Mark   *decimal.Decimal `json:"mark,omitempty"`
}

// ContractPatch updates only the fields it carries. Underlying is required.
type ContractPatch struct {
	Symbol       string           `json:"symbol"`
	Underlying   string           `json:"underlying"`
	Description  *string          `json:"description,omitempty"`
	Expiration   *time.Time       `json:"expiration,omitempty"`
	Strike       *decimal.Decimal `json:"strike,omitempty"`
	Type         *string          `json:"contract_type,omitempty"`
	Bid          *decimal.Decimal `json:"bid,omitempty"`
	Ask          *decimal.Decimal `json:"ask,omitempty"`
	Last         *decimal.Decimal `json:"last,omitempty"`
	Mark         *decimal.Decimal `json:"mark,omitempty"`
	Delta        *float64         `json:"delta,omitempty"`
	OpenInterest *int64           `json:"open_interest,omitempty"`
	Volume       *int64           `json:"volume,omitempty"`
}

// BarPatch adds or replaces the active bar of a ticker.
type BarPatch struct {
	Symbol string         `json:"symbol"`
	Bar    indicators.Bar `json:"bar"`
}

// Event is one batch of patches delivered by the feed.
type Event struct {
	Quotes     []QuotePatch
	Contracts  []ContractPatch
	Bars       []BarPatch
	ReceivedAt time.Time
}

// Empty reports whether the event carries no patches.
func (e Event) Empty() bool {
	return len(e.Quotes) == 0 && len(e.Contracts) == 0 && len(e.Bars) == 0
}

// Apply merges every patch of ev into the book and returns the touched tickers in
// first-seen order. Quotes are merged first so that contract extrinsic values see the
// latest underlying price.
func (b *Book) Apply(ev Event) []string {
	touched := make([]string, 0)
	seen := make(map[string]bool)
	touch := func(s string) {
		if !seen[s] {
			seen[s] = true
			touched = append(touched, s)
		}
	}

	for _, p := range ev.Quotes {
		b.applyQuote(p, ev.ReceivedAt)
		touch(p.Symbol)
	}

	underlyings := make(map[string]bool)
	for _, p := range ev.Contracts {
		if p.Underlying == "" {
			continue
		}
		b.applyContract(p)
		underlyings[p.Underlying] = true
		touch(p.Underlying)
	}
	names := make([]string, 0, len(underlyings))
	for u := range underlyings {
		names = append(names, u)
	}
	sort.Strings(names)
	for _, u := range names {
		if q, ok := b.Quotes[u]; ok {
			q.PrevMark = q.Mark
		}
	}

	for _, p := range ev.Bars {
		w, ok := b.Bars[p.Symbol]
		if !ok {
			w = indicators.NewBarWindow(b.BarCapacity)
			b.Bars[p.Symbol] = w
		}
		w.Add(p.Bar)
		touch(p.Symbol)
	}
	return touched
}

func (b *Book) applyQuote(p QuotePatch, at time.Time) {
	q, ok := b.Quotes[p.Symbol]
	if !ok {
		q = &Quote{Symbol: p.Symbol}
		b.Quotes[p.Symbol] = q
	}
	if p.Bid != nil {
		q.Bid = *p.Bid
	}
	if p.Ask != nil {
		q.Ask = *p.Ask
	}
	if p.Last != nil {
		q.Last = *p.Last
	}
	if p.Mark != nil {
		q.Mark = *p.Mark
	}
	// Indexes publish only a last price.
	if q.Mark.IsZero() && !q.Last.IsZero() {
		q.Mark = q.Last
		q.Bid = q.Last
		q.Ask = q.Last
	}
	if !at.IsZero() {
		q.UpdatedAt = at
	}
}

func (b *Book) applyContract(p ContractPatch) {
	ch, ok := b.Chains[p.Underlying]
	if !ok {
		ch = make(Chain)
		b.Chains[p.Underlying] = ch
	}
	c, ok := ch[p.Symbol]
	if !ok {
		c = &Contract{Symbol: p.Symbol, Underlying: p.Underlying}
		ch[p.Symbol] = c
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Expiration != nil {
		c.Expiration = *p.Expiration
	}
	if p.Strike != nil {
		c.Strike = *p.Strike
	}
	if p.Type != nil {
		c.Type = ParseContractType(*p.Type)
	}
	if p.Bid != nil {
		c.Bid = *p.Bid
	}
	if p.Ask != nil {
		c.Ask = *p.Ask
	}
	if p.Last != nil {
		c.Last = *p.Last
	}
	if p.Mark != nil {
		c.Mark = *p.Mark
	}
	if p.Delta != nil {
		c.Delta = *p.Delta
	}
	if p.OpenInterest != nil {
		c.OpenInterest = *p.OpenInterest
	}
	if p.Volume != nil {
		c.Volume = *p.Volume
	}
	c.refreshExtrinsic(b.Quotes[p.Underlying])
}

// PutContract inserts a full contract snapshot, replacing any previous one.
func (b *Book) PutContract(c *Contract) {
	ch, ok := b.Chains[c.Underlying]
	if !ok {
		ch = make(Chain)
		b.Chains[c.Underlying] = ch
	}
	ch[c.Symbol] = c
	c.refreshExtrinsic(b.Quotes[c.Underlying])
}

// PutQuote inserts a full quote snapshot, replacing any previous one.
func (b *Book) PutQuote(q *Quote) {
	if q.Mark.IsZero() && !q.Last.IsZero() {
		q.Mark, q.Bid, q.Ask = q.Last, q.Last, q.Last
	}
	b.Quotes[q.Symbol] = q
}
