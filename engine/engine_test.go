package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"asset-trader/asset"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records the order of side effects across the fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeSource struct {
	events  chan marketdata.Event
	err     error
	journal *journal
}

func newSource(j *journal) *fakeSource {
	return &fakeSource{events: make(chan marketdata.Event, 16), journal: j}
}

func (s *fakeSource) Start(context.Context) error { s.journal.add("start"); return nil }
func (s *fakeSource) Stop() error { s.journal.add("stop"); return nil }
func (s *fakeSource) Events() <-chan marketdata.Event { return s.events }
func (s *fakeSource) Err() error { return s.err }

type fakeStore struct {
	journal *journal
	saved   [][]*asset.Asset
	err     error
}

func (s *fakeStore) Load(context.Context) ([]*asset.Asset, error) { return nil, nil }

func (s *fakeStore) Save(_ context.Context, assets []*asset.Asset) error {
	s.journal.add("save")
	if s.err != nil {
		return s.err
	}
	clones := make([]*asset.Asset, len(assets))
	for i, a := range assets {
		clones[i] = a.Clone()
	}
	s.saved = append(s.saved, clones)
	return nil
}

func quoteEvent(symbol, mark string) marketdata.Event {
	m := decimal.RequireFromString(mark)
	return marketdata.Event{Quotes: []marketdata.QuotePatch{{Symbol: symbol, Bid: &m, Ask: &m, Mark: &m}}}
}

func TestEngineRunsObserversInOrderAndPersists(t *testing.T) {
	j := &journal{}
	src := newSource(j)
	store := &fakeStore{journal: j}
	assets := []*asset.Asset{{Name: "a", Ticker: "SPY"}}
	e := New(DefaultConfig(), src, store, assets, nil)
	e.SetSession(func(time.Time) bool { return true })

	var seen [][]string
	e.Subscribe("first", func(_ context.Context, book *marketdata.Book, touched []string) {
		j.add("first")
		seen = append(seen, touched)
		q, err := book.Quote("SPY")
		require.NoError(t, err)
		assets[0].Profit = q.Mark
	})
	e.Subscribe("second", func(context.Context, *marketdata.Book, []string) { j.add("second") })

	src.events <- quoteEvent("SPY", "100")
	src.events <- quoteEvent("QQQ", "200")
	close(src.events)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{
		"start",
		"first", "second", "save",
		"first", "second", "save",
		"save", // flush
		"stop",
	}, j.all())
	assert.Equal(t, [][]string{{"SPY"}, {"QQQ"}}, seen)
	require.Len(t, store.saved, 3)
	assert.True(t, store.saved[0][0].Profit.Equal(decimal.NewFromInt(100)))

	snap := e.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Profit.Equal(decimal.NewFromInt(100)))
	snap[0].Profit = decimal.Zero
	assert.True(t, e.Snapshot()[0].Profit.Equal(decimal.NewFromInt(100)), "snapshot is a copy")
	assert.Equal(t, int64(2), e.Stats().Events)
	assert.Equal(t, int64(3), e.Stats().Saves)
}

func TestEngineSavesOnlyDuringMarketHours(t *testing.T) {
	j := &journal{}
	src := newSource(j)
	store := &fakeStore{journal: j}
	e := New(DefaultConfig(), src, store, []*asset.Asset{{Name: "a"}}, nil)
	e.SetSession(func(time.Time) bool { return false })

	src.events <- quoteEvent("SPY", "100")
	src.events <- quoteEvent("SPY", "101")
	close(src.events)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"start", "save", "stop"}, j.all())
}

func TestEngineStopsBetweenEventsAndFlushesFirst(t *testing.T) {
	j := &journal{}
	src := newSource(j)
	store := &fakeStore{journal: j}
	e := New(DefaultConfig(), src, store, []*asset.Asset{{Name: "a"}}, nil)
	e.SetSession(func(time.Time) bool { return false })

	ctx, cancel := context.WithCancel(context.Background())
	var observed []error
	e.Subscribe("canceller", func(ctx context.Context, _ *marketdata.Book, _ []string) {
		cancel()
		observed = append(observed, ctx.Err())
		j.add("event")
	})

	src.events <- quoteEvent("SPY", "100")
	src.events <- quoteEvent("SPY", "101")

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, []string{"start", "event", "save", "stop"}, j.all())
	assert.Equal(t, []error{nil}, observed, "the event in progress is not cancelled")
}

func TestEngineReportsSourceAndFlushFailures(t *testing.T) {
	j := &journal{}
	src := newSource(j)
	src.err = errors.New("gave up reconnecting")
	store := &fakeStore{journal: j, err: errors.New("disk full")}
	e := New(DefaultConfig(), src, store, nil, nil)
	close(src.events)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, src.err)
	assert.ErrorIs(t, err, store.err)
	assert.Equal(t, []string{"start", "save", "stop"}, j.all())
}

type recordingMetrics struct {
	events []int
	saves  []error
}

func (m *recordingMetrics) ObserveEvent(touched int, _ time.Duration) { m.events = append(m.events, touched) }
func (m *recordingMetrics) ObserveSave(err error) { m.saves = append(m.saves, err) }

func TestEngineMetrics(t *testing.T) {
	j := &journal{}
	src := newSource(j)
	e := New(DefaultConfig(), src, &fakeStore{journal: j}, nil, nil)
	e.SetSession(func(time.Time) bool { return true })
	m := &recordingMetrics{}
	e.SetMetrics(m)

	src.events <- marketdata.Event{}
	src.events <- quoteEvent("SPY", "100")
	close(src.events)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []int{0, 1}, m.events)
	assert.Equal(t, []error{nil, nil, nil}, m.saves)
}
