// Package engine runs the single-threaded event loop: every market-data event is merged
// into the book and handed to the observers in registration order before the next event
// is read.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"asset-trader/asset"
	"asset-trader/marketdata"
	"asset-trader/schedule"

	"go.uber.org/zap"
)

// Source delivers market-data events. marketdata.Feed satisfies it.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan marketdata.Event
	Err() error
}

// Observer is called once per event with the tickers the event touched.
type Observer func(ctx context.Context, book *marketdata.Book, touched []string)

// EventMetrics receives per-event timings.
type EventMetrics interface {
	ObserveEvent(touched int, elapsed time.Duration)
	ObserveSave(err error)
}

// Config holds configuration for the engine.
type Config struct {
	FlushTimeout time.Duration `yaml:"flush_timeout"` // bound on the final save at shutdown
}

func DefaultConfig() Config {
	return Config{FlushTimeout: 10 * time.Second}
}

// Stats counts loop activity.
type Stats struct {
	Events    int64
	Saves     int64
	LastEvent time.Time
	StartedAt time.Time
}

type observer struct {
	name string
	fn   Observer
}

// Engine owns the book and the assets while running; nothing else may touch them then.
type Engine struct {
	config    Config
	source    Source
	store     asset.Store
	assets    []*asset.Asset
	book      *marketdata.Book
	observers []observer
	metrics   EventMetrics
	logger    *zap.Logger
	now       func() time.Time
	isOpen    func(time.Time) bool

	mu       sync.RWMutex
	snapshot []*asset.Asset
	stats    Stats
}

func New(config Config, source Source, store asset.Store, assets []*asset.Asset, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultConfig().FlushTimeout
	}
	e := &Engine{
		config: config,
		source: source,
		store:  store,
		assets: assets,
		book:   marketdata.NewBook(),
		logger: logger,
		now:    time.Now,
		isOpen: schedule.IsNormalMarketHours,
	}
	e.publish()
	return e
}

func (e *Engine) SetClock(now func() time.Time)        { e.now = now }
func (e *Engine) SetSession(open func(time.Time) bool) { e.isOpen = open }
func (e *Engine) SetMetrics(m EventMetrics)            { e.metrics = m }

// Book is the engine's market data. Only read it from observers while running.
func (e *Engine) Book() *marketdata.Book { return e.book }

// Subscribe appends an observer; observers run in subscription order.
func (e *Engine) Subscribe(name string, fn Observer) {
	e.observers = append(e.observers, observer{name, fn})
}

// Snapshot returns deep copies of the assets as of the last processed event.
func (e *Engine) Snapshot() []*asset.Asset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*asset.Asset, len(e.snapshot))
	for i, a := range e.snapshot {
		out[i] = a.Clone()
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Run starts the source and processes events until ctx is cancelled or the source
// closes. Cancellation is only observed between events. On the way out the assets are
// saved once more, and only then is the source stopped.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start market data source: %w", err)
	}
	e.mu.Lock()
	e.stats.StartedAt = e.now()
	e.mu.Unlock()
	e.logger.Info("Engine started",
		zap.Int("assets", len(e.assets)),
		zap.Int("observers", len(e.observers)))

	// Observers run to completion even when a stop arrives mid-event.
	eventCtx := context.WithoutCancel(ctx)
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stop requested")
			break loop
		case ev, ok := <-e.source.Events():
			if !ok {
				runErr = e.source.Err()
				if runErr != nil {
					e.logger.Error("Market data source failed", zap.Error(runErr))
				}
				break loop
			}
			if ctx.Err() != nil {
				break loop
			}
			e.process(eventCtx, ev)
		}
	}

	flushErr := e.flush()
	stopErr := e.source.Stop()
	if stopErr != nil {
		stopErr = fmt.Errorf("failed to stop market data source: %w", stopErr)
	}
	return errors.Join(runErr, flushErr, stopErr)
}

func (e *Engine) process(ctx context.Context, ev marketdata.Event) {
	start := e.now()
	touched := e.book.Apply(ev)
	for _, o := range e.observers {
		began := e.now()
		o.fn(ctx, e.book, touched)
		e.logger.Debug("Observer done", zap.String("observer", o.name), zap.Duration("elapsed", e.now().Sub(began)))
	}
	e.publish()

	e.mu.Lock()
	e.stats.Events++
	e.stats.LastEvent = start
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ObserveEvent(len(touched), e.now().Sub(start))
	}

	if e.isOpen(e.now()) {
		if err := e.save(ctx); err != nil {
			e.logger.Error("Failed to store assets", zap.Error(err))
		}
	}
}

func (e *Engine) publish() {
	clones := make([]*asset.Asset, len(e.assets))
	for i, a := range e.assets {
		clones[i] = a.Clone()
	}
	e.mu.Lock()
	e.snapshot = clones
	e.mu.Unlock()
}

func (e *Engine) save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	err := e.store.Save(ctx, e.assets)
	if e.metrics != nil {
		e.metrics.ObserveSave(err)
	}
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stats.Saves++
	e.mu.Unlock()
	return nil
}

func (e *Engine) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.FlushTimeout)
	defer cancel()
	if err := e.save(ctx); err != nil {
		return fmt.Errorf("failed to flush assets: %w", err)
	}
	e.logger.Info("Assets flushed")
	return nil
}
