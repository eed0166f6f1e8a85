package indicators

import (
	"errors"
	"sync"
	"time"
)

var ErrNoData = errors.New("no data available")

// Bar is one framed OHLCV bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarWindow is a bounded ring of bars. Index 0 is always the newest (active) bar.
type BarWindow struct {
	values   []Bar
	position int
	size     int
	full     bool
	mu       sync.RWMutex
}

func NewBarWindow(size int) *BarWindow {
	if size < 1 {
		size = 1
	}
	return &BarWindow{
		values: make([]Bar, size),
		size:   size,
	}
}

// Add appends a bar, or replaces the active bar when it carries the same timestamp.
func (bw *BarWindow) Add(bar Bar) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.count() > 0 {
		latestIdx := bw.latestIdx()
		latest := bw.values[latestIdx]
		if latest.Time.Equal(bar.Time) {
			bw.values[latestIdx] = bar
			return
		}
		// Out-of-order bars are dropped.
		if bar.Time.Before(latest.Time) {
			return
		}
	}

	bw.values[bw.position] = bar
	bw.position = (bw.position + 1) % bw.size

	if !bw.full && bw.position == 0 {
		bw.full = true
	}
}

func (bw *BarWindow) latestIdx() int {
	idx := bw.position - 1
	if idx < 0 {
		idx = bw.size - 1
	}
	return idx
}

func (bw *BarWindow) count() int {
	if bw.full {
		return bw.size
	}
	return bw.position
}

func (bw *BarWindow) Count() int {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.count()
}

func (bw *BarWindow) IsFull() bool {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.full
}

// At returns the bar i positions back from the newest.
func (bw *BarWindow) At(i int) (Bar, error) {
	bw.mu.RLock()
	defer bw.mu.RUnlock()

	if i < 0 || i >= bw.count() {
		return Bar{}, ErrNoData
	}
	idx := (bw.latestIdx() - i + bw.size) % bw.size
	return bw.values[idx], nil
}

// Newest returns up to n bars, newest first. n <= 0 returns every bar.
func (bw *BarWindow) Newest(n int) []Bar {
	bw.mu.RLock()
	defer bw.mu.RUnlock()

	count := bw.count()
	if n <= 0 || n > count {
		n = count
	}
	bars := make([]Bar, 0, n)
	idx := bw.latestIdx()
	for i := 0; i < n; i++ {
		bars = append(bars, bw.values[idx])
		idx--
		if idx < 0 {
			idx = bw.size - 1
		}
	}
	return bars
}

func (bw *BarWindow) GetLatest() (Bar, error) {
	return bw.At(0)
}
