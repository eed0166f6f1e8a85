// Package marketdata provides quote, option chain and bar snapshots and the streaming feed
// that patches them.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedConfig holds configuration for the streaming feed.
type FeedConfig struct {
	URL               string               `yaml:"url"`                // WebSocket endpoint
	ReconnectInterval time.Duration        `yaml:"reconnect_interval"` // Delay between reconnects
	HeartbeatInterval time.Duration        `yaml:"heartbeat_interval"` // Ping interval
	ReadTimeout       time.Duration        `yaml:"read_timeout"`       // Max silence before reconnect
	MaxReconnects     int                  `yaml:"max_reconnects"`     // Consecutive failures before giving up
	Quotes            []string             `yaml:"-"`
	Options           []OptionSubscription `yaml:"-"`
	Bars              []string             `yaml:"-"`
	BufferSize        int                  `yaml:"buffer_size"`
}

// OptionSubscription selects the part of an option chain to stream.
type OptionSubscription struct {
	Ticker      string `json:"ticker"`
	MaxDTE      int    `json:"max_dte,omitempty"`
	StrikeCount int    `json:"strike_count,omitempty"`
}

// DefaultFeedConfig returns a default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		URL:               "ws://localhost:8765/stream",
		ReconnectInterval: 5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		MaxReconnects:     10,
		BufferSize:        256,
	}
}

// ConnectionStatus provides information about the WebSocket connection
type ConnectionStatus struct {
	IsConnected    bool
	LastHeartbeat  time.Time
	ReconnectCount int
	MessageCount   int64
	LastMessage    time.Time
	ErrorCount     int64
}

// SubscriptionMessage is sent once per channel after every (re)connect.
type SubscriptionMessage struct {
	Method       string         `json:"method"`
	Subscription map[string]any `json:"subscription"`
}

// frame is one message from the feed server.
type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

const (
	ChannelQuotes  = "quotes"
	ChannelOptions = "options"
	ChannelBars    = "bars"
)

// Feed streams patches from a WebSocket server and delivers one Event per frame, in arrival order.
type Feed struct {
	config FeedConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	mu   sync.RWMutex
	conn *websocket.Conn

	events chan Event
	status ConnectionStatus
	statMu sync.RWMutex
	err    error

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewFeed creates a feed client. Call Start to connect.
func NewFeed(config FeedConfig, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultFeedConfig().BufferSize
	}
	return &Feed{
		config: config,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		events: make(chan Event, config.BufferSize),
		now:    time.Now,
	}
}

// Events returns the event channel. It is closed when the feed stops or gives up reconnecting.
func (f *Feed) Events() <-chan Event {
	return f.events
}

// Err returns the error that terminated the feed, if any.
func (f *Feed) Err() error {
	f.statMu.RLock()
	defer f.statMu.RUnlock()
	return f.err
}

// Status returns the current connection status.
func (f *Feed) Status() ConnectionStatus {
	f.statMu.RLock()
	defer f.statMu.RUnlock()
	return f.status
}

// Start connects, subscribes and launches the read and heartbeat loops.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.connect(); err != nil {
		return fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(2)
	go f.readLoop(ctx)
	go f.heartbeat(ctx)

	f.logger.Info("Feed started", zap.String("url", f.config.URL))
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (f *Feed) Stop() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("Feed stopped")
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timeout waiting for feed goroutines to finish")
	}
}

func (f *Feed) connect() error {
	conn, _, err := f.dialer.Dial(f.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.updateStatus(func(s *ConnectionStatus) {
		s.IsConnected = true
		s.LastHeartbeat = f.now()
	})

	return f.subscribeAll()
}

func (f *Feed) subscribeAll() error {
	msgs := make([]SubscriptionMessage, 0, 3)
	if len(f.config.Quotes) > 0 {
		msgs = append(msgs, SubscriptionMessage{
			Method:       "subscribe",
			Subscription: map[string]any{"type": ChannelQuotes, "tickers": f.config.Quotes},
		})
	}
	if len(f.config.Options) > 0 {
		msgs = append(msgs, SubscriptionMessage{
			Method:       "subscribe",
			Subscription: map[string]any{"type": ChannelOptions, "underlyings": f.config.Options},
		})
	}
	if len(f.config.Bars) > 0 {
		msgs = append(msgs, SubscriptionMessage{
			Method:       "subscribe",
			Subscription: map[string]any{"type": ChannelBars, "tickers": f.config.Bars},
		})
	}
	for _, msg := range msgs {
		if err := f.send(msg); err != nil {
			return fmt.Errorf("failed to subscribe to %v: %w", msg.Subscription["type"], err)
		}
	}
	return nil
}

func (f *Feed) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return errors.New("WebSocket not connected")
	}
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) reconnect(ctx context.Context) error {
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()
	f.updateStatus(func(s *ConnectionStatus) { s.IsConnected = false })

	var lastErr error
	for attempt := 1; attempt <= f.config.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.config.ReconnectInterval):
		}

		f.logger.Info("Attempting reconnection",
			zap.Int("attempt", attempt),
			zap.Int("max", f.config.MaxReconnects))

		if lastErr = f.connect(); lastErr == nil {
			f.updateStatus(func(s *ConnectionStatus) { s.ReconnectCount++ })
			f.logger.Info("Reconnection successful")
			return nil
		}
		f.updateStatus(func(s *ConnectionStatus) { s.ErrorCount++ })
		f.logger.Warn("Reconnection failed", zap.Error(lastErr))
	}
	return fmt.Errorf("maximum reconnection attempts reached (%d): %w", f.config.MaxReconnects, lastErr)
}

func (f *Feed) readLoop(ctx context.Context) {
	defer f.wg.Done()
	defer close(f.events)

	for {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			if ctx.Err() != nil {
				return
			}
			if err := f.reconnect(ctx); err != nil {
				f.fail(err)
				return
			}
			continue
		}

		if f.config.ReadTimeout > 0 {
			conn.SetReadDeadline(f.now().Add(f.config.ReadTimeout))
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("Error reading message", zap.Error(err))
			f.updateStatus(func(s *ConnectionStatus) {
				s.ErrorCount++
				s.IsConnected = false
			})
			if err := f.reconnect(ctx); err != nil {
				f.fail(err)
				return
			}
			continue
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := f.decode(data)
		if err != nil {
			f.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		f.updateStatus(func(s *ConnectionStatus) {
			s.MessageCount++
			s.LastMessage = ev.ReceivedAt
		})
		if ev.Empty() {
			continue
		}

		select {
		case f.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) decode(data []byte) (Event, error) {
	var fr frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return Event{}, err
	}
	ev := Event{ReceivedAt: f.now()}
	switch fr.Channel {
	case ChannelQuotes:
		if err := json.Unmarshal(fr.Data, &ev.Quotes); err != nil {
			return Event{}, fmt.Errorf("quotes: %w", err)
		}
	case ChannelOptions:
		if err := json.Unmarshal(fr.Data, &ev.Contracts); err != nil {
			return Event{}, fmt.Errorf("options: %w", err)
		}
	case ChannelBars:
		if err := json.Unmarshal(fr.Data, &ev.Bars); err != nil {
			return Event{}, fmt.Errorf("bars: %w", err)
		}
	default:
		// Acks and server notices carry no patches.
	}
	return ev, nil
}

func (f *Feed) heartbeat(ctx context.Context) {
	defer f.wg.Done()
	if f.config.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, f.now().Add(5*time.Second))
			}
			f.mu.Unlock()
			if conn == nil {
				continue
			}
			if err != nil {
				f.logger.Warn("Heartbeat failed", zap.Error(err))
				continue
			}
			f.updateStatus(func(s *ConnectionStatus) { s.LastHeartbeat = f.now() })
		}
	}
}

func (f *Feed) fail(err error) {
	f.logger.Error("Feed terminated", zap.Error(err))
	f.statMu.Lock()
	f.err = err
	f.statMu.Unlock()
}

func (f *Feed) updateStatus(update func(*ConnectionStatus)) {
	f.statMu.Lock()
	defer f.statMu.Unlock()
	update(&f.status)
}
