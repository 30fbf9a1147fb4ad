package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"positionguard/internal/metrics"
)

const (
	defaultBufferSize = 256
	missedPongLimit   = 3
)

// Subscription is one (symbol, timeframe) candle stream to request.
type Subscription struct {
	Symbol    string
	Timeframe string
}

// Client streams closed candles over a reconnecting WebSocket connection,
// buffering each (symbol, timeframe) pair in its own Ring.
type Client struct {
	url     string
	metrics *metrics.Wrapper

	mu    sync.RWMutex
	rings map[Key]*Ring

	missedPongs int32
	isConnected int32
}

// NewClient constructs a streaming Client against url (the configured
// System.WsURL).
func NewClient(url string, m *metrics.Wrapper) *Client {
	return &Client{url: url, metrics: m, rings: make(map[Key]*Ring)}
}

// RingFor returns (creating if absent) the ring buffer for a (symbol,
// timeframe) pair, sized capacity candles.
func (c *Client) RingFor(key Key, capacity int) *Ring {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rings[key]
	if !ok {
		r = NewRing(capacity)
		c.rings[key] = r
	}
	return r
}

// Alive reports whether the current connection is believed healthy.
func (c *Client) Alive() bool {
	return atomic.LoadInt32(&c.isConnected) == 1 && atomic.LoadInt32(&c.missedPongs) < missedPongLimit
}

// Stream connects and re-connects with exponential backoff until ctx is
// canceled, dispatching one event per closed candle onto out. pingInterval
// matches the 18-second heartbeat cadence; a connection is
// recycled after missedPongLimit consecutive missed pongs.
func (c *Client) Stream(ctx context.Context, subs []Subscription, ringCapacity int, pingInterval time.Duration, out chan<- Candle) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&c.isConnected, 0)
			return ctx.Err()
		default:
		}

		if err := c.streamOnce(ctx, subs, ringCapacity, pingInterval, out); err != nil {
			atomic.StoreInt32(&c.isConnected, 0)
			if c.metrics != nil {
				c.metrics.WSReconnects().Inc()
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("candle stream disconnected, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) streamOnce(ctx context.Context, subs []Subscription, ringCapacity int, pingInterval time.Duration, out chan<- Candle) error {
	url := strings.TrimRight(c.url, "/")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(256 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	atomic.StoreInt32(&c.missedPongs, 0)
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&c.missedPongs, 0)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	var args []map[string]string
	for _, s := range subs {
		args = append(args, map[string]string{"symbol": s.Symbol, "ch": "candle_" + s.Timeframe})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	msgCh := make(chan []byte, defaultBufferSize)
	errCh := make(chan error, 1)
	go readLoop(conn, msgCh, errCh)

	atomic.StoreInt32(&c.isConnected, 1)
	lastMessageAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-pingTicker.C:
			if atomic.AddInt32(&c.missedPongs, 1) > missedPongLimit {
				return fmt.Errorf("missed %d consecutive pongs", missedPongLimit)
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}

		case err := <-errCh:
			return err

		case msg := <-msgCh:
			now := time.Now()
			if c.metrics != nil {
				c.metrics.MessageJitterMs().Observe(float64(now.Sub(lastMessageAt).Milliseconds()))
			}
			lastMessageAt = now
			candle, ok, err := parseCandle(msg)
			if err != nil {
				log.Warn().Err(err).Msg("failed to parse candle message")
				continue
			}
			if !ok || !candle.Closed {
				continue
			}
			if !c.dispatch(candle, ringCapacity) {
				continue
			}
			select {
			case out <- candle:
			default:
				log.Warn().Str("symbol", candle.Symbol).Msg("candle dispatch channel full, dropping")
			}
		}
	}
}

func readLoop(conn *websocket.Conn, msgCh chan<- []byte, errCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		select {
		case msgCh <- data:
		default:
		}
	}
}

// dispatch buffers one closed candle, reporting whether it was accepted.
// Bars older than the buffer's newest timestamp are dropped (a bar with the
// same timestamp replaces its predecessor inside the ring instead); gaps are
// surfaced as warnings but do not block the bar.
func (c *Client) dispatch(candle Candle, ringCapacity int) bool {
	key := Key{Symbol: candle.Symbol, Timeframe: candle.Timeframe}
	ring := c.RingFor(key, ringCapacity)

	if last, ok := ring.Last(); ok {
		if candle.OpenTimeMs < last.OpenTimeMs {
			log.Warn().Str("symbol", candle.Symbol).Str("timeframe", candle.Timeframe).
				Int64("newest", last.OpenTimeMs).
				Int64("got", candle.OpenTimeMs).
				Msg("out-of-order candle dropped")
			return false
		}
		if last.OpenTimeMs+intervalMs(candle.Timeframe) < candle.OpenTimeMs {
			if c.metrics != nil {
				c.metrics.CandleGaps().Inc()
			}
			log.Warn().Str("symbol", candle.Symbol).Str("timeframe", candle.Timeframe).
				Int64("expected", last.OpenTimeMs+intervalMs(candle.Timeframe)).
				Int64("got", candle.OpenTimeMs).
				Msg("candle gap detected")
		}
	}

	ring.Push(candle)
	if c.metrics != nil {
		c.metrics.CandlesReceived().Inc()
	}
	return true
}

var timeframeMs = map[string]int64{
	"1m": 60_000, "5m": 300_000, "15m": 900_000,
	"1h": 3_600_000, "4h": 14_400_000, "1d": 86_400_000,
}

func intervalMs(timeframe string) int64 {
	if ms, ok := timeframeMs[timeframe]; ok {
		return ms
	}
	return 0
}

type wireCandle struct {
	Ch   string `json:"ch"`
	Data struct {
		Symbol string `json:"symbol"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
		Ts     int64  `json:"ts"`
		Closed bool   `json:"closed"`
	} `json:"data"`
}

func parseCandle(msg []byte) (Candle, bool, error) {
	var w wireCandle
	if err := json.Unmarshal(msg, &w); err != nil {
		return Candle{}, false, err
	}
	if !strings.HasPrefix(w.Ch, "candle_") {
		return Candle{}, false, nil
	}
	timeframe := strings.TrimPrefix(w.Ch, "candle_")
	return Candle{
		Symbol:     w.Data.Symbol,
		Timeframe:  timeframe,
		OpenTimeMs: w.Data.Ts,
		Open:       toFloat(w.Data.Open),
		High:       toFloat(w.Data.High),
		Low:        toFloat(w.Data.Low),
		Close:      toFloat(w.Data.Close),
		Volume:     toFloat(w.Data.Volume),
		Closed:     w.Data.Closed,
	}, true, nil
}

// toFloat parses a wire string to float64, treating parse failures and
// non-finite results alike as zero.
func toFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
