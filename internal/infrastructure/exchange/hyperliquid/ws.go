package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xdsl/internal/application/port"
)

var errStreamClosed = errors.New("ws stream closed")

type wsSubscribe struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

type wsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// WSSource serves mid prices from the allMids websocket channel. When Run
// keeps a stream open, AllMids answers from the cache while it is fresh;
// otherwise it dials for a single snapshot. Account prices come from REST.
type WSSource struct {
	wsURL  string
	rest   *Client
	maxAge time.Duration
	logger zerolog.Logger

	mu      sync.RWMutex
	mids    map[string]float64
	updated time.Time
}

func NewWSSource(wsURL string, rest *Client) *WSSource {
	if strings.TrimSpace(wsURL) == "" {
		wsURL = DefaultWsURL
	}
	return &WSSource{
		wsURL:  wsURL,
		rest:   rest,
		maxAge: 10 * time.Second,
		logger: log.With().Str("component", "hl-ws").Logger(),
	}
}

func (s *WSSource) Name() string { return "hyperliquid-ws" }

func (s *WSSource) AllMids(ctx context.Context) (map[string]float64, error) {
	if m := s.cached(); m != nil {
		return m, nil
	}
	return s.snapshot(ctx)
}

func (s *WSSource) AccountPrices(ctx context.Context, account string) (map[string]float64, error) {
	return s.rest.AccountPrices(ctx, account)
}

func (s *WSSource) cached() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mids == nil || time.Since(s.updated) > s.maxAge {
		return nil
	}
	out := make(map[string]float64, len(s.mids))
	for k, v := range s.mids {
		out[k] = v
	}
	return out
}

func (s *WSSource) store(m map[string]float64) {
	s.mu.Lock()
	s.mids = m
	s.updated = time.Now()
	s.mu.Unlock()
}

// snapshot dials, subscribes and returns the first allMids push.
func (s *WSSource) snapshot(ctx context.Context) (map[string]float64, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if m, ok := decodeMids(b); ok {
			s.store(m)
			return m, nil
		}
	}
}

func (s *WSSource) dial(ctx context.Context) (*websocket.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(cctx, s.wsURL, nil)
	cancel()
	if err != nil {
		return nil, err
	}
	sub := wsSubscribe{Method: "subscribe", Subscription: map[string]string{"type": "allMids"}}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Run keeps the allMids stream open until ctx ends, reconnecting with backoff.
func (s *WSSource) Run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		s.logger.Debug().Str("url", s.wsURL).Msg("ws connecting")
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("ws dial failed")
			if !sleepBackoff(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		s.logger.Info().Msg("ws connected")

		err = readLoop(ctx, conn, func(b []byte) {
			if m, ok := decodeMids(b); ok {
				s.store(m)
			}
		})
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("ws disconnected, reconnecting")
		if !sleepBackoff(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func decodeMids(b []byte) (map[string]float64, bool) {
	var msg wsMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, false
	}
	if msg.Channel != "allMids" || len(msg.Data.Mids) == 0 {
		return nil, false
	}
	return parseMids(msg.Data.Mids), true
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				return errStreamClosed
			}
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var _ port.PriceSource = (*WSSource)(nil)
