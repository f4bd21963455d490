package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"xdsl/internal/application/port"
)

const (
	DefaultInfoURL = "https://api.hyperliquid.xyz/info"
	DefaultWsURL   = "wss://api.hyperliquid.xyz/ws"
)

// Client reads prices from the public info endpoint.
type Client struct {
	infoURL string
	dex     string
	client  *http.Client
}

func NewClient(infoURL, dex string) *Client {
	if strings.TrimSpace(infoURL) == "" {
		infoURL = DefaultInfoURL
	}
	return &Client{
		infoURL: infoURL,
		dex:     dex,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "hyperliquid" }

// AllMids returns coin -> mid price for the shared book.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.post(ctx, map[string]string{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	return parseMids(raw), nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			PositionValue string `json:"positionValue"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// AccountPrices derives per-coin prices from an account's open positions
// as positionValue / |size|. Coins are keyed both as returned and with the
// dex prefix so either spelling resolves.
func (c *Client) AccountPrices(ctx context.Context, account string) (map[string]float64, error) {
	req := map[string]string{"type": "clearinghouseState", "user": account}
	if c.dex != "" {
		req["dex"] = c.dex
	}
	var st clearinghouseState
	if err := c.post(ctx, req, &st); err != nil {
		return nil, err
	}
	return positionPrices(st, c.dex), nil
}

func (c *Client) post(ctx context.Context, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hyperliquid info http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode hyperliquid info: %w", err)
	}
	return nil
}

func parseMids(raw map[string]string) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for coin, s := range raw {
		px, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || px <= 0 {
			continue
		}
		out[coin] = px
	}
	return out
}

func positionPrices(st clearinghouseState, dex string) map[string]float64 {
	out := make(map[string]float64, len(st.AssetPositions))
	for _, ap := range st.AssetPositions {
		p := ap.Position
		val, err1 := strconv.ParseFloat(p.PositionValue, 64)
		szi, err2 := strconv.ParseFloat(p.Szi, 64)
		if err1 != nil || err2 != nil || szi == 0 || p.Coin == "" {
			continue
		}
		px := val / math.Abs(szi)
		out[p.Coin] = px
		if dex != "" && !strings.HasPrefix(p.Coin, dex+":") {
			out[dex+":"+p.Coin] = px
		}
	}
	return out
}

var _ port.PriceSource = (*Client)(nil)
