package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// PriceBook fetches every price a batch needs up front: one shared mid-price
// call plus one call per distinct isolated account.
type PriceBook struct {
	src         port.PriceSource
	timeout     time.Duration
	parallelism int
	logger      zerolog.Logger
}

func NewPriceBook(src port.PriceSource, timeout time.Duration) *PriceBook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PriceBook{
		src:         src,
		timeout:     timeout,
		parallelism: 8,
		logger:      log.With().Str("component", "prices").Logger(),
	}
}

// Prices is the immutable result of one Fetch.
type Prices struct {
	mids     map[string]float64
	midsErr  error
	accounts map[string]map[string]float64
	accErrs  map[string]error
}

// Fetch runs the needed calls concurrently. Individual failures are kept on
// the result and surface as per-record fetch failures in Resolve.
func (b *PriceBook) Fetch(ctx context.Context, recs []*model.Record) *Prices {
	p := &Prices{
		accounts: make(map[string]map[string]float64),
		accErrs:  make(map[string]error),
	}

	needMids := false
	wallets := make(map[string]struct{})
	for _, r := range recs {
		if r.IsIsolated() {
			if r.Wallet != "" {
				wallets[r.Wallet] = struct{}{}
			}
			continue
		}
		needMids = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)

	if needMids {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, b.timeout)
			defer cancel()
			mids, err := b.src.AllMids(cctx)
			if err != nil {
				b.logger.Warn().Err(err).Str("source", b.src.Name()).Msg("allMids fetch failed")
			}
			mu.Lock()
			p.mids, p.midsErr = mids, err
			mu.Unlock()
			return nil
		})
	}

	for w := range wallets {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, b.timeout)
			defer cancel()
			px, err := b.src.AccountPrices(cctx, w)
			if err != nil {
				b.logger.Warn().Err(err).Str("wallet", w).Msg("account prices fetch failed")
			}
			mu.Lock()
			if err != nil {
				p.accErrs[w] = err
			} else {
				p.accounts[w] = px
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return p
}

// Resolve returns the price for rec. A missing price wraps ErrPriceUnavailable.
func (p *Prices) Resolve(rec *model.Record) (float64, error) {
	if rec.IsIsolated() {
		if rec.Wallet == "" {
			return 0, fmt.Errorf("%w: isolated asset %s has no wallet", ErrPriceUnavailable, rec.Asset)
		}
		if err := p.accErrs[rec.Wallet]; err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
		}
		if px, ok := p.accounts[rec.Wallet][rec.CloseCoin()]; ok && px > 0 {
			return px, nil
		}
		return 0, fmt.Errorf("%w: %s not held by %s", ErrPriceUnavailable, rec.CloseCoin(), rec.Wallet)
	}

	if p.midsErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, p.midsErr)
	}
	if px, ok := p.mids[rec.Asset]; ok && px > 0 {
		return px, nil
	}
	return 0, fmt.Errorf("%w: no mid for %s", ErrPriceUnavailable, rec.Asset)
}
