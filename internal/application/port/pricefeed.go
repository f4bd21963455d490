package port

import "context"

// PriceSource supplies mid prices. AllMids covers the shared book; isolated
// assets are priced per account through AccountPrices.
type PriceSource interface {
	Name() string
	AllMids(ctx context.Context) (map[string]float64, error)
	AccountPrices(ctx context.Context, account string) (map[string]float64, error)
}
