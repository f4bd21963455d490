package port

import "context"

type CloseRequest struct {
	Wallet string
	Coin   string
	Reason string
}

type CloseResult struct {
	// NoPosition means the venue had nothing to close. Treated as success.
	NoPosition bool
	Raw        string
}

type PositionCloser interface {
	ClosePosition(ctx context.Context, req CloseRequest) (CloseResult, error)
}
