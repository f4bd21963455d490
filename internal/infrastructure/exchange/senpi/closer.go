package senpi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"xdsl/internal/application/port"
)

const noPositionMarker = "CLOSE_NO_POSITION"

var ErrCloseRejected = errors.New("close rejected")

// Runner executes a command and returns its trimmed stdout.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// Closer closes positions through the senpi tool CLI:
//
//	<command> <args...> --args {"strategyWalletAddress":..,"coin":..,"reason":..}
type Closer struct {
	command string
	args    []string
	run     Runner
}

func NewCloser(command string, args []string) *Closer {
	return &Closer{command: command, args: args, run: execRunner}
}

// WithRunner swaps the process runner, mainly for tests.
func (c *Closer) WithRunner(r Runner) *Closer {
	c.run = r
	return c
}

type closeArgs struct {
	Wallet string `json:"strategyWalletAddress"`
	Coin   string `json:"coin"`
	Reason string `json:"reason"`
}

func (c *Closer) ClosePosition(ctx context.Context, req port.CloseRequest) (port.CloseResult, error) {
	payload, err := json.Marshal(closeArgs{Wallet: req.Wallet, Coin: req.Coin, Reason: req.Reason})
	if err != nil {
		return port.CloseResult{}, err
	}
	args := append(append([]string{}, c.args...), "--args", string(payload))

	out, runErr := c.run(ctx, c.command, args...)
	if strings.Contains(out, noPositionMarker) {
		return port.CloseResult{NoPosition: true, Raw: out}, nil
	}
	if runErr != nil {
		if out == "" {
			return port.CloseResult{Raw: out}, runErr
		}
		return port.CloseResult{Raw: out}, fmt.Errorf("%s: %w", out, runErr)
	}
	if strings.Contains(strings.ToLower(out), "error") {
		return port.CloseResult{Raw: out}, fmt.Errorf("%w: %s", ErrCloseRejected, out)
	}
	return port.CloseResult{Raw: out}, nil
}

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), err
}

var _ port.PositionCloser = (*Closer)(nil)
