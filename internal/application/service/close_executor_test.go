package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func closableRecord() *model.Record {
	rec := model.NewRecord("ETH", model.DirectionLong, 100, 1, 10, 0.1, testNow)
	rec.Wallet = testWallet
	return rec
}

func TestCloseExecutorSuccess(t *testing.T) {
	c := &mockCloser{results: []port.CloseResult{{Raw: "filled"}}}
	rec := closableRecord()

	out := newTestExecutor(c, testNow).Execute(context.Background(), rec, "DSL breach")

	if !out.Closed || out.Attempts != 1 {
		t.Fatalf("expected closed on first attempt, got %+v", out)
	}
	if rec.Active || rec.PendingClose {
		t.Errorf("record should be inactive and not pending: active=%v pending=%v", rec.Active, rec.PendingClose)
	}
	if rec.CloseReason != "DSL breach" {
		t.Errorf("closeReason = %q", rec.CloseReason)
	}
	if rec.ClosedAt == nil || !rec.ClosedAt.Equal(testNow) {
		t.Errorf("closedAt = %v", rec.ClosedAt)
	}
	if c.reqs[0].Coin != "ETH" || c.reqs[0].Wallet != testWallet {
		t.Errorf("unexpected request %+v", c.reqs[0])
	}
}

func TestCloseExecutorRetriesThenSucceeds(t *testing.T) {
	c := &mockCloser{errs: []error{errors.New("timeout")}}
	rec := closableRecord()

	out := newTestExecutor(c, testNow).Execute(context.Background(), rec, "r")

	if !out.Closed || out.Attempts != 2 {
		t.Fatalf("expected close on second attempt, got %+v", out)
	}
}

func TestCloseExecutorNoPositionIsSuccess(t *testing.T) {
	c := &mockCloser{results: []port.CloseResult{{NoPosition: true, Raw: "CLOSE_NO_POSITION"}}}
	rec := closableRecord()
	rec.PendingClose = true

	out := newTestExecutor(c, testNow).Execute(context.Background(), rec, "r")

	if !out.Closed {
		t.Fatalf("no-position close must count as success")
	}
	if rec.CloseReason != model.AlreadyClosedReason || out.Result != model.AlreadyClosedReason {
		t.Errorf("closeReason = %q result = %q", rec.CloseReason, out.Result)
	}
	if rec.PendingClose {
		t.Errorf("pendingClose should be cleared")
	}
}

func TestCloseExecutorExhaustedLeavesPending(t *testing.T) {
	c := &mockCloser{errs: []error{errors.New("boom"), errors.New("boom")}}
	rec := closableRecord()

	out := newTestExecutor(c, testNow).Execute(context.Background(), rec, "DSL breach")

	if out.Closed {
		t.Fatalf("close should have failed")
	}
	if len(c.reqs) != model.DefaultCloseRetries {
		t.Errorf("attempts = %d, want %d", len(c.reqs), model.DefaultCloseRetries)
	}
	if !rec.Active || !rec.PendingClose || rec.PendingCloseReason != "DSL breach" {
		t.Errorf("unexpected lifecycle: %+v", rec)
	}
	if !strings.Contains(out.Result, "api_error_attempt_2") {
		t.Errorf("result = %q", out.Result)
	}
}

func TestCloseExecutorNoWallet(t *testing.T) {
	c := &mockCloser{}
	rec := closableRecord()
	rec.Wallet = ""

	out := newTestExecutor(c, testNow).Execute(context.Background(), rec, "r")

	if out.Closed || len(c.reqs) != 0 {
		t.Fatalf("closer must not be called without a wallet")
	}
	if out.Result != "error: no wallet in state file" || !rec.PendingClose {
		t.Errorf("result = %q pending = %v", out.Result, rec.PendingClose)
	}
}
