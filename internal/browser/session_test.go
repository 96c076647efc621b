package browser

import (
	"context"
	"testing"
	"time"
)

func waitDone(t *testing.T, ctx context.Context, msg string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

func TestRunCtx_ReleaseCancelsMerged(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	s := &Session{tabCtx: tabCtx}

	caller, callerCancel := context.WithCancel(context.Background())
	defer callerCancel()

	merged, release := s.runCtx(caller)
	release()
	waitDone(t, merged, "release did not cancel the merged context")

	// The caller's context must be unaffected.
	select {
	case <-caller.Done():
		t.Error("release cancelled the caller's context")
	default:
	}
}

func TestRunCtx_CallerCancelPropagates(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	s := &Session{tabCtx: tabCtx}

	caller, callerCancel := context.WithCancel(context.Background())
	merged, release := s.runCtx(caller)
	defer release()

	callerCancel()
	waitDone(t, merged, "caller cancellation did not reach the merged context")
}

func TestRunCtx_TabCancelPropagates(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	s := &Session{tabCtx: tabCtx}

	merged, release := s.runCtx(context.Background())
	defer release()

	tabCancel()
	waitDone(t, merged, "tab teardown did not reach the merged context")
}

func TestRunCtx_NilCallerUsesTab(t *testing.T) {
	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	s := &Session{tabCtx: tabCtx}

	merged, release := s.runCtx(nil)
	defer release()
	if merged != tabCtx {
		t.Error("nil caller context should map straight to the tab context")
	}
}
