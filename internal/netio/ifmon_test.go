package netio_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gobearer/internal/netio"
)

func TestStubInterfaceMonitorEmitsNothingAndClosesOnCancel(t *testing.T) {
	t.Parallel()

	mon := netio.NewStubInterfaceMonitor(slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- mon.Run(ctx) }()

	select {
	case ev := <-mon.Events():
		t.Fatalf("stub monitor emitted an event: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if _, ok := <-mon.Events(); ok {
		t.Error("Events channel should be closed after Run returns")
	}

	if err := mon.Close(); err != nil {
		t.Errorf("Close() error: %v, want nil", err)
	}
}
