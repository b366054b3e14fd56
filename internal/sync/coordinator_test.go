package sync

import (
	"context"
	"testing"
	"time"

	"github.com/hyperengineering/watchsync/internal/remote"
)

func TestCoordinator_SyncsOnStart(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	local := newFakeLocal("replica-a", testList("l1", "Queue", 1, at, "replica-a"))
	rem := remote.NewMemoryStore()
	o := New(local, rem, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCoordinator(o, time.Hour).Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := rem.Get(context.Background(), o.cfg.ObjectKey); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("coordinator never published the initial snapshot")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on context cancel")
	}
}

func TestCoordinator_ToleratesThrottledCycles(t *testing.T) {
	local := newFakeLocal("replica-a")
	rem := remote.NewMemoryStore()
	cfg := fastConfig()
	cfg.MinInterval = time.Hour
	o := New(local, rem, cfg)

	if err := o.Sync(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	// A scheduled cycle inside the throttle window is a no-op, not a
	// failure the coordinator escalates.
	c := NewCoordinator(o, time.Hour)
	c.syncOnce(context.Background())
	if o.Status().LastError != "" {
		t.Errorf("throttled scheduled sync should not surface an error, got %q", o.Status().LastError)
	}
}
