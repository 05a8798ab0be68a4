package pool

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/gtp"
)

const fakeEngineScript = `while read line; do printf '= ok\n\n'; done`

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p := New(Config{
		Role: RoleMain,
		Size: size,
		Engine: gtp.Config{
			Command: []string{"/bin/sh", "-c", fakeEngineScript},
		},
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Skipf("cannot start shell engines: %v", err)
	}
	t.Cleanup(p.Shutdown)
	return p
}

func TestPoolReadyAndAvailability(t *testing.T) {
	p := newTestPool(t, 2)

	select {
	case <-p.Ready():
	default:
		t.Fatal("Ready not resolved after Start")
	}
	if got := p.CountAvailable(); got != 2 {
		t.Fatalf("CountAvailable = %d, want 2", got)
	}
}

func TestAcquireRelease(t *testing.T) {
	p := newTestPool(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := p.CountAvailable(); got != 0 {
		t.Fatalf("CountAvailable after acquire = %d, want 0", got)
	}

	// A second acquire must block until the instance is returned.
	blocked, blockedCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer blockedCancel()
	if _, err := p.Acquire(blocked); err == nil {
		t.Fatal("second Acquire should block on an empty pool")
	}

	p.Release(e)
	if got := p.CountAvailable(); got != 1 {
		t.Fatalf("CountAvailable after release = %d, want 1", got)
	}
}

func TestDeadInstanceIsReplaced(t *testing.T) {
	p := newTestPool(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	e.Kill()
	select {
	case <-e.Exited():
	case <-time.After(6 * time.Second):
		t.Fatal("killed engine not reaped")
	}
	p.Release(e)

	// The replacement is spawned asynchronously.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if p.CountAvailable() == 1 {
			replacement, err := p.Acquire(ctx)
			if err != nil {
				t.Fatalf("Acquire replacement: %v", err)
			}
			if replacement.ID == e.ID {
				t.Fatal("dead instance was requeued instead of replaced")
			}
			p.Release(replacement)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("pool capacity never restored after dead release")
}

func TestAwaitReadyOnlyCoversConfiguredPools(t *testing.T) {
	ps := &Pools{byRole: map[Role]*Pool{RoleMain: newTestPool(t, 1)}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ps.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if ps.Get(RoleOpening) != nil {
		t.Fatal("unconfigured role should be nil")
	}
}
