package errgroup

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrgroup "golang.org/x/sync/errgroup"
)

func TestWithContextHappy(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	g.Go(func() error { return nil })
	g.Go(func() error { time.Sleep(10 * time.Millisecond); return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithContextErrorCancels(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	done := make(chan struct{})
	g.Go(func() error { return errors.New("boom") })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			close(done)
			return nil
		case <-time.After(250 * time.Millisecond):
			t.Error("expected cancel propagation")
			return nil
		}
	})
	if err := g.Wait(); err == nil {
		t.Fatal("expected error")
	}
	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatal("ctx was not canceled")
	}
}

func TestWithContextParentDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, gctx := WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	err := g.Wait()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWaitIdempotent(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	boom := errors.New("boom")
	g.Go(func() error { return boom })
	err1 := g.Wait()
	err2 := g.Wait()
	if !errors.Is(err1, boom) || !errors.Is(err2, boom) {
		t.Fatalf("Wait should repeat the same error, got (%v, %v)", err1, err2)
	}
}

func TestGoAfterWaitIsDropped(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	g.Go(func() error { return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ran := make(chan struct{})
	g.Go(func() error { close(ran); return nil }) // must not panic
	select {
	case <-ran:
		t.Fatal("function submitted after Wait executed")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestMatchesUpstreamErrgroup runs the same workload through this
// adapter and through golang.org/x/sync/errgroup and compares the
// observable behavior.
func TestMatchesUpstreamErrgroup(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	workload := func(spawn func(func() error), ctx context.Context) {
		spawn(func() error {
			time.Sleep(10 * time.Millisecond)
			return boom
		})
		spawn(func() error {
			<-ctx.Done()
			return nil
		})
	}

	g, gctx := WithContext(context.Background())
	workload(g.Go, gctx)
	adapterErr := g.Wait()

	ug, uctx := xerrgroup.WithContext(context.Background())
	workload(ug.Go, uctx)
	upstreamErr := ug.Wait()

	if !errors.Is(adapterErr, boom) || !errors.Is(upstreamErr, boom) {
		t.Fatalf("first-error mismatch: adapter=%v upstream=%v", adapterErr, upstreamErr)
	}
	if gctx.Err() == nil || uctx.Err() == nil {
		t.Fatal("both group contexts should be cancelled after Wait")
	}
}
