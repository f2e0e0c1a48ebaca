package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"cr-go/internal/cr"
	"cr-go/internal/lock"
)

func TestManager_MutualExclusion(t *testing.T) {
	m := lock.NewManager(time.Second, nil, nil)
	key := cr.NameInFolderKey(1, "index.html")

	var inside, maxInside, total int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return m.ExecuteLocked(ctx, key, 0, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&total, 1)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("ExecuteLocked failed: %v", err)
	}

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if total != 20 {
		t.Errorf("ran %d times, want 20", total)
	}
	if m.ActiveKeys() != 0 {
		t.Errorf("ActiveKeys() = %d after all released, want 0", m.ActiveKeys())
	}
}

func TestManager_Timeout(t *testing.T) {
	m := lock.NewManager(time.Second, nil, nil)
	key := cr.FolderKey(7)

	acquired := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired

	ran := false
	err := m.ExecuteLocked(context.Background(), key, 20*time.Millisecond, func(context.Context) error {
		ran = true
		return nil
	})
	close(release)

	if !errors.Is(err, cr.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	var lte *cr.LockTimeoutError
	if !errors.As(err, &lte) {
		t.Fatalf("expected *LockTimeoutError, got %T", err)
	}
	if lte.Key != key || lte.Timeout != 20*time.Millisecond {
		t.Errorf("LockTimeoutError = %+v", lte)
	}
	if ran {
		t.Error("fn ran despite the timeout")
	}
	if err := <-done; err != nil {
		t.Errorf("holder failed: %v", err)
	}
}

func TestManager_Canceled(t *testing.T) {
	m := lock.NewManager(time.Second, nil, nil)
	key := cr.FolderKey(1)

	acquired := make(chan struct{})
	release := make(chan struct{})
	go m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error {
		close(acquired)
		<-release
		return nil
	})
	<-acquired
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.ExecuteLocked(ctx, key, time.Second, func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, cr.ErrLockTimeout) {
		t.Error("cancellation must not be reported as a lock timeout")
	}
}

func TestManager_DistinctKeysDoNotBlock(t *testing.T) {
	m := lock.NewManager(time.Second, nil, nil)

	err := m.ExecuteLocked(context.Background(), cr.FolderKey(1), 0, func(context.Context) error {
		done := make(chan error, 1)
		// A fresh context so the second key is taken by another caller.
		go func() {
			done <- m.ExecuteLocked(context.Background(), cr.FolderKey(2), 50*time.Millisecond, func(context.Context) error {
				return nil
			})
		}()
		return <-done
	})
	if err != nil {
		t.Fatalf("distinct keys blocked each other: %v", err)
	}
}

func TestManager_Reentrant(t *testing.T) {
	t.Run("same key on the locked ctx runs through", func(t *testing.T) {
		m := lock.NewManager(50*time.Millisecond, nil, nil)
		key := cr.LocalizationKey(3, 2)

		depth := 0
		err := m.ExecuteLocked(context.Background(), key, 0, func(ctx context.Context) error {
			return m.ExecuteLocked(ctx, key, 0, func(ctx context.Context) error {
				depth = len(lock.HeldKeys(ctx))
				return nil
			})
		})
		if err != nil {
			t.Fatalf("nested acquisition failed: %v", err)
		}
		if depth != 1 {
			t.Errorf("HeldKeys depth = %d, want 1", depth)
		}
	})

	t.Run("outer ctx does not hold the key", func(t *testing.T) {
		m := lock.NewManager(20*time.Millisecond, nil, nil)
		key := cr.FolderKey(9)
		outer := context.Background()

		err := m.ExecuteLocked(outer, key, 0, func(context.Context) error {
			return m.ExecuteLocked(outer, key, 0, func(context.Context) error { return nil })
		})
		if !errors.Is(err, cr.ErrLockTimeout) {
			t.Fatalf("expected timeout for a foreign ctx, got %v", err)
		}
	})

	t.Run("held keys are per locker", func(t *testing.T) {
		a := lock.NewManager(time.Second, nil, nil)
		b := lock.NewManager(20*time.Millisecond, nil, nil)
		key := cr.FolderKey(4)

		release := make(chan struct{})
		acquired := make(chan struct{})
		go b.ExecuteLocked(context.Background(), key, 0, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
		<-acquired
		defer close(release)

		err := a.ExecuteLocked(context.Background(), key, 0, func(ctx context.Context) error {
			return b.ExecuteLocked(ctx, key, 0, func(context.Context) error { return nil })
		})
		if !errors.Is(err, cr.ErrLockTimeout) {
			t.Fatalf("a key held on one locker must not pass another, got %v", err)
		}
	})
}

func TestManager_ReleasesOnErrorAndPanic(t *testing.T) {
	m := lock.NewManager(50*time.Millisecond, nil, nil)
	key := cr.ChannelSetKey(5)
	boom := errors.New("boom")

	if err := m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error passed through, got %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error { panic("boom") })
	}()

	if err := m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released after panic: %v", err)
	}
	if m.ActiveKeys() != 0 {
		t.Errorf("ActiveKeys() = %d, want 0", m.ActiveKeys())
	}
}

func TestLockedAll(t *testing.T) {
	m := lock.NewManager(time.Second, nil, nil)

	t.Run("nests in the given order", func(t *testing.T) {
		keys := []cr.LockKey{cr.FolderKey(1), cr.NameInFolderKey(1, "a")}

		var seen []cr.LockKey
		err := cr.LockedAll(context.Background(), m, keys, 0, func(ctx context.Context) error {
			seen = lock.HeldKeys(ctx)
			return nil
		})
		if err != nil {
			t.Fatalf("LockedAll failed: %v", err)
		}
		if len(seen) != 2 || seen[0] != keys[1] || seen[1] != keys[0] {
			t.Errorf("HeldKeys = %v, want innermost first %v", seen, keys)
		}
	})

	t.Run("orders kinds coarse to fine", func(t *testing.T) {
		keys := []cr.LockKey{
			cr.NameInFolderKey(1, "a"),
			cr.FolderKey(9),
			cr.ChannelSetKey(5),
			cr.FolderKey(3),
			cr.FolderKey(9),
		}

		var seen []cr.LockKey
		err := cr.LockedAll(context.Background(), m, keys, 0, func(ctx context.Context) error {
			seen = lock.HeldKeys(ctx)
			return nil
		})
		if err != nil {
			t.Fatalf("LockedAll failed: %v", err)
		}
		// innermost first; folders keep their relative order
		want := []cr.LockKey{cr.NameInFolderKey(1, "a"), cr.FolderKey(3), cr.FolderKey(9), cr.ChannelSetKey(5)}
		if len(seen) != len(want) {
			t.Fatalf("HeldKeys = %v, want %v", seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Errorf("HeldKeys = %v, want %v", seen, want)
				break
			}
		}
	})
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := lock.NewMetrics(reg)
	m := lock.NewManager(20*time.Millisecond, nil, metrics)
	key := cr.FolderKey(1)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	release := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.ExecuteLocked(context.Background(), key, 0, func(ctx context.Context) error {
			close(acquired)
			m.ExecuteLocked(ctx, key, 0, func(context.Context) error { return nil })
			<-release
			return nil
		})
	}()
	<-acquired

	if got := testutil.ToFloat64(metrics.Active); got != 1 {
		t.Errorf("held gauge = %v, want 1", got)
	}
	m.ExecuteLocked(context.Background(), key, 0, func(context.Context) error { return nil })
	close(release)
	wg.Wait()

	counts := map[string]float64{
		lock.OutcomeAcquired:  1,
		lock.OutcomeReentrant: 1,
		lock.OutcomeTimeout:   1,
	}
	for outcome, want := range counts {
		if got := testutil.ToFloat64(metrics.Acquisitions.WithLabelValues("memory", outcome)); got != want {
			t.Errorf("acquisitions{outcome=%q} = %v, want %v", outcome, got, want)
		}
	}
	if got := testutil.ToFloat64(metrics.Active); got != 0 {
		t.Errorf("held gauge = %v after release, want 0", got)
	}
	if n := testutil.CollectAndCount(metrics.Wait); n != 1 {
		t.Errorf("wait histogram collected %d metrics, want 1", n)
	}
}
