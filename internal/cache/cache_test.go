package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_HitAndExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := New[string](time.Hour, 0)
	c.now = func() time.Time { return now }

	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	v, res, err := c.Do(context.Background(), "k", load)
	if err != nil || v != "v" || res != Miss {
		t.Fatalf("first: v=%q res=%q err=%v", v, res, err)
	}
	v, res, err = c.Do(context.Background(), "k", load)
	if err != nil || v != "v" || res != Hit {
		t.Fatalf("second: v=%q res=%q err=%v", v, res, err)
	}

	now = now.Add(time.Hour)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should expire after ttl")
	}
	if _, res, _ = c.Do(context.Background(), "k", load); res != Miss {
		t.Fatalf("after expiry res=%q, want=%q", res, Miss)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want=2", calls)
	}
}

func TestCache_ErrorsNotCached(t *testing.T) {
	c := New[int](time.Hour, 0)
	boom := errors.New("boom")

	_, _, err := c.Do(context.Background(), "k", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want=%v", err, boom)
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d, want=0", c.Len())
	}
	v, _, err := c.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("v=%d err=%v", v, err)
	}
}

func TestCache_SingleLoadUnderConcurrency(t *testing.T) {
	c := New[string](time.Hour, 0)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	load := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "payload", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = c.Do(context.Background(), "k", load)
	}()
	<-started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = c.Do(context.Background(), "k", load)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("load calls=%d, want=1", got)
	}
	for i, r := range results {
		if r != "payload" {
			t.Fatalf("results[%d]=%q", i, r)
		}
	}
}

func TestCache_CallerCancel(t *testing.T) {
	c := New[string](time.Hour, 0)
	release := make(chan struct{})
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_, _, err := c.Do(ctx, "k", func(loadCtx context.Context) (string, error) {
			<-release
			return "late", loadCtx.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err=%v, want=%v", err, context.Canceled)
		}
	}()
	cancel()
	<-done
	close(release)

	// The detached load still completes and fills the cache.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := c.Get("k"); ok {
			if v != "late" {
				t.Fatalf("v=%q, want=late", v)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("detached load was not cached")
}

func TestCache_MaxEntries(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := New[int](time.Hour, 2)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(time.Minute)
	c.Set("b", 2)
	now = now.Add(time.Minute)
	c.Set("c", 3)

	if c.Len() != 2 {
		t.Fatalf("len=%d, want=2", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("c=%d ok=%v", v, ok)
	}
}
