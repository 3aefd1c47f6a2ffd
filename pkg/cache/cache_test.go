package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func countingLoader(calls *int32, val interface{}) Loader {
	return func(_ context.Context, _ string) (interface{}, bool, error) {
		atomic.AddInt32(calls, 1)
		return val, true, nil
	}
}

func TestCacheGetHitAndExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond, MaxEntries: 10})

	var calls int32
	loader := countingLoader(&calls, "value")

	val, ok, err := c.Get(context.Background(), "alpha", loader)
	if err != nil || !ok || val.(string) != "value" {
		t.Fatalf("expected first load")
	}
	if _, ok, _ = c.Get(context.Background(), "alpha", loader); !ok {
		t.Fatalf("expected cache hit")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("loader calls = %d, want 1", got)
	}

	time.Sleep(25 * time.Millisecond)
	if _, ok, _ = c.Get(context.Background(), "alpha", loader); !ok {
		t.Fatalf("expected reload after expiry")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("loader calls = %d, want 2 after expiry", got)
	}
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10})

	var calls int32
	errBoom := errors.New("boom")
	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		atomic.AddInt32(&calls, 1)
		return nil, false, errBoom
	}

	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || err == nil {
		t.Fatalf("expected load error")
	}
	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || err == nil {
		t.Fatalf("expected second load error")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("loader calls = %d, want 2 (failures never cached)", got)
	}
}

func TestCacheDelete(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10})

	var calls int32
	loader := countingLoader(&calls, "value")

	_, _, _ = c.Get(context.Background(), "alpha", loader)
	c.Delete("alpha")
	_, _, _ = c.Get(context.Background(), "alpha", loader)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("loader calls = %d, want reload after delete", got)
	}
}

func TestCacheConcurrentMissesShareOneLoad(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10})

	var calls int32
	release := make(chan struct{})
	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "value", true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := c.Get(context.Background(), "alpha", loader); !ok || err != nil {
				t.Errorf("unexpected miss: ok=%v err=%v", ok, err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("loader calls = %d, want single shared load", got)
	}
}

func TestCacheEviction(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2})

	var calls int32
	for _, key := range []string{"first", "second", "third"} {
		_, _, _ = c.Get(context.Background(), key, countingLoader(&calls, key))
	}

	// "first" was evicted, so reading it loads again; the others hit.
	for _, key := range []string{"second", "third", "first"} {
		_, _, _ = c.Get(context.Background(), key, countingLoader(&calls, key))
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("loader calls = %d, want 4 (one reload for evicted key)", got)
	}
}
