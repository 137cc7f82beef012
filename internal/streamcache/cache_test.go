package streamcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetCachesWithinTTL(t *testing.T) {
	var calls int32
	c := New(func(_ context.Context, contentID string) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("https://media.example/%s?gen=%d", contentID, n), nil
	}, time.Hour)

	first, err := c.Get(context.Background(), "abc123def45")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := c.Get(context.Background(), "abc123def45")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached url, got %q then %q", first, second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("resolver called %d times, want 1", got)
	}
}

func TestGetRefreshesAfterTTL(t *testing.T) {
	var calls int32
	c := New(func(_ context.Context, contentID string) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		return fmt.Sprintf("https://media.example/%s?gen=%d", contentID, n), nil
	}, time.Hour)

	current := time.Now()
	c.now = func() time.Time { return current }

	first, err := c.Get(context.Background(), "abc123def45")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}

	current = current.Add(time.Hour + time.Minute)
	refreshed, err := c.Get(context.Background(), "abc123def45")
	if err != nil {
		t.Fatalf("refresh get: %v", err)
	}
	if refreshed == first {
		t.Fatalf("expected a fresh url after expiry, got %q again", refreshed)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("resolver called %d times, want 2", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry should be replaced, not duplicated; len = %d", c.Len())
	}
}

func TestGetConcurrentMissesResolveOnce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := New(func(_ context.Context, contentID string) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "https://media.example/" + contentID, nil
	}, time.Hour)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url, err := c.Get(context.Background(), "abc123def45")
			if err != nil {
				t.Errorf("concurrent get: %v", err)
				return
			}
			results[i] = url
		}(i)
	}
	// Give the goroutines a moment to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("resolver called %d times for concurrent misses, want 1", got)
	}
	for i, url := range results {
		if url != results[0] {
			t.Fatalf("result %d = %q, want %q", i, url, results[0])
		}
	}
}

func TestGetErrorNotCached(t *testing.T) {
	var calls int32
	c := New(func(_ context.Context, _ string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("upstream refused")
		}
		return "https://media.example/ok", nil
	}, time.Hour)

	if _, err := c.Get(context.Background(), "abc123def45"); err == nil {
		t.Fatalf("expected first resolution to fail")
	}
	url, err := c.Get(context.Background(), "abc123def45")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if url != "https://media.example/ok" {
		t.Fatalf("retry url = %q", url)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}
