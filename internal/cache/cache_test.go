package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codebuildervaibhav/media-transcriber/internal/logging"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	root := t.TempDir()
	c, err := New(filepath.Join(root, "cache"), filepath.Join(root, "scratch"), logging.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func fakeFetch(calls *atomic.Int32, delay time.Duration) FetchFunc {
	return func(ctx context.Context, destBase string) (string, error) {
		calls.Add(1)
		time.Sleep(delay)
		path := destBase + ".mp3"
		return path, os.WriteFile(path, []byte("audio-bytes"), 0o644)
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("https://www.bilibili.com/video/BV1xy")
	b := Key("https://www.bilibili.com/video/BV1xy")
	if a != b {
		t.Fatalf("same url produced different keys: %s vs %s", a, b)
	}
	if len(a) != KeyLength {
		t.Fatalf("key length = %d, want %d", len(a), KeyLength)
	}
	if Key("https://WWW.Bilibili.com/video/BV1xy#t=30") != a {
		t.Fatal("host case and fragment must not change the key")
	}
	if Key("https://www.bilibili.com/video/BV2zz") == a {
		t.Fatal("different urls must not collide")
	}
}

func TestAcquireHitSkipsFetch(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	url := "https://www.bilibili.com/video/BV1xy"

	first, err := c.Acquire(context.Background(), url, fakeFetch(&calls, 0))
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if !first.Downloaded {
		t.Fatal("first acquisition should download")
	}
	second, err := c.Acquire(context.Background(), url, fakeFetch(&calls, 0))
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if second.Downloaded {
		t.Fatal("second acquisition should be a cache hit")
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
	if first.Path != second.Path {
		t.Fatalf("paths differ: %s vs %s", first.Path, second.Path)
	}
	if filepath.Dir(first.Path) != c.Dir() {
		t.Fatalf("entry %s not in cache dir", first.Path)
	}
	if data, _ := os.ReadFile(first.Path); string(data) != "audio-bytes" {
		t.Fatalf("unexpected cached content %q", data)
	}
}

func TestAcquireDeduplicatesConcurrentMisses(t *testing.T) {
	c := newTestCache(t)
	var calls atomic.Int32
	url := "https://www.bilibili.com/video/BVconcurrent"

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Acquire(context.Background(), url, fakeFetch(&calls, 50*time.Millisecond))
			if err != nil {
				t.Errorf("Acquire: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
	downloaded := 0
	for _, r := range results {
		if r.Downloaded {
			downloaded++
		}
		if r.Path != results[0].Path {
			t.Fatalf("paths differ: %s vs %s", r.Path, results[0].Path)
		}
	}
	if downloaded != 1 {
		t.Fatalf("downloaded count = %d, want 1", downloaded)
	}
}

func TestAcquireFetchErrorLeavesNoEntry(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("boom")
	url := "https://www.bilibili.com/video/BVfail"
	_, err := c.Acquire(context.Background(), url, func(ctx context.Context, destBase string) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, ok := c.Lookup(url); ok {
		t.Fatal("failed fetch must not create an entry")
	}
}

func TestAcquireCancelledCallerDoesNotFailOtherWaiters(t *testing.T) {
	c := newTestCache(t)
	url := "https://www.bilibili.com/video/BVshared"
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		calls    atomic.Int32
		fetchErr atomic.Value
	)
	fetch := func(ctx context.Context, destBase string) (string, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
		}
		path := destBase + ".mp3"
		return path, os.WriteFile(path, []byte("audio-bytes"), 0o644)
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Acquire(firstCtx, url, fetch)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := c.Acquire(context.Background(), url, fetch)
		second <- outcome{res, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller did not return")
	}
	close(release)

	select {
	case got := <-second:
		if got.err != nil {
			t.Fatalf("live waiter failed: %v", got.err)
		}
		if data, _ := os.ReadFile(got.res.Path); string(data) != "audio-bytes" {
			t.Fatalf("unexpected cached content %q", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("live waiter did not return")
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls.Load())
	}
	if err := fetchErr.Load(); err != nil {
		t.Fatalf("shared fetch saw cancellation: %v", err)
	}
}
