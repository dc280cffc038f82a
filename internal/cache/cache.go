// Package cache stores downloaded audio keyed by a hash of the source URL so
// repeated requests for the same media skip the downloader.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/codebuildervaibhav/media-transcriber/internal/download"
	"github.com/codebuildervaibhav/media-transcriber/internal/types"
)

// KeyLength is the number of hex characters kept from the SHA-256 digest.
const KeyLength = 32

// FetchFunc downloads url into destBase (extension chosen by the fetcher) and
// returns the produced file.
type FetchFunc func(ctx context.Context, destBase string) (string, error)

// Result describes a cache acquisition.
type Result struct {
	Path       string
	Key        string
	Downloaded bool
}

// Cache is a content-addressed directory of audio files.
type Cache struct {
	dir        string
	scratchDir string
	group      singleflight.Group
	logger     *slog.Logger
}

// New creates a cache rooted at dir. Downloads land in scratchDir before being
// copied into the cache.
func New(dir, scratchDir string, logger *slog.Logger) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, types.Wrap(types.ErrConfig, "cache", "init", "cache directory is required", nil)
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	for _, d := range []string{dir, scratchDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, types.Wrap(types.ErrLocalIO, "cache", "init", d, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{dir: dir, scratchDir: scratchDir, logger: logger.With(slog.String("component", "cache"))}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// CanonicalURL normalizes the parts of a URL that do not change the resource.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Key returns the cache key for a source URL.
func Key(sourceURL string) string {
	sum := sha256.Sum256([]byte(CanonicalURL(sourceURL)))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// Lookup returns the cached audio for sourceURL when present.
func (c *Cache) Lookup(sourceURL string) (string, bool) {
	return download.ProbeStem(filepath.Join(c.dir, Key(sourceURL)))
}

// Acquire returns cached audio for sourceURL, invoking fetch on a miss.
// Concurrent misses for one key share a single fetch in this process and are
// serialized by a lock file across processes sharing the directory. The shared
// fetch is detached from any one caller's cancellation: a caller whose ctx ends
// returns early while the fetch completes for the remaining waiters and the
// cache.
func (c *Cache) Acquire(ctx context.Context, sourceURL string, fetch FetchFunc) (Result, error) {
	key := Key(sourceURL)
	if path, ok := c.Lookup(sourceURL); ok {
		return Result{Path: path, Key: key}, nil
	}

	var downloaded atomic.Bool
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		path, fetched, err := c.fill(fetchCtx, sourceURL, key, fetch)
		downloaded.Store(fetched)
		return path, err
	})

	select {
	case <-ctx.Done():
		return Result{Key: key}, types.Wrap(types.ErrLocalIO, "cache", "acquire", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Result{Key: key}, res.Err
		}
		return Result{Path: res.Val.(string), Key: key, Downloaded: downloaded.Load()}, nil
	}
}

func (c *Cache) fill(ctx context.Context, sourceURL, key string, fetch FetchFunc) (string, bool, error) {
	lock := flock.New(filepath.Join(c.dir, key+".lock"))
	if err := lock.Lock(); err != nil {
		return "", false, types.Wrap(types.ErrLocalIO, "cache", "lock", key, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if path, ok := c.Lookup(sourceURL); ok {
		return path, false, nil
	}

	scratch, err := os.MkdirTemp(c.scratchDir, "dl-"+key+"-")
	if err != nil {
		return "", false, types.Wrap(types.ErrLocalIO, "cache", "scratch", "", err)
	}
	defer os.RemoveAll(scratch)

	downloaded, err := fetch(ctx, filepath.Join(scratch, key))
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(downloaded); err != nil {
		return "", false, types.Wrap(types.ErrLocalIO, "cache", "fetch",
			fmt.Sprintf("audio file missing: %s", downloaded), err)
	}

	ext := strings.ToLower(filepath.Ext(downloaded))
	if !download.IsAudioFile(downloaded) {
		ext = ".mp3"
	}
	target := filepath.Join(c.dir, key+ext)
	if err := copyAtomic(downloaded, target); err != nil {
		return "", false, types.Wrap(types.ErrLocalIO, "cache", "store", target, err)
	}
	c.logger.Info("audio cached", slog.String("key", key), slog.String("path", target))
	return target, true, nil
}

// copyAtomic copies src into dst through a temp file in dst's directory so a
// reader never observes a partially written entry.
func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
