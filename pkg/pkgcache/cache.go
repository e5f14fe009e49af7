// Package pkgcache is the tarball-backed package cache: file-level reads over
// a storage KV, hydrated from upstream tarballs with a detached warmup that
// persists every file and commits a manifest last.
package pkgcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funish/nexus/pkg/async"
	"github.com/funish/nexus/pkg/integrity"
	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/resolver"
	"github.com/funish/nexus/pkg/storage"
	"github.com/funish/nexus/pkg/tarball"
	"github.com/funish/nexus/pkg/upstream"
)

const (
	// ManifestMetaKey holds the manifest JSON in the prefix meta. The
	// manifest write is the hydration commit point: a reader that observes
	// it may assume every listed file has a raw key.
	ManifestMetaKey = "manifest"

	warmupTimeout     = 2 * time.Minute
	warmupConcurrency = 8
)

// Key identifies one cached package version. Immutable comes from the
// resolver and drives both the Cache-Control policy and the mutable-key
// rehydration rule.
type Key struct {
	Ecosystem resolver.Ecosystem
	Name      string
	Version   string
	Immutable bool
}

// Prefix is the storage key prefix all of the package's files live under.
func (k Key) Prefix() string {
	return fmt.Sprintf("cdn/%s/%s/%s", k.Ecosystem, k.Name, k.Version)
}

func (k Key) fileKey(path string) string {
	return k.Prefix() + "/" + path
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Ecosystem, k.Name, k.Version)
}

// FileEntry is one file in a package manifest.
type FileEntry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Integrity string `json:"integrity,omitempty"`
}

// Manifest lists every cached file of a package version. It is written after
// all raw keys, so its presence marks the package as hydrated.
type Manifest struct {
	Files     []FileEntry `json:"files"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// Cache serves files for (ecosystem, name, version) keys out of storage,
// pulling upstream tarballs on miss. There is deliberately no per-key
// coalescing: concurrent misses each pull the tarball, and the idempotent
// writes converge.
type Cache struct {
	kv      storage.KV
	client  *upstream.Client
	metrics *observability.Metrics
}

// New creates a package cache over the given storage and upstream client.
func New(kv storage.KV, client *upstream.Client, metrics *observability.Metrics) *Cache {
	return &Cache{kv: kv, client: client, metrics: metrics}
}

// GetFile returns the bytes of one file of the package. Storage hits return
// directly; a miss pulls the upstream tarball, answers with the requested
// entry, and schedules a detached warmup that persists the whole package.
// Storage read failures count as misses, never as errors.
func (c *Cache) GetFile(ctx context.Context, key Key, path string) ([]byte, error) {
	data, err := c.kv.GetRaw(ctx, key.fileKey(path))
	if err == nil {
		c.countCache(key, true)
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		observability.FromContext(ctx).WithError(err).WithField("key", key.String()).
			Warn("storage read failed, treating as cache miss")
	}
	c.countCache(key, false)

	if perFile(key.Ecosystem) {
		return c.getFileDirect(ctx, key, path)
	}

	entries, err := c.pull(ctx, key)
	if err != nil {
		return nil, err
	}

	var target []byte
	found := false
	for _, e := range entries {
		if e.Path == path {
			target = e.Data
			found = true
			break
		}
	}

	c.scheduleWarmup(ctx, key, entries)

	if !found {
		return nil, fmt.Errorf("%w: %s in %s", nexuserr.ErrFileNotFound, path, key.String())
	}
	return target, nil
}

// List returns the package manifest, hydrating synchronously when the
// package has not been cached yet.
func (c *Cache) List(ctx context.Context, key Key) (*Manifest, error) {
	if m := c.storedManifest(ctx, key); m != nil {
		return m, nil
	}

	if perFile(key.Ecosystem) {
		return c.listDirect(ctx, key)
	}

	entries, err := c.pull(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, key, entries), nil
}

// HydrateAsync schedules a detached full hydration of the package. Already
// hydrated packages are left alone.
func (c *Cache) HydrateAsync(ctx context.Context, key Key) {
	async.SafeGo(ctx, warmupTimeout, "package warmup", func(ctx context.Context) error {
		if c.storedManifest(ctx, key) != nil {
			return nil
		}
		entries, err := c.pull(ctx, key)
		if err != nil {
			return err
		}
		c.persist(ctx, key, entries)
		return nil
	})
}

// storedManifest reads the committed manifest, or nil when the package is
// not hydrated (or storage is unavailable, which reads the same as a miss).
func (c *Cache) storedManifest(ctx context.Context, key Key) *Manifest {
	meta, err := c.kv.GetMeta(ctx, key.Prefix())
	if err != nil {
		return nil
	}
	raw, ok := meta[ManifestMetaKey]
	if !ok || raw == "" {
		return nil
	}
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return &m
}

// pull fetches and extracts the package tarball.
func (c *Cache) pull(ctx context.Context, key Key) ([]tarball.Entry, error) {
	body, err := c.openTarball(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	entries, err := tarball.Extract(body)
	if err != nil {
		return nil, fmt.Errorf("%w: extracting %s: %v", nexuserr.ErrUpstreamUnavailable, key.String(), err)
	}
	return entries, nil
}

func (c *Cache) openTarball(ctx context.Context, key Key) (io.ReadCloser, error) {
	switch key.Ecosystem {
	case resolver.Npm:
		doc, err := c.client.NPMPackument(ctx, key.Name)
		if err != nil {
			return nil, err
		}
		return c.client.PackageTarball(ctx, doc, key.Version)
	case resolver.JSR:
		doc, err := c.client.JSRPackument(ctx, key.Name)
		if err != nil {
			return nil, err
		}
		return c.client.PackageTarball(ctx, doc, key.Version)
	case resolver.GitHub:
		owner, repo, ok := splitRepo(key.Name)
		if !ok {
			return nil, fmt.Errorf("%w: github name %q must be owner/repo", nexuserr.ErrBadRequest, key.Name)
		}
		return c.client.GitHubTarball(ctx, owner, repo, key.Version)
	default:
		return nil, fmt.Errorf("%w: ecosystem %q has no tarball source", nexuserr.ErrBadRequest, key.Ecosystem)
	}
}

// scheduleWarmup persists all extracted entries after the response, detached
// from the request's cancellation.
func (c *Cache) scheduleWarmup(ctx context.Context, key Key, entries []tarball.Entry) {
	async.SafeGo(ctx, warmupTimeout, "package warmup", func(ctx context.Context) error {
		c.persist(ctx, key, entries)
		return nil
	})
}

// persist writes every entry and commits the manifest last. For mutable keys
// the prefix is removed first, so a racing reader sees either the previous
// complete package or a fresh miss. Individual write failures are logged,
// and the failed files are left out of the manifest.
func (c *Cache) persist(ctx context.Context, key Key, entries []tarball.Entry) *Manifest {
	logger := observability.FromContext(ctx).WithField("package", key.String())
	start := time.Now()

	if !key.Immutable {
		if err := c.kv.Remove(ctx, key.Prefix()); err != nil {
			logger.WithError(err).Warn("prefix remove before rehydration failed")
		}
	}

	var (
		mu    sync.Mutex
		files = make([]FileEntry, 0, len(entries))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := c.kv.PutRaw(gctx, key.fileKey(e.Path), e.Data); err != nil {
				logger.WithError(err).WithField("file", e.Path).Warn("warmup write failed")
				return nil
			}
			mu.Lock()
			files = append(files, FileEntry{
				Name:      e.Path,
				Size:      e.Size,
				Integrity: integrity.SRI(e.Data),
			})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	manifest := &Manifest{Files: files, FetchedAt: time.Now().UTC()}
	outcome := "ok"
	if err := c.writeManifest(ctx, key, manifest); err != nil {
		logger.WithError(err).Warn("manifest write failed")
		outcome = "error"
	}

	if c.metrics != nil {
		eco := string(key.Ecosystem)
		c.metrics.WarmupsTotal.WithLabelValues(eco, outcome).Inc()
		c.metrics.WarmupDuration.WithLabelValues(eco).Observe(time.Since(start).Seconds())
		c.metrics.WarmupFilesWritten.Add(float64(len(files)))
	}
	return manifest
}

func (c *Cache) writeManifest(ctx context.Context, key Key, m *Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	meta := storage.MTimeMeta(time.Now())
	meta[ManifestMetaKey] = string(raw)
	return c.kv.SetMeta(ctx, key.Prefix(), meta)
}

func (c *Cache) countCache(key Key, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(string(key.Ecosystem)).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(string(key.Ecosystem)).Inc()
	}
}

func splitRepo(name string) (owner, repo string, ok bool) {
	for i := 1; i < len(name)-1; i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
