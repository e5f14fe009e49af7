// Package winget synthesizes a read-only WinGet package registry from the
// manifests tree of an upstream Git repository. The index is built by
// recursive tree expansion, cached in layers in the storage KV, and served
// with a stale-while-revalidate discipline.
package winget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/funish/nexus/pkg/async"
	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/storage"
	"github.com/funish/nexus/pkg/upstream"
)

const (
	// IndexTTL is the freshness window of every index layer. A stale layer
	// is still served while a detached rebuild replaces it.
	IndexTTL = 600 * time.Second

	rebuildTimeout    = 5 * time.Minute
	letterConcurrency = 6

	manifestsDir = "manifests"
	letters      = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Index is the layered cache over the upstream manifests tree.
type Index struct {
	kv      storage.KV
	client  *upstream.Client
	metrics *observability.Metrics

	owner  string
	repo   string
	branch string
}

// NewIndex creates an index tracking <owner>/<repo>@<branch>, conventionally
// microsoft/winget-pkgs@master.
func NewIndex(kv storage.KV, client *upstream.Client, metrics *observability.Metrics, owner, repo, branch string) *Index {
	return &Index{kv: kv, client: client, metrics: metrics, owner: owner, repo: repo, branch: branch}
}

func (ix *Index) key(parts ...string) string {
	return "registry/winget/" + ix.repo + "/" + strings.Join(parts, "/")
}

// Packages returns the PackageIdentifier → versions mapping. Fresh cache is
// returned as is; a stale cache is returned immediately while a detached
// rebuild runs; an absent cache is built synchronously.
func (ix *Index) Packages(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	err := ix.cached(ctx, ix.key("index"), &out, func(ctx context.Context) (interface{}, error) {
		return ix.buildIndex(ctx)
	})
	return out, err
}

// Versions returns the known versions of one package, newest first.
func (ix *Index) Versions(ctx context.Context, id string) ([]string, error) {
	pkgs, err := ix.Packages(ctx)
	if err != nil {
		return nil, err
	}
	versions, ok := lookupIdentifier(pkgs, id)
	if !ok {
		return nil, fmt.Errorf("%w: winget package %s", nexuserr.ErrPackageNotFound, id)
	}
	return sortVersionsDesc(versions), nil
}

// lookupIdentifier resolves an identifier case-insensitively, returning the
// canonical casing's versions.
func lookupIdentifier(pkgs map[string][]string, id string) ([]string, bool) {
	if v, ok := pkgs[id]; ok {
		return v, true
	}
	lower := strings.ToLower(id)
	for k, v := range pkgs {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// ManifestPaths lists the manifest file paths of one package version,
// repo-absolute (starting with "manifests/").
func (ix *Index) ManifestPaths(ctx context.Context, id, version string) ([]string, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty package identifier", nexuserr.ErrBadRequest)
	}
	letter := strings.ToLower(id[:1])

	sha, err := ix.letterSHA(ctx, letter)
	if err != nil {
		return nil, err
	}
	paths, err := ix.letterPaths(ctx, letter, sha)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, p := range paths {
		pid, ver, ok := parseManifestPath(p)
		if !ok {
			continue
		}
		if strings.EqualFold(pid, id) && ver == version {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: winget %s@%s", nexuserr.ErrVersionNotFound, id, version)
	}
	sort.Strings(out)
	return out, nil
}

// ManifestFile returns the raw bytes of one manifest file. Manifest files at
// a branch path never change once written, so they cache without a TTL.
func (ix *Index) ManifestFile(ctx context.Context, path string) ([]byte, error) {
	fileKey := ix.key("files", path)
	if data, err := ix.kv.GetRaw(ctx, fileKey); err == nil {
		return data, nil
	}

	data, err := ix.client.RawFile(ctx, ix.owner, ix.repo, ix.branch, path)
	if err != nil {
		return nil, err
	}
	if err := ix.kv.PutRaw(ctx, fileKey, data); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("key", fileKey).
			Warn("manifest file write failed")
	}
	return data, nil
}

// manifestsSHA resolves the SHA of the manifests tree at the tracked branch.
func (ix *Index) manifestsSHA(ctx context.Context) (string, error) {
	var sha string
	err := ix.cached(ctx, ix.key("manifests-sha"), &sha, func(ctx context.Context) (interface{}, error) {
		rootSHA, err := ix.client.GitBranchTreeSHA(ctx, ix.owner, ix.repo, ix.branch)
		if err != nil {
			return nil, err
		}
		root, err := ix.client.GitTree(ctx, ix.owner, ix.repo, rootSHA, false)
		if err != nil {
			return nil, err
		}
		for _, e := range root.Tree {
			if e.Path == manifestsDir && e.Type == "tree" {
				return e.SHA, nil
			}
		}
		return nil, fmt.Errorf("%w: %s/%s has no %s tree", nexuserr.ErrInvalidManifest, ix.owner, ix.repo, manifestsDir)
	})
	return sha, err
}

// letterTrees lists the manifests tree one level deep and maps each
// single-character [a-z0-9] child to its tree SHA.
func (ix *Index) letterTrees(ctx context.Context) (map[string]string, error) {
	sha, err := ix.manifestsSHA(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := ix.client.GitTree(ctx, ix.owner, ix.repo, sha, false)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, e := range tree.Tree {
		if e.Type != "tree" || len(e.Path) != 1 || !strings.Contains(letters, e.Path) {
			continue
		}
		out[e.Path] = e.SHA
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: manifests tree of %s/%s has no letter buckets", nexuserr.ErrInvalidManifest, ix.owner, ix.repo)
	}
	return out, nil
}

func (ix *Index) letterSHA(ctx context.Context, letter string) (string, error) {
	trees, err := ix.letterTrees(ctx)
	if err != nil {
		return "", err
	}
	sha, ok := trees[letter]
	if !ok {
		return "", fmt.Errorf("%w: no winget packages under %q", nexuserr.ErrPackageNotFound, letter)
	}
	return sha, nil
}

// letterPaths returns the flattened recursive path list of one letter
// bucket, repo-absolute. Only the path strings are stored, to bound memory.
func (ix *Index) letterPaths(ctx context.Context, letter, sha string) ([]string, error) {
	var out []string
	err := ix.cached(ctx, ix.key("manifests-"+letter), &out, func(ctx context.Context) (interface{}, error) {
		tree, err := ix.client.GitTree(ctx, ix.owner, ix.repo, sha, true)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(tree.Tree))
		for _, e := range tree.Tree {
			if e.Type != "blob" {
				continue
			}
			paths = append(paths, manifestsDir+"/"+letter+"/"+e.Path)
		}
		return paths, nil
	})
	return out, err
}

// buildIndex unions all letter path lists into the package → versions map.
// Letter fetches run in parallel; one letter's failure drops its packages
// from this build without failing the whole rebuild.
func (ix *Index) buildIndex(ctx context.Context) (map[string][]string, error) {
	logger := observability.FromContext(ctx)
	start := time.Now()

	trees, err := ix.letterTrees(ctx)
	if err != nil {
		ix.countRebuild("error", start)
		return nil, err
	}

	var (
		mu    sync.Mutex
		index = make(map[string]map[string]struct{})
	)
	outcome := "ok"

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(letterConcurrency)
	for letter, sha := range trees {
		letter, sha := letter, sha
		g.Go(func() error {
			paths, err := ix.letterPaths(gctx, letter, sha)
			if err != nil {
				logger.WithError(err).WithField("letter", letter).Warn("letter fetch failed, dropping from this rebuild")
				mu.Lock()
				outcome = "partial"
				mu.Unlock()
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range paths {
				id, ver, ok := parseManifestPath(p)
				if !ok {
					continue
				}
				if index[id] == nil {
					index[id] = make(map[string]struct{})
				}
				index[id][ver] = struct{}{}
			}
			return nil
		})
	}
	g.Wait()

	out := make(map[string][]string, len(index))
	for id, vers := range index {
		list := make([]string, 0, len(vers))
		for v := range vers {
			list = append(list, v)
		}
		sort.Strings(list)
		out[id] = list
	}

	ix.countRebuild(outcome, start)
	if ix.metrics != nil {
		ix.metrics.WinGetIndexPackages.Set(float64(len(out)))
	}
	return out, nil
}

func (ix *Index) countRebuild(outcome string, start time.Time) {
	if ix.metrics == nil {
		return
	}
	ix.metrics.WinGetRebuildsTotal.WithLabelValues(outcome).Inc()
	ix.metrics.WinGetRebuildDuration.Observe(time.Since(start).Seconds())
}

// parseManifestPath extracts (PackageIdentifier, version) from a manifest
// path: manifests/<letter>/<pub>/.../<name>/<version>/<file>.yaml. The
// identifier is every segment between the letter and the version, dot-joined.
func parseManifestPath(path string) (id, version string, ok bool) {
	if !strings.HasSuffix(path, ".yaml") {
		return "", "", false
	}
	segs := strings.Split(path, "/")
	// manifests, letter, at least one identifier segment, version, file.
	if len(segs) < 5 || segs[0] != manifestsDir {
		return "", "", false
	}
	return strings.Join(segs[2:len(segs)-2], "."), segs[len(segs)-2], true
}

// cached implements the stale-while-revalidate read of one JSON layer.
func (ix *Index) cached(ctx context.Context, key string, out interface{}, build func(context.Context) (interface{}, error)) error {
	raw, rawErr := ix.kv.GetRaw(ctx, key)
	if rawErr == nil {
		meta, _ := ix.kv.GetMeta(ctx, key)
		age := time.Since(storage.MetaMTime(meta))
		if age >= IndexTTL {
			async.SafeGo(ctx, rebuildTimeout, "winget layer rebuild", func(ctx context.Context) error {
				return ix.rebuild(ctx, key, build)
			})
		}
		if err := json.Unmarshal(raw, out); err == nil {
			return nil
		}
		// Corrupt layer: fall through to a synchronous rebuild.
	} else if !errors.Is(rawErr, storage.ErrNotFound) {
		observability.FromContext(ctx).WithError(rawErr).WithField("key", key).
			Warn("storage read failed, rebuilding layer")
	}

	value, err := build(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ix.store(ctx, key, data)
	return json.Unmarshal(data, out)
}

func (ix *Index) rebuild(ctx context.Context, key string, build func(context.Context) (interface{}, error)) error {
	value, err := build(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ix.store(ctx, key, data)
	return nil
}

func (ix *Index) store(ctx context.Context, key string, data []byte) {
	logger := observability.FromContext(ctx).WithField("key", key)
	if err := ix.kv.PutRaw(ctx, key, data); err != nil {
		logger.WithError(err).Warn("layer write failed")
		return
	}
	if err := ix.kv.SetMeta(ctx, key, storage.MTimeMeta(time.Now())); err != nil {
		logger.WithError(err).Warn("layer meta write failed")
	}
}
