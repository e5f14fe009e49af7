package pkgcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/funish/nexus/pkg/async"
	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/resolver"
)

// perFile reports whether the ecosystem has no tarball source. cdnjs and the
// WordPress SVN serve individual files, so the cache hydrates file by file
// instead of pulling an archive.
func perFile(eco resolver.Ecosystem) bool {
	return eco == resolver.Cdnjs || eco == resolver.WordPress
}

// getFileDirect fetches one file straight from the upstream and writes it
// back after the response. There is no warmup pass: the rest of the package
// fills in on demand.
func (c *Cache) getFileDirect(ctx context.Context, key Key, path string) ([]byte, error) {
	data, err := c.fetchOne(ctx, key, path)
	if err != nil {
		return nil, err
	}

	async.SafeGo(ctx, warmupTimeout, "file write-back", func(ctx context.Context) error {
		if err := c.kv.PutRaw(ctx, key.fileKey(path), data); err != nil {
			observability.FromContext(ctx).WithError(err).
				WithField("key", key.fileKey(path)).Warn("write-back failed")
		}
		return nil
	})
	return data, nil
}

func (c *Cache) fetchOne(ctx context.Context, key Key, path string) ([]byte, error) {
	switch key.Ecosystem {
	case resolver.Cdnjs:
		return c.client.CdnjsFile(ctx, key.Name, key.Version, path)
	case resolver.WordPress:
		kind, slug, ok := strings.Cut(key.Name, "/")
		if !ok {
			return nil, fmt.Errorf("%w: wordpress name %q must be plugins/<slug> or themes/<slug>", nexuserr.ErrBadRequest, key.Name)
		}
		switch kind {
		case "plugins":
			return c.client.WordPressPluginFile(ctx, slug, key.Version, path)
		case "themes":
			return c.client.WordPressThemeFile(ctx, slug, key.Version, path)
		default:
			return nil, fmt.Errorf("%w: unknown wordpress kind %q", nexuserr.ErrBadRequest, kind)
		}
	default:
		return nil, fmt.Errorf("%w: ecosystem %q has no per-file source", nexuserr.ErrBadRequest, key.Ecosystem)
	}
}

// listDirect builds a manifest from the upstream file listing without
// fetching any bytes. Sizes and integrity stay unset until the files are
// actually pulled; WordPress has no listing source at all.
func (c *Cache) listDirect(ctx context.Context, key Key) (*Manifest, error) {
	if key.Ecosystem != resolver.Cdnjs {
		return nil, fmt.Errorf("%w: %s has no file listing", nexuserr.ErrFileNotFound, key.String())
	}

	paths, err := c.client.CdnjsVersionFiles(ctx, key.Name, key.Version)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: cdnjs %s@%s", nexuserr.ErrVersionNotFound, key.Name, key.Version)
	}

	files := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		files = append(files, FileEntry{Name: p})
	}
	m := &Manifest{Files: files, FetchedAt: time.Now().UTC()}
	if err := c.writeManifest(ctx, key, m); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("package", key.String()).Warn("manifest write failed")
	}
	return m, nil
}
