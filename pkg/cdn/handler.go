package cdn

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/funish/nexus/pkg/async"
	"github.com/funish/nexus/pkg/esm"
	"github.com/funish/nexus/pkg/httputil"
	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/pkgcache"
	"github.com/funish/nexus/pkg/resolver"
	"github.com/funish/nexus/pkg/storage"
	"github.com/funish/nexus/pkg/upstream"
)

const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheShort     = "public, max-age=600"

	esmPath = "+esm"
)

// Handler serves the /cdn surface.
type Handler struct {
	cache    *pkgcache.Cache
	kv       storage.KV
	resolver *resolver.Resolver
	client   *upstream.Client
	bundler  *esm.Bundler
}

// NewHandler creates the CDN handler.
func NewHandler(cache *pkgcache.Cache, kv storage.KV, res *resolver.Resolver, client *upstream.Client, bundler *esm.Bundler) *Handler {
	return &Handler{cache: cache, kv: kv, resolver: res, client: client, bundler: bundler}
}

// RegisterRoutes attaches the per-ecosystem CDN routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	for _, eco := range []resolver.Ecosystem{resolver.Npm, resolver.JSR, resolver.GitHub, resolver.Cdnjs, resolver.WordPress} {
		eco := eco
		r.PathPrefix("/cdn/" + string(eco) + "/").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.serve(w, req, eco)
		})
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, eco resolver.Ecosystem) {
	prefix := "/cdn/" + string(eco) + "/"
	req, err := ParsePath(eco, strings.TrimPrefix(r.URL.Path, prefix))
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	req.Listing = HasTrailingSlash(r.RequestURI)

	resolved, err := h.resolver.Resolve(r.Context(), eco, req.Name, req.Spec)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	key := pkgcache.Key{
		Ecosystem: eco,
		Name:      resolved.Name,
		Version:   resolved.Version,
		Immutable: resolved.Immutable,
	}
	// The response header follows the request URL, not the cache key: an
	// alias like "18" or "^3" re-resolves on every request even though the
	// concrete version it lands on is stored immutably.
	cc := cacheControlFor(resolved.Immutable && req.Spec == resolved.Version)

	if eco == resolver.Npm && req.FilePath == esmPath {
		h.serveESM(w, r, key, cc)
		return
	}

	if req.Listing {
		h.serveListing(r.Context(), w, key, req.FilePath, cc)
		return
	}

	filePath := req.FilePath
	if filePath == "" {
		filePath, err = h.entryFile(r.Context(), key)
		if err != nil {
			httputil.WriteClassifiedError(w, err)
			return
		}
	}

	data, err := h.cache.GetFile(r.Context(), key, filePath)
	if errors.Is(err, nexuserr.ErrFileNotFound) && req.FilePath != "" {
		// The path may be a directory; answer with its listing if it has one.
		h.serveListing(r.Context(), w, key, req.FilePath, cc)
		return
	}
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}

	writeFile(w, filePath, data, cc)
}

// listingEntry is one row of a directory listing.
type listingEntry struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Integrity string `json:"integrity,omitempty"`
}

type listingResponse struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Path    string         `json:"path"`
	Files   []listingEntry `json:"files"`
}

// serveListing forces hydration and answers with the manifest filtered to
// the directory prefix. An empty result is a 404.
func (h *Handler) serveListing(ctx context.Context, w http.ResponseWriter, key pkgcache.Key, dir, cc string) {
	manifest, err := h.cache.List(ctx, key)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}

	dir = strings.Trim(dir, "/")
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	resp := listingResponse{Name: key.Name, Version: key.Version, Path: dir, Files: []listingEntry{}}
	for _, f := range manifest.Files {
		if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		resp.Files = append(resp.Files, listingEntry{Name: f.Name, Size: f.Size, Integrity: f.Integrity})
	}
	if len(resp.Files) == 0 {
		httputil.WriteNotFoundError(w, "no files under "+dir)
		return
	}

	w.Header().Set("Cache-Control", cc)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// serveESM answers the bundled module, from storage when already built.
func (h *Handler) serveESM(w http.ResponseWriter, r *http.Request, key pkgcache.Key, cc string) {
	bundleKey := key.Prefix() + "/" + esmPath
	if data, err := h.kv.GetRaw(r.Context(), bundleKey); err == nil {
		writeFile(w, "bundle.js", data, cc)
		return
	}

	doc, err := h.client.NPMPackument(r.Context(), key.Name)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	version := doc.Versions[key.Version]
	entry := npmEntry(version.BrowserEntry(), version.Main, version.Module)

	deps := make(map[string]string, len(version.Dependencies)+len(version.PeerDependencies))
	for name, rng := range version.Dependencies {
		deps[name] = rng
	}
	for name, rng := range version.PeerDependencies {
		deps[name] = rng
	}

	bundle, err := h.bundler.Bundle(r.Context(), key, entry, deps)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}

	if key.Immutable {
		data := []byte(bundle)
		async.SafeGoNoError(r.Context(), time.Minute, "esm bundle write-back", func(ctx context.Context) {
			if err := h.kv.PutRaw(ctx, bundleKey, data); err != nil {
				observability.FromContext(ctx).WithError(err).
					WithField("key", bundleKey).Warn("bundle write-back failed")
			}
		})
	}
	writeFile(w, "bundle.js", []byte(bundle), cc)
}

func writeFile(w http.ResponseWriter, filePath string, data []byte, cc string) {
	w.Header().Set("Content-Type", ContentType(filePath))
	w.Header().Set("Cache-Control", cc)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func cacheControlFor(immutableRequest bool) string {
	if immutableRequest {
		return cacheImmutable
	}
	return cacheShort
}
