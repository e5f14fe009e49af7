// Package mirror is the raw upstream passthrough: a fixed table of registry
// names to base URLs, with request and response bodies proxied unchanged.
package mirror

import (
	"io"
	"net/http"
	"strings"

	"github.com/funish/nexus/pkg/httputil"
	"github.com/funish/nexus/pkg/observability"
)

// Registries maps mirror names to upstream base URLs. The path from the
// request is concatenated verbatim, without slash normalization, because
// several upstreams (maven, go module proxy) are sensitive to exact paths.
var Registries = map[string]string{
	"npm":          "https://registry.npmjs.org",
	"jsr":          "https://jsr.io",
	"cdnjs":        "https://cdnjs.cloudflare.com",
	"github":       "https://api.github.com",
	"raw":          "https://raw.githubusercontent.com",
	"unpkg":        "https://unpkg.com",
	"jsdelivr":     "https://cdn.jsdelivr.net",
	"skypack":      "https://cdn.skypack.dev",
	"esm":          "https://esm.sh",
	"pypi":         "https://pypi.org",
	"pythonhosted": "https://files.pythonhosted.org",
	"rubygems":     "https://rubygems.org",
	"crates":       "https://crates.io",
	"go":           "https://proxy.golang.org",
	"maven":        "https://repo1.maven.org/maven2",
	"gradle":       "https://plugins.gradle.org",
	"nuget":        "https://api.nuget.org",
	"packagist":    "https://repo.packagist.org",
	"composer":     "https://getcomposer.org",
	"deno":         "https://deno.land",
	"node":         "https://nodejs.org/dist",
	"bun":          "https://bun.sh",
	"brew":         "https://formulae.brew.sh",
	"debian":       "https://deb.debian.org",
	"ubuntu":       "https://archive.ubuntu.com",
	"alpine":       "https://dl-cdn.alpinelinux.org",
	"arch":         "https://geo.mirror.pkgbuild.com",
	"fedora":       "https://dl.fedoraproject.org",
	"centos":       "https://mirror.stream.centos.org",
	"epel":         "https://dl.fedoraproject.org/pub/epel",
	"docker":       "https://registry-1.docker.io",
	"quay":         "https://quay.io",
	"gcr":          "https://gcr.io",
	"ghcr":         "https://ghcr.io",
	"k8s":          "https://registry.k8s.io",
	"helm":         "https://charts.helm.sh",
	"cpan":         "https://www.cpan.org",
	"ctan":         "https://mirrors.ctan.org",
	"cran":         "https://cran.r-project.org",
	"hackage":      "https://hackage.haskell.org",
	"julia":        "https://pkg.julialang.org",
	"flathub":      "https://dl.flathub.org",
	"snapcraft":    "https://api.snapcraft.io",
	"wordpress":    "https://downloads.wordpress.org",
	"winget":       "https://cdn.winget.microsoft.com",
}

const cacheControl = "public, max-age=600"

// Proxy streams mirror requests through to the upstream registries.
type Proxy struct {
	client *http.Client
}

// New creates a mirror proxy. Mirror targets include large artifacts, so the
// client carries no overall timeout; cancellation rides the request context.
func New() *Proxy {
	return &Proxy{client: &http.Client{Timeout: 0}}
}

// Handle serves /mirror/<registry>/<path>. The path is taken from the raw
// request URI so that encoded characters and doubled slashes survive.
func (p *Proxy) Handle(w http.ResponseWriter, r *http.Request) {
	registry, path, ok := splitMirrorPath(r.RequestURI)
	if !ok {
		httputil.WriteBadRequest(w, "mirror path must be /mirror/<registry>/<path>")
		return
	}
	base, ok := Registries[registry]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown registry "+registry)
		return
	}

	upstreamURL := base + "/" + path
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid mirror path")
		return
	}
	req.Header.Set("User-Agent", "nexus-gateway")
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "mirror upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "ETag", "Last-Modified"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("registry", registry).Debug("mirror stream aborted")
	}
}

// splitMirrorPath parses the raw URI /mirror/<registry>/<rest>.
func splitMirrorPath(rawURI string) (registry, path string, ok bool) {
	trimmed := strings.TrimPrefix(rawURI, "/mirror/")
	if trimmed == rawURI || trimmed == "" {
		return "", "", false
	}
	registry, path, found := strings.Cut(trimmed, "/")
	if !found || registry == "" {
		return "", "", false
	}
	return registry, path, true
}
