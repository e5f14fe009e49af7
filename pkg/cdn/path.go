// Package cdn serves the /cdn/<ecosystem>/... surface: per-ecosystem path
// grammar, entry-file selection, directory listings, and the +esm bundle
// path, all backed by the package cache.
package cdn

import (
	"fmt"
	"strings"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/resolver"
)

// Request is a parsed CDN request.
type Request struct {
	Ecosystem resolver.Ecosystem
	Name      string
	Spec      string // version specifier, may be empty
	FilePath  string // path inside the package, may be empty
	Listing   bool   // trailing slash on the raw URL
}

// ParsePath parses the portion of the URL after /cdn/<ecosystem>/. The
// trailing-slash listing flag is taken from the raw URI by the caller.
func ParsePath(eco resolver.Ecosystem, rest string) (Request, error) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return Request{}, fmt.Errorf("%w: empty package path", nexuserr.ErrBadRequest)
	}

	switch eco {
	case resolver.Npm:
		name, spec, filePath := parsePackageRef(rest, strings.HasPrefix(rest, "@"))
		return Request{Ecosystem: eco, Name: name, Spec: spec, FilePath: filePath}, nil
	case resolver.JSR:
		if !strings.HasPrefix(rest, "@") {
			return Request{}, fmt.Errorf("%w: jsr packages are @scope/name", nexuserr.ErrBadRequest)
		}
		name, spec, filePath := parsePackageRef(rest, true)
		return Request{Ecosystem: eco, Name: name, Spec: spec, FilePath: filePath}, nil
	case resolver.GitHub:
		name, spec, filePath := parsePackageRef(rest, true)
		if !strings.Contains(name, "/") {
			return Request{}, fmt.Errorf("%w: github paths are owner/repo", nexuserr.ErrBadRequest)
		}
		return Request{Ecosystem: eco, Name: name, Spec: spec, FilePath: filePath}, nil
	case resolver.Cdnjs:
		return parseCdnjs(rest)
	case resolver.WordPress:
		return parseWordPress(rest)
	default:
		return Request{}, fmt.Errorf("%w: unknown ecosystem %q", nexuserr.ErrBadRequest, eco)
	}
}

// parsePackageRef splits name[@spec][/path]. Scoped names (and GitHub
// owner/repo pairs) span the first two segments; the version attaches to the
// last name segment.
func parsePackageRef(rest string, twoSegmentName bool) (name, spec, filePath string) {
	segs := strings.SplitN(rest, "/", 3)

	nameSegs := 1
	if twoSegmentName && len(segs) >= 2 {
		nameSegs = 2
	}

	parts := segs[:nameSegs]
	last := parts[nameSegs-1]
	if at := strings.LastIndex(last, "@"); at > 0 {
		spec = last[at+1:]
		parts[nameSegs-1] = last[:at]
	}
	name = strings.Join(parts, "/")
	filePath = strings.Join(segs[nameSegs:], "/")
	return name, spec, filePath
}

// parseCdnjs accepts both lib[@spec]/path and lib/version/path.
func parseCdnjs(rest string) (Request, error) {
	segs := strings.SplitN(rest, "/", 2)
	lib := segs[0]
	spec := ""
	filePath := ""
	if len(segs) == 2 {
		filePath = segs[1]
	}

	if at := strings.LastIndex(lib, "@"); at > 0 {
		spec = lib[at+1:]
		lib = lib[:at]
	} else if filePath != "" {
		// lib/version/path form: a leading complete version segment is the
		// spec, not a file path.
		first, remainder, _ := strings.Cut(filePath, "/")
		if resolver.IsCompleteSemver(first, true) {
			spec = first
			filePath = remainder
		}
	}
	return Request{Ecosystem: resolver.Cdnjs, Name: lib, Spec: spec, FilePath: filePath}, nil
}

// parseWordPress handles plugins/<slug>/(tags/<v>|trunk)[/path] and
// themes/<slug>/<version>[/path].
func parseWordPress(rest string) (Request, error) {
	segs := strings.Split(rest, "/")
	if len(segs) < 3 {
		return Request{}, fmt.Errorf("%w: wordpress paths are plugins/<slug>/<ref>/<file> or themes/<slug>/<version>/<file>", nexuserr.ErrBadRequest)
	}

	kind, slug := segs[0], segs[1]
	switch kind {
	case "plugins":
		var spec string
		var pathSegs []string
		if segs[2] == "trunk" {
			spec = "trunk"
			pathSegs = segs[3:]
		} else if segs[2] == "tags" && len(segs) >= 4 {
			spec = "tags/" + segs[3]
			pathSegs = segs[4:]
		} else {
			return Request{}, fmt.Errorf("%w: plugin ref must be trunk or tags/<version>", nexuserr.ErrBadRequest)
		}
		return Request{
			Ecosystem: resolver.WordPress,
			Name:      "plugins/" + slug,
			Spec:      spec,
			FilePath:  strings.Join(pathSegs, "/"),
		}, nil
	case "themes":
		return Request{
			Ecosystem: resolver.WordPress,
			Name:      "themes/" + slug,
			Spec:      segs[2],
			FilePath:  strings.Join(segs[3:], "/"),
		}, nil
	default:
		return Request{}, fmt.Errorf("%w: wordpress kind must be plugins or themes", nexuserr.ErrBadRequest)
	}
}

// HasTrailingSlash inspects the raw request URI: the parsed URL path
// normalizes the trailing slash away, but "list the root directory" versus
// "serve the root entry file" hangs on it.
func HasTrailingSlash(rawURI string) bool {
	if i := strings.IndexAny(rawURI, "?#"); i >= 0 {
		rawURI = rawURI[:i]
	}
	return strings.HasSuffix(rawURI, "/")
}
