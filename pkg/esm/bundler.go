// Package esm bundles a cached npm package into a single ES module. The
// package's hydrated files feed esbuild through a virtual filesystem plugin;
// bare imports stay external and are rewritten afterwards to versioned
// /cdn/npm/.../+esm paths.
package esm

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/pkgcache"
)

const virtualRoot = "/virtual"

// Bundler turns hydrated packages into single-file ES modules.
type Bundler struct {
	cache *pkgcache.Cache
}

// New creates a bundler over the package cache.
func New(cache *pkgcache.Cache) *Bundler {
	return &Bundler{cache: cache}
}

// Bundle produces the ES module for a package's entry file. deps maps each
// direct and peer dependency name to its declared range; it drives the
// version rewritten into external import paths.
func (b *Bundler) Bundle(ctx context.Context, key pkgcache.Key, entryFile string, deps map[string]string) (string, error) {
	fs, err := b.virtualFS(ctx, key)
	if err != nil {
		return "", err
	}

	entry := virtualPath(key.Name, entryFile)
	if _, ok := fs[entry]; !ok {
		return "", fmt.Errorf("%w: entry %s", nexuserr.ErrFileNotFound, entryFile)
	}

	result := api.Build(api.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		Format:      api.FormatESModule,
		Platform:    api.PlatformBrowser,
		Target:      api.ESNext,
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{virtualFSPlugin(fs)},
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("%w: bundling %s: %s", nexuserr.ErrInvalidManifest, key.String(), result.Errors[0].Text)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("%w: bundling %s produced no output", nexuserr.ErrInvalidManifest, key.String())
	}

	resolved := make(map[string]string, len(deps))
	for name, rng := range deps {
		resolved[name] = RangeVersion(rng)
	}
	return RewriteBareImports(string(result.OutputFiles[0].Contents), resolved), nil
}

// virtualFS reads every hydrated file of the package into memory, keyed by
// its /virtual/<name>/<path> address.
func (b *Bundler) virtualFS(ctx context.Context, key pkgcache.Key) (map[string]string, error) {
	manifest, err := b.cache.List(ctx, key)
	if err != nil {
		return nil, err
	}

	fs := make(map[string]string, len(manifest.Files))
	for _, f := range manifest.Files {
		data, err := b.cache.GetFile(ctx, key, f.Name)
		if err != nil {
			return nil, err
		}
		fs[virtualPath(key.Name, f.Name)] = string(data)
	}
	return fs, nil
}

func virtualPath(name, file string) string {
	return virtualRoot + "/" + name + "/" + file
}

// virtualFSPlugin resolves relative and /virtual/ imports against the
// in-memory filesystem and marks every bare specifier external.
func virtualFSPlugin(fs map[string]string) api.Plugin {
	return api.Plugin{
		Name: "virtual-fs",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					p := args.Path
					switch {
					case strings.HasPrefix(p, virtualRoot+"/"):
						// Entry points and absolute virtual imports.
					case strings.HasPrefix(p, "."):
						p = path.Join(path.Dir(args.Importer), p)
					default:
						return api.OnResolveResult{Path: p, External: true}, nil
					}
					if resolved, ok := resolveVirtual(fs, p); ok {
						return api.OnResolveResult{Path: resolved, Namespace: "virtual"}, nil
					}
					return api.OnResolveResult{}, fmt.Errorf("no virtual file for %s", p)
				},
			)
			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: "virtual"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					contents, ok := fs[args.Path]
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("no virtual file %s", args.Path)
					}
					loader := loaderFor(args.Path)
					return api.OnLoadResult{Contents: &contents, Loader: loader}, nil
				},
			)
		},
	}
}

// resolveVirtual applies the node-style extension and index fallbacks.
func resolveVirtual(fs map[string]string, p string) (string, bool) {
	candidates := []string{p, p + ".js", p + ".mjs", p + ".ts", p + ".json", p + "/index.js", p + "/index.mjs"}
	for _, c := range candidates {
		if _, ok := fs[c]; ok {
			return c, true
		}
	}
	return "", false
}

func loaderFor(p string) api.Loader {
	switch path.Ext(p) {
	case ".ts", ".mts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	default:
		return api.LoaderJS
	}
}

var (
	completeVersionRe = regexp.MustCompile(`^\d+\.\d+\.\d+`)
	versionTripleRe   = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
	upperBoundRe      = regexp.MustCompile(`<\s*=?\s*v?(\d+)\.(\d+)\.(\d+)`)
)

// RangeVersion maps a dependency range to the concrete version rewritten
// into import paths: a complete version passes through, an explicit upper
// bound steps down one unit, anything else falls back to the lowest complete
// version mentioned in the range. Unresolvable ranges yield "".
func RangeVersion(rng string) string {
	rng = strings.TrimSpace(strings.TrimPrefix(rng, "v"))
	if completeVersionRe.MatchString(rng) && !strings.ContainsAny(rng, "<>=~^ |*x") {
		return rng
	}

	if m := upperBoundRe.FindStringSubmatch(rng); m != nil {
		return stepDown(m[1], m[2], m[3])
	}

	// Lowest version mentioned anywhere in the range (handles ^, ~, >=,
	// and hyphen ranges alike).
	lowest := ""
	for _, m := range versionTripleRe.FindAllString(rng, -1) {
		if lowest == "" || versionLess(m, lowest) {
			lowest = m
		}
	}
	return lowest
}

func stepDown(major, minor, patch string) string {
	switch {
	case patch != "0":
		return fmt.Sprintf("%s.%s.%s", major, minor, dec(patch))
	case minor != "0":
		return fmt.Sprintf("%s.%s.0", major, dec(minor))
	case major != "0":
		return fmt.Sprintf("%s.0.0", dec(major))
	default:
		return "0.0.0"
	}
}

func dec(s string) string {
	n := 0
	fmt.Sscanf(s, "%d", &n)
	return fmt.Sprintf("%d", n-1)
}

func versionLess(a, b string) bool {
	am := versionTripleRe.FindStringSubmatch(a)
	bm := versionTripleRe.FindStringSubmatch(b)
	for i := 1; i <= 3; i++ {
		var an, bn int
		fmt.Sscanf(am[i], "%d", &an)
		fmt.Sscanf(bm[i], "%d", &bn)
		if an != bn {
			return an < bn
		}
	}
	return false
}

// importRe matches the specifier of import/export statements and dynamic
// imports in bundled output.
var importRe = regexp.MustCompile(`((?:import|from|export\s+\*\s+from)\s*\(?\s*)(["'])([^"']+)(["'])`)

// RewriteBareImports rewrites every bare external specifier to a
// /cdn/npm/<dep>@<version>/+esm path, keeping subpaths. Specifiers that
// already begin with "/", ".", or a URL scheme pass through untouched.
func RewriteBareImports(js string, resolved map[string]string) string {
	return importRe.ReplaceAllStringFunc(js, func(match string) string {
		parts := importRe.FindStringSubmatch(match)
		spec := parts[3]
		if strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, ".") ||
			strings.HasPrefix(spec, "http:") || strings.HasPrefix(spec, "https:") ||
			strings.HasPrefix(spec, "data:") {
			return match
		}
		name, subpath := splitSpecifier(spec)
		target := "/cdn/npm/" + name
		if v := resolved[name]; v != "" {
			target += "@" + v
		}
		if subpath != "" {
			target += "/" + subpath
		}
		target += "/+esm"
		return parts[1] + parts[2] + target + parts[4]
	})
}

// splitSpecifier separates the package name (one segment, or two for scoped
// packages) from the subpath.
func splitSpecifier(spec string) (name, subpath string) {
	segs := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") {
		if len(segs) < 2 {
			return spec, ""
		}
		name = segs[0] + "/" + segs[1]
		if len(segs) == 3 {
			subpath = segs[2]
		}
		return name, subpath
	}
	name = segs[0]
	if len(segs) > 1 {
		subpath = strings.Join(segs[1:], "/")
	}
	return name, subpath
}
