// Package resolver canonicalizes version specifiers into concrete, cacheable
// versions using upstream metadata and semver range matching.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/upstream"
)

// Ecosystem tags the registries the gateway fronts.
type Ecosystem string

const (
	Npm       Ecosystem = "npm"
	JSR       Ecosystem = "jsr"
	GitHub    Ecosystem = "gh"
	Cdnjs     Ecosystem = "cdnjs"
	WordPress Ecosystem = "wp"
	WinGet    Ecosystem = "winget"
)

// Resolved is a concrete package version. Immutable is derived from the
// shape of the resolved version string, never from the caller's input: a
// request for "18" that resolves to "18.3.1" is still served with the short
// cache policy by the handler, but the cache key itself is immutable.
type Resolved struct {
	Name      string
	Version   string
	Immutable bool
}

var (
	completeSemverRe = regexp.MustCompile(`^\d+\.\d+\.\d+`)
	commitSHARe      = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// IsCompleteSemver reports whether s starts with a full major.minor.patch
// triple after stripping an optional leading "v" when allowVPrefix is set.
func IsCompleteSemver(s string, allowVPrefix bool) bool {
	if allowVPrefix && len(s) > 1 && s[0] == 'v' {
		s = s[1:]
	}
	return completeSemverRe.MatchString(s)
}

// IsCommitSHA reports whether s is a 40-character lowercase hex commit.
func IsCommitSHA(s string) bool {
	return commitSHARe.MatchString(s)
}

// Resolver canonicalizes version specs against upstream metadata.
type Resolver struct {
	client *upstream.Client
}

// New creates a resolver backed by the given upstream client.
func New(client *upstream.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve canonicalizes (ecosystem, name, spec) to a concrete version.
// An empty spec means "whatever the upstream calls latest".
func (r *Resolver) Resolve(ctx context.Context, eco Ecosystem, name, spec string) (Resolved, error) {
	switch eco {
	case Npm:
		doc, err := r.client.NPMPackument(ctx, name)
		if err != nil {
			return Resolved{}, err
		}
		return resolveFromPackument(name, spec, doc, false)
	case JSR:
		doc, err := r.client.JSRPackument(ctx, name)
		if err != nil {
			return Resolved{}, err
		}
		return resolveFromPackument(name, spec, doc, false)
	case GitHub:
		return r.resolveGitHub(ctx, name, spec)
	case Cdnjs:
		return r.resolveCdnjs(ctx, name, spec)
	case WordPress:
		// WordPress URL syntax already carries immutability; there is no
		// metadata source to consult.
		return Resolved{Name: name, Version: spec, Immutable: WordPressImmutable(spec)}, nil
	default:
		return Resolved{}, fmt.Errorf("%w: unknown ecosystem %q", nexuserr.ErrBadRequest, eco)
	}
}

// WordPressImmutable reports whether a WordPress ref is pinned. "tags/<v>"
// and plain theme versions are immutable; "trunk" is not.
func WordPressImmutable(ref string) bool {
	return ref != "trunk" && ref != ""
}

func resolveFromPackument(name, spec string, doc *upstream.Packument, allowVPrefix bool) (Resolved, error) {
	versions := make([]string, 0, len(doc.Versions))
	for v := range doc.Versions {
		versions = append(versions, v)
	}

	resolved, err := pick(spec, versions, doc.DistTags, true)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s@%s", err, name, spec)
	}
	return Resolved{
		Name:      name,
		Version:   resolved,
		Immutable: IsCompleteSemver(resolved, allowVPrefix),
	}, nil
}

func (r *Resolver) resolveGitHub(ctx context.Context, name, spec string) (Resolved, error) {
	// A commit SHA never aliases; serve it without a metadata round trip.
	if IsCommitSHA(spec) {
		return Resolved{Name: name, Version: spec, Immutable: true}, nil
	}

	owner, repo, ok := splitRepo(name)
	if !ok {
		return Resolved{}, fmt.Errorf("%w: github name %q must be owner/repo", nexuserr.ErrBadRequest, name)
	}

	versions, err := r.client.GitHubVersions(ctx, owner, repo)
	if err != nil {
		return Resolved{}, err
	}

	// No newest-version fallback here: a spec that matches nothing may be a
	// branch name, handled below.
	resolved, pickErr := pick(spec, versions, nil, false)
	if pickErr != nil {
		if spec == "" {
			return Resolved{}, fmt.Errorf("%w: %s", pickErr, name)
		}
		// Branch names and other non-version refs pass through as mutable.
		return Resolved{Name: name, Version: spec, Immutable: false}, nil
	}
	return Resolved{
		Name:      name,
		Version:   resolved,
		Immutable: IsCompleteSemver(resolved, true),
	}, nil
}

func (r *Resolver) resolveCdnjs(ctx context.Context, name, spec string) (Resolved, error) {
	doc, err := r.client.CdnjsLibrary(ctx, name)
	if err != nil {
		return Resolved{}, err
	}

	tags := map[string]string{}
	if doc.Version != "" {
		tags["latest"] = doc.Version
	}
	resolved, err := pick(spec, doc.Versions, tags, true)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s@%s", err, name, spec)
	}
	return Resolved{
		Name:      name,
		Version:   resolved,
		Immutable: IsCompleteSemver(resolved, true),
	}, nil
}

// pick implements the shared resolution algorithm: literal membership, then
// tag, then range max-satisfying, then the latest tag, then the highest
// version when fallbackNewest is set.
func pick(spec string, versions []string, tags map[string]string, fallbackNewest bool) (string, error) {
	if len(versions) == 0 {
		return "", nexuserr.ErrVersionNotFound
	}

	set := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		set[v] = struct{}{}
	}

	// A concrete published version passes through untouched.
	if spec != "" {
		if _, ok := set[spec]; ok {
			return spec, nil
		}
		if tagged, ok := tags[spec]; ok && tagged != "" {
			return tagged, nil
		}
		if best := MaxSatisfying(versions, spec); best != "" {
			return best, nil
		}
		if tagged := tags["latest"]; tagged != "" {
			return tagged, nil
		}
		if fallbackNewest {
			return sortedBySemverDesc(versions)[0], nil
		}
		return "", nexuserr.ErrVersionNotFound
	}

	if tagged := tags["latest"]; tagged != "" {
		return tagged, nil
	}
	if sorted := sortedBySemverDesc(versions); len(sorted) > 0 {
		return sorted[0], nil
	}
	return "", nexuserr.ErrVersionNotFound
}

// MaxSatisfying returns the highest version satisfying the range, or "" when
// the range is unparseable or nothing matches. Versions that do not parse as
// semver are ignored.
func MaxSatisfying(versions []string, rng string) string {
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return ""
	}

	var best *semver.Version
	bestRaw := ""
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	return bestRaw
}

// sortedBySemverDesc orders versions newest first; non-semver strings sort
// after all semver ones.
func sortedBySemverDesc(versions []string) []string {
	type parsed struct {
		raw string
		v   *semver.Version
	}
	items := make([]parsed, 0, len(versions))
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			items = append(items, parsed{raw: raw})
			continue
		}
		items = append(items, parsed{raw: raw, v: v})
	}

	sort.SliceStable(items, func(i, j int) bool {
		switch {
		case items[i].v == nil:
			return false
		case items[j].v == nil:
			return true
		default:
			return items[i].v.GreaterThan(items[j].v)
		}
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.raw
	}
	return out
}

func splitRepo(name string) (owner, repo string, ok bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:], i > 0 && i < len(name)-1
		}
	}
	return "", "", false
}
