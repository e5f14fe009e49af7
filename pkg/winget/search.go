package winget

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Match types of the manifestSearch surface.
const (
	MatchExact           = "Exact"
	MatchCaseInsensitive = "CaseInsensitive"
	MatchStartsWith      = "StartsWith"
	MatchSubstring       = "Substring"
	MatchWildcard        = "Wildcard"
	MatchFuzzy           = "Fuzzy"
	MatchFuzzySubstring  = "FuzzySubstring"
)

// Matcher returns the predicate for a match type, or false for unknown
// types. Matching is always performed over lower-cased strings.
func Matcher(matchType string) (func(keyword, candidate string) bool, bool) {
	switch matchType {
	case MatchExact:
		return func(k, c string) bool {
			return strings.ToLower(c) == strings.ToLower(k)
		}, true
	case MatchCaseInsensitive, MatchSubstring:
		return func(k, c string) bool {
			return strings.Contains(strings.ToLower(c), strings.ToLower(k))
		}, true
	case MatchStartsWith:
		return func(k, c string) bool {
			return strings.HasPrefix(strings.ToLower(c), strings.ToLower(k))
		}, true
	case MatchWildcard:
		return func(k, c string) bool {
			pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(k)), `\*`, ".*") + "$"
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false
			}
			return re.MatchString(strings.ToLower(c))
		}, true
	case MatchFuzzy:
		return func(k, c string) bool {
			return subsequence(strings.ToLower(k), strings.ToLower(c))
		}, true
	case MatchFuzzySubstring:
		return func(k, c string) bool {
			for _, word := range strings.Fields(strings.ToLower(c)) {
				if subsequence(strings.ToLower(k), word) {
					return true
				}
			}
			return false
		}, true
	default:
		return nil, false
	}
}

// subsequence reports whether the characters of needle appear in order,
// not necessarily contiguously, in haystack.
func subsequence(needle, haystack string) bool {
	want := []rune(needle)
	if len(want) == 0 {
		return true
	}
	i := 0
	for _, r := range haystack {
		if want[i] == r {
			i++
			if i == len(want) {
				return true
			}
		}
	}
	return false
}

// sortVersionsDesc orders versions newest first. WinGet versions are mostly
// but not always semver; unparseable ones sort last by reverse string order.
func sortVersionsDesc(versions []string) []string {
	out := make([]string, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i])
		vj, errj := semver.NewVersion(out[j])
		switch {
		case erri == nil && errj == nil:
			return vi.GreaterThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return out[i] > out[j]
		}
	})
	return out
}

// capVersions keeps the n newest versions.
func capVersions(versions []string, n int) []string {
	sorted := sortVersionsDesc(versions)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
