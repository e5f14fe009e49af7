package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/upstream"
)

// fakeNPM serves a minimal packument for the react package.
func fakeNPM(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/react" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "react",
			"dist-tags": map[string]string{
				"latest": "18.3.1",
				"next":   "19.0.0-rc.0",
			},
			"versions": map[string]interface{}{
				"17.0.2":      map[string]interface{}{"version": "17.0.2"},
				"18.2.0":      map[string]interface{}{"version": "18.2.0"},
				"18.3.1":      map[string]interface{}{"version": "18.3.1"},
				"19.0.0-rc.0": map[string]interface{}{"version": "19.0.0-rc.0"},
			},
		})
	}))
}

func newTestResolver(t *testing.T, npmURL string) *Resolver {
	t.Helper()
	client := upstream.NewClient(upstream.Options{})
	if npmURL != "" {
		client.NPMRegistry = npmURL
	}
	return New(client)
}

func TestResolve_NPMConcreteVersion(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	got, err := r.Resolve(context.Background(), Npm, "react", "18.2.0")
	require.NoError(t, err)
	assert.Equal(t, "18.2.0", got.Version)
	assert.True(t, got.Immutable)
}

func TestResolve_NPMRange(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	tests := []struct {
		spec string
		want string
	}{
		{"18", "18.3.1"},
		{"^18.2.0", "18.3.1"},
		{"~18.2", "18.2.0"},
		{"17.x", "17.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), Npm, "react", tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Version)
			assert.True(t, got.Immutable, "resolved complete semver is immutable regardless of input")
		})
	}
}

func TestResolve_NPMLatestTag(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	got, err := r.Resolve(context.Background(), Npm, "react", "latest")
	require.NoError(t, err)
	assert.Equal(t, "18.3.1", got.Version)
	// Derived from the resolved string, not the alias input.
	assert.True(t, got.Immutable)
}

func TestResolve_NPMEmptySpec(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	got, err := r.Resolve(context.Background(), Npm, "react", "")
	require.NoError(t, err)
	assert.Equal(t, "18.3.1", got.Version)
}

func TestResolve_Idempotent(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	first, err := r.Resolve(context.Background(), Npm, "react", "^18")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), Npm, "react", first.Version)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_NPMNoDistTagsFallsBackToNewest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "oldpkg",
			"versions": map[string]interface{}{
				"0.9.0": map[string]interface{}{"version": "0.9.0"},
				"1.4.0": map[string]interface{}{"version": "1.4.0"},
			},
		})
	}))
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	// No dist-tags and nothing matches: the newest published version wins.
	got, err := r.Resolve(context.Background(), Npm, "oldpkg", "not-a-version")
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", got.Version)

	got, err = r.Resolve(context.Background(), Npm, "oldpkg", "")
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", got.Version)
}

func TestResolve_NPMNotFound(t *testing.T) {
	srv := fakeNPM(t)
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	_, err := r.Resolve(context.Background(), Npm, "no-such-package", "1.0.0")
	assert.ErrorIs(t, err, nexuserr.ErrPackageNotFound)
}

func TestResolve_NPMUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	_, err := r.Resolve(context.Background(), Npm, "react", "18")
	assert.ErrorIs(t, err, nexuserr.ErrUpstreamUnavailable)
}

func TestResolve_GitHubCommitSHA(t *testing.T) {
	r := newTestResolver(t, "")

	sha := "0123456789abcdef0123456789abcdef01234567"
	got, err := r.Resolve(context.Background(), GitHub, "vuejs/core", sha)
	require.NoError(t, err)
	assert.Equal(t, sha, got.Version)
	assert.True(t, got.Immutable)
}

func TestResolve_GitHubBranchPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"versions": []map[string]string{{"version": "3.4.0"}, {"version": "3.3.0"}},
		})
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Options{})
	client.JSDelivrAPI = srv.URL
	r := New(client)

	got, err := r.Resolve(context.Background(), GitHub, "vuejs/core", "main")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Version)
	assert.False(t, got.Immutable)

	got, err = r.Resolve(context.Background(), GitHub, "vuejs/core", "^3.3")
	require.NoError(t, err)
	assert.Equal(t, "3.4.0", got.Version)
	assert.True(t, got.Immutable)
}

func TestResolve_Cdnjs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":     "jquery",
			"filename": "jquery.min.js",
			"version":  "3.7.1",
			"versions": []string{"3.6.0", "3.7.0", "3.7.1"},
		})
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Options{})
	client.CdnjsAPI = srv.URL
	r := New(client)

	got, err := r.Resolve(context.Background(), Cdnjs, "jquery", "")
	require.NoError(t, err)
	assert.Equal(t, "3.7.1", got.Version)
	assert.True(t, got.Immutable)

	got, err = r.Resolve(context.Background(), Cdnjs, "jquery", "~3.6")
	require.NoError(t, err)
	assert.Equal(t, "3.6.0", got.Version)
}

func TestResolve_WordPress(t *testing.T) {
	r := newTestResolver(t, "")

	got, err := r.Resolve(context.Background(), WordPress, "plugins/akismet", "tags/5.3")
	require.NoError(t, err)
	assert.True(t, got.Immutable)

	got, err = r.Resolve(context.Background(), WordPress, "plugins/akismet", "trunk")
	require.NoError(t, err)
	assert.False(t, got.Immutable)
}

func TestIsCompleteSemver(t *testing.T) {
	tests := []struct {
		in           string
		allowVPrefix bool
		want         bool
	}{
		{"1.2.3", false, true},
		{"v1.2.3", false, false},
		{"v1.2.3", true, true},
		{"1.2", false, false},
		{"18", false, false},
		{"1.2.3-beta.1", false, true},
		{"main", true, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCompleteSemver(tt.in, tt.allowVPrefix), tt.in)
	}
}

func TestMaxSatisfying_IgnoresGarbageVersions(t *testing.T) {
	got := MaxSatisfying([]string{"not-a-version", "1.1.0", "1.2.0"}, "^1.0")
	assert.Equal(t, "1.2.0", got)

	assert.Empty(t, MaxSatisfying([]string{"1.0.0"}, "[[["))
}
