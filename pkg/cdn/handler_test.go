package cdn

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funish/nexus/pkg/esm"
	"github.com/funish/nexus/pkg/pkgcache"
	"github.com/funish/nexus/pkg/resolver"
	"github.com/funish/nexus/pkg/storage"
	"github.com/funish/nexus/pkg/upstream"
)

func makeTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "package/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// uikitFixture is a fake npm registry with one package at one version.
func uikitFixture(t *testing.T) http.Handler {
	t.Helper()
	files := map[string]string{
		"package.json":     `{"name":"uikit","main":"dist/js/uikit.js"}`,
		"dist/js/uikit.js": "export default 'uikit';",
		"dist/css/a.css":   "body{}",
	}

	var srv *httptest.Server
	reg := http.NewServeMux()
	reg.HandleFunc("/uikit", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":      "uikit",
			"dist-tags": map[string]string{"latest": "3.21.0"},
			"versions": map[string]interface{}{
				"3.21.0": map[string]interface{}{
					"version": "3.21.0",
					"main":    "dist/js/uikit.js",
					"dist":    map[string]string{"tarball": srv.URL + "/uikit.tgz"},
				},
			},
		})
	})
	reg.HandleFunc("/uikit.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(makeTarball(t, files))
	})
	srv = httptest.NewServer(reg)
	t.Cleanup(srv.Close)

	kv := storage.NewMemoryKV()
	client := upstream.NewClient(upstream.Options{CacheTTL: time.Minute})
	client.NPMRegistry = srv.URL
	cache := pkgcache.New(kv, client, nil)
	res := resolver.New(client)
	h := NewHandler(cache, kv, res, client, esm.New(cache))

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RequestURI = target
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServe_ExactFile(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0/dist/js/uikit.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "export default 'uikit';", rec.Body.String())
	assert.Equal(t, "text/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
}

func TestServe_AliasRequestGetsShortCache(t *testing.T) {
	h := uikitFixture(t)

	// "^3" resolves to 3.21.0 and is stored under the immutable key, but the
	// alias URL itself re-resolves and must not be edge-cached for a year.
	rec := get(t, h, "/cdn/npm/uikit@%5E3/dist/js/uikit.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "export default 'uikit';", rec.Body.String())
	assert.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))

	// Same for a bare name, which resolves through the latest tag.
	rec = get(t, h, "/cdn/npm/uikit/dist/js/uikit.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))

	// Same for a tag alias listing.
	rec = get(t, h, "/cdn/npm/uikit@latest/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))
}

func TestServe_EntryFile(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "export default 'uikit';", rec.Body.String(), "bare package URL serves the main entry")
}

func TestServe_TrailingSlashListsRoot(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0/")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "uikit", resp.Name)
	assert.Len(t, resp.Files, 3)

	// The path key is present even for the root listing.
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.Contains(t, keys, "path")
	assert.Equal(t, `""`, string(keys["path"]))
}

func TestServe_DirectoryFallsBackToListing(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0/dist/css")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "dist/css/a.css", resp.Files[0].Name)
	assert.Equal(t, "dist/css", resp.Path)
}

func TestServe_MissingFileIs404(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0/no/such/path.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_UnknownPackageIs404(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/definitely-not-here@1.0.0/index.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_ESMBundle(t *testing.T) {
	h := uikitFixture(t)

	rec := get(t, h, "/cdn/npm/uikit@3.21.0/+esm")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "uikit")
}
