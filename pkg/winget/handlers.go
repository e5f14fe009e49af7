package winget

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/funish/nexus/pkg/httputil"
)

const (
	pageSize           = 100
	maxSearchResults   = 1000
	versionsPerPackage = 10
)

// Fields every manifestSearch response carries.
var (
	requiredMatchFields    = []string{"PackageIdentifier"}
	unsupportedMatchFields = []string{"Market", "NormalizedPackageNameAndPublisher"}
)

// Handler exposes the WinGet REST surface over an Index.
type Handler struct {
	index *Index
}

// NewHandler creates the REST handler.
func NewHandler(index *Index) *Handler {
	return &Handler{index: index}
}

// RegisterRoutes attaches the WinGet routes under /registry/winget.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	sub := r.PathPrefix("/registry/winget").Subrouter()
	sub.HandleFunc("/packages", h.listPackages).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}", h.getPackage).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions", h.listVersions).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions/{version}", h.getVersion).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions/{version}/locales", h.listLocales).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions/{version}/locales/{locale}", h.getLocale).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions/{version}/installers", h.listInstallers).Methods(http.MethodGet)
	sub.HandleFunc("/packages/{id}/versions/{version}/installers/{installer}", h.getInstaller).Methods(http.MethodGet)
	sub.HandleFunc("/manifestSearch", h.manifestSearch).Methods(http.MethodGet, http.MethodPost)
}

type packageEntry struct {
	PackageIdentifier string `json:"PackageIdentifier"`
}

type packageListResponse struct {
	Data              []packageEntry `json:"Data"`
	ContinuationToken string         `json:"ContinuationToken,omitempty"`
}

func (h *Handler) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.index.Packages(r.Context())
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}

	ids := make([]string, 0, len(pkgs))
	for id := range pkgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	offset := decodeContinuation(r.URL.Query().Get("continuationToken"))
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	resp := packageListResponse{Data: make([]packageEntry, 0, end-offset)}
	for _, id := range ids[offset:end] {
		resp.Data = append(resp.Data, packageEntry{PackageIdentifier: id})
	}
	if end < len(ids) {
		resp.ContinuationToken = encodeContinuation(end)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func encodeContinuation(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// decodeContinuation maps an absent or garbage token to offset zero.
func decodeContinuation(token string) int {
	if token == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

func (h *Handler) getPackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	versions, err := h.index.Versions(r.Context(), id)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Data": map[string]interface{}{
			"PackageIdentifier": id,
			"Versions":          capVersions(versions, versionsPerPackage),
		},
	})
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	versions, err := h.index.Versions(r.Context(), id)
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": versions})
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := h.index.VersionManifest(r.Context(), vars["id"], vars["version"])
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": m})
}

func (h *Handler) listLocales(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	locales, err := h.index.Locales(r.Context(), vars["id"], vars["version"])
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": locales})
}

func (h *Handler) getLocale(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	locales, err := h.index.Locales(r.Context(), vars["id"], vars["version"])
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	for _, l := range locales {
		if strings.EqualFold(l.PackageLocale, vars["locale"]) {
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": l})
			return
		}
	}
	httputil.WriteNotFoundError(w, "locale "+vars["locale"])
}

func (h *Handler) listInstallers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	installers, err := h.index.Installers(r.Context(), vars["id"], vars["version"])
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": installers})
}

func (h *Handler) getInstaller(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	installers, err := h.index.Installers(r.Context(), vars["id"], vars["version"])
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}
	for _, inst := range installers {
		if inst.InstallerIdentifier == vars["installer"] || inst.InstallerSha256 == vars["installer"] {
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"Data": inst})
			return
		}
	}
	httputil.WriteNotFoundError(w, "installer "+vars["installer"])
}

type searchRequest struct {
	Query struct {
		KeyWord   string `json:"KeyWord"`
		MatchType string `json:"MatchType"`
	} `json:"Query"`
	MaximumResults    int  `json:"MaximumResults"`
	FetchAllManifests bool `json:"FetchAllManifests"`
}

type searchVersion struct {
	PackageVersion string `json:"PackageVersion"`
}

type searchMatch struct {
	PackageIdentifier string          `json:"PackageIdentifier"`
	PackageName       string          `json:"PackageName"`
	Publisher         string          `json:"Publisher"`
	Versions          []searchVersion `json:"Versions"`
}

type searchResponse struct {
	Data                          []searchMatch `json:"Data"`
	RequiredPackageMatchFields    []string      `json:"RequiredPackageMatchFields"`
	UnsupportedPackageMatchFields []string      `json:"UnsupportedPackageMatchFields"`
}

func (h *Handler) manifestSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	switch r.Method {
	case http.MethodPost:
		if err := httputil.ParseJSON(r, &req); err != nil {
			httputil.WriteBadRequest(w, "invalid search body")
			return
		}
	default:
		q := r.URL.Query()
		req.Query.KeyWord = q.Get("query")
		req.Query.MatchType = q.Get("matchType")
		req.MaximumResults, _ = strconv.Atoi(q.Get("maximumResults"))
		req.FetchAllManifests = q.Get("fetchAllManifests") == "true"
	}

	if req.Query.MatchType == "" {
		req.Query.MatchType = MatchCaseInsensitive
	}
	match, ok := Matcher(req.Query.MatchType)
	if !ok {
		httputil.WriteBadRequest(w, "unknown matchType "+req.Query.MatchType)
		return
	}

	limit := req.MaximumResults
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	pkgs, err := h.index.Packages(r.Context())
	if err != nil {
		httputil.WriteClassifiedError(w, err)
		return
	}

	ids := make([]string, 0, len(pkgs))
	for id := range pkgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resp := searchResponse{
		Data:                          []searchMatch{},
		RequiredPackageMatchFields:    requiredMatchFields,
		UnsupportedPackageMatchFields: unsupportedMatchFields,
	}
	for _, id := range ids {
		if !match(req.Query.KeyWord, id) {
			continue
		}
		versions := make([]searchVersion, 0, versionsPerPackage)
		for _, v := range capVersions(pkgs[id], versionsPerPackage) {
			versions = append(versions, searchVersion{PackageVersion: v})
		}
		name, publisher := splitIdentifier(id)
		resp.Data = append(resp.Data, searchMatch{
			PackageIdentifier: id,
			PackageName:       name,
			Publisher:         publisher,
			Versions:          versions,
		})
		if len(resp.Data) >= limit {
			break
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// splitIdentifier derives display name and publisher from the dot-joined
// identifier: the first segment is the publisher, the rest is the name.
func splitIdentifier(id string) (name, publisher string) {
	publisher, name, ok := strings.Cut(id, ".")
	if !ok {
		return id, id
	}
	return name, publisher
}
