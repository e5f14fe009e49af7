// Package docs serves the OpenAPI description of the gateway and two HTML
// viewers for it.
package docs

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/funish/nexus/pkg/httputil"
)

//go:embed openapi.json
var openapiSpec []byte

// Handlers provides the /_docs endpoints.
type Handlers struct{}

// NewHandlers creates the docs handlers.
func NewHandlers() *Handlers {
	return &Handlers{}
}

// RegisterRoutes registers the docs routes with the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/_docs/openapi.json", h.serveOpenAPISpec).Methods("GET")
	router.HandleFunc("/_docs/scalar", h.serveScalar).Methods("GET")
	router.HandleFunc("/_docs/swagger", h.serveSwaggerUI).Methods("GET")
}

func (h *Handlers) serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(openapiSpec)
}

func (h *Handlers) serveScalar(w http.ResponseWriter, r *http.Request) {
	h.render(w, scalarTemplate)
}

func (h *Handlers) serveSwaggerUI(w http.ResponseWriter, r *http.Request) {
	h.render(w, swaggerUITemplate)
}

func (h *Handlers) render(w http.ResponseWriter, page string) {
	tmpl := template.Must(template.New("docs").Parse(page))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, nil); err != nil {
		httputil.WriteInternalError(w, err)
	}
}

const scalarTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Nexus API Reference</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
<script id="api-reference" data-url="/_docs/openapi.json"></script>
<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`

const swaggerUITemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Nexus API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui.css" />
  <style>
    html {
      box-sizing: border-box;
      overflow: -moz-scrollbars-vertical;
      overflow-y: scroll;
    }
    *, *:before, *:after {
      box-sizing: inherit;
    }
    body {
      margin:0;
      padding:0;
    }
  </style>
</head>
<body>
<div id="swagger-ui"></div>

<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-bundle.js" charset="UTF-8"></script>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-standalone-preset.js" charset="UTF-8"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/_docs/openapi.json",
    dom_id: '#swagger-ui',
    deepLinking: true,
    presets: [
      SwaggerUIBundle.presets.apis,
      SwaggerUIStandalonePreset
    ],
    layout: "StandaloneLayout"
  });
};
</script>
</body>
</html>`
