package cdn

import (
	"mime"
	"path"
	"strings"
)

// Extensions whose stdlib MIME lookup is missing or browser-unfriendly.
var extraTypes = map[string]string{
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".cjs":  "text/javascript",
	".jsx":  "text/javascript",
	".ts":   "text/typescript",
	".tsx":  "text/typescript",
	".map":  "application/json",
	".md":   "text/markdown",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".toml": "text/toml",
	".vue":  "text/html",
	".wasm": "application/wasm",
	".tgz":  "application/gzip",
}

// MIME types that get an explicit utf-8 charset beyond text/*.
var charsetTypes = map[string]bool{
	"application/json":                  true,
	"application/javascript":            true,
	"application/xml":                   true,
	"application/xhtml+xml":             true,
	"application/x-www-form-urlencoded": true,
}

// ContentType maps a file path to the response Content-Type, appending
// "; charset=utf-8" for textual types.
func ContentType(p string) string {
	ext := strings.ToLower(path.Ext(p))

	ct, ok := extraTypes[ext]
	if !ok {
		ct = mime.TypeByExtension(ext)
	}
	if ct == "" {
		return "application/octet-stream"
	}

	// Stdlib lookups may already carry a charset parameter.
	base, _, _ := strings.Cut(ct, ";")
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "text/") || charsetTypes[base] {
		return base + "; charset=utf-8"
	}
	return base
}
