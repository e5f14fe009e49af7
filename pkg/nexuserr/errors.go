// Package nexuserr defines the error taxonomy shared across the gateway.
//
// Every component classifies failures into one of these sentinels so the HTTP
// layer can map them to status codes in a single place.
package nexuserr

import (
	"errors"
	"net/http"
)

var (
	// ErrBadRequest indicates an unparseable path or missing required parameter.
	ErrBadRequest = errors.New("bad request")

	// ErrPackageNotFound indicates the upstream returned 404 for metadata or archive.
	ErrPackageNotFound = errors.New("package not found")

	// ErrVersionNotFound indicates the resolver produced no candidate version.
	ErrVersionNotFound = errors.New("version not found")

	// ErrFileNotFound indicates the package is hydrated but the named path is absent.
	ErrFileNotFound = errors.New("file not found")

	// ErrUpstreamUnavailable indicates a non-404 transport failure talking to an
	// upstream registry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStorageUnavailable indicates a storage back-end transport failure. Readers
	// treat it as a cache miss; warmup writers drop it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidManifest indicates malformed upstream YAML/JSON.
	ErrInvalidManifest = errors.New("invalid manifest")
)

// HTTPStatus maps a classified error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrPackageNotFound),
		errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
