package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/funish/nexus/pkg/nexuserr"
)

// Packument is the npm registry document for a package. JSR packages arrive
// through the same shape via the npm-compat endpoint.
type Packument struct {
	Name     string                      `json:"name"`
	DistTags map[string]string           `json:"dist-tags"`
	Versions map[string]PackumentVersion `json:"versions"`
}

// PackumentVersion is the per-version metadata slice the gateway needs.
// Browser and Exports are schemaless upstream (string or object); they stay
// raw here and are narrowed by small local decoders.
type PackumentVersion struct {
	Version          string            `json:"version"`
	Main             string            `json:"main"`
	Module           string            `json:"module"`
	Browser          json.RawMessage   `json:"browser"`
	Exports          json.RawMessage   `json:"exports"`
	Dependencies     map[string]string `json:"dependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	Dist             struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// BrowserEntry narrows the schemaless browser field to an entry-file path.
// Object-form browser maps (replacement tables) yield "".
func (v PackumentVersion) BrowserEntry() string {
	if len(v.Browser) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Browser, &s); err != nil {
		return ""
	}
	return s
}

// ExportsEntry narrows the schemaless exports field: a plain string, or the
// "." entry, following nested "default" conditions.
func (v PackumentVersion) ExportsEntry() string {
	return exportsEntry(v.Exports)
}

func exportsEntry(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if dot, ok := obj["."]; ok {
		return exportsEntry(dot)
	}
	if def, ok := obj["default"]; ok {
		return exportsEntry(def)
	}
	return ""
}

// NPMPackument fetches the registry document for an npm package.
func (c *Client) NPMPackument(ctx context.Context, name string) (*Packument, error) {
	body, err := c.fetchCached(ctx, c.NPMRegistry+"/"+pathEscapeSegments(name), false)
	if err != nil {
		return nil, err
	}

	var doc Packument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: npm packument for %s: %v", nexuserr.ErrInvalidManifest, name, err)
	}
	return &doc, nil
}

// JSRPackument fetches the npm-compat registry document for a JSR package.
// The JSR scope/name pair maps to the @jsr/<scope>__<name> compat package.
func (c *Client) JSRPackument(ctx context.Context, name string) (*Packument, error) {
	compat := JSRCompatName(name)
	body, err := c.fetchCached(ctx, c.JSRRegistry+"/"+pathEscapeSegments(compat), false)
	if err != nil {
		return nil, err
	}

	var doc Packument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: jsr packument for %s: %v", nexuserr.ErrInvalidManifest, name, err)
	}
	return &doc, nil
}

// JSRCompatName maps "@scope/pkg" to the npm-compat package name
// "@jsr/scope__pkg".
func JSRCompatName(name string) string {
	trimmed := strings.TrimPrefix(name, "@")
	return "@jsr/" + strings.ReplaceAll(trimmed, "/", "__")
}

// PackageTarball streams the tarball for a resolved npm or JSR version using
// the dist.tarball URL from the packument.
func (c *Client) PackageTarball(ctx context.Context, doc *Packument, version string) (io.ReadCloser, error) {
	v, ok := doc.Versions[version]
	if !ok || v.Dist.Tarball == "" {
		return nil, fmt.Errorf("%w: %s@%s has no tarball", nexuserr.ErrVersionNotFound, doc.Name, version)
	}
	return c.openArchive(ctx, v.Dist.Tarball, false)
}
