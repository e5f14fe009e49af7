package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/funish/nexus/pkg/nexuserr"
)

// CdnjsLibrary is the cdnjs library API document slice the gateway needs.
type CdnjsLibrary struct {
	Name     string   `json:"name"`
	Filename string   `json:"filename"` // default entry file
	Version  string   `json:"version"`  // latest
	Versions []string `json:"versions"`
}

// CdnjsLibrary fetches the library descriptor for a cdnjs library.
func (c *Client) CdnjsLibrary(ctx context.Context, lib string) (*CdnjsLibrary, error) {
	url := fmt.Sprintf("%s/libraries/%s?fields=name,filename,version,versions", c.CdnjsAPI, lib)
	body, err := c.fetchCached(ctx, url, false)
	if err != nil {
		return nil, err
	}

	var doc CdnjsLibrary
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: cdnjs library %s: %v", nexuserr.ErrInvalidManifest, lib, err)
	}
	// The cdnjs API answers 200 with a null document for unknown libraries.
	if doc.Name == "" && len(doc.Versions) == 0 {
		return nil, fmt.Errorf("%w: cdnjs library %s", nexuserr.ErrPackageNotFound, lib)
	}
	return &doc, nil
}

// CdnjsVersionFiles lists the files published for one cdnjs library version.
func (c *Client) CdnjsVersionFiles(ctx context.Context, lib, version string) ([]string, error) {
	url := fmt.Sprintf("%s/libraries/%s/%s", c.CdnjsAPI, lib, version)
	body, err := c.fetchCached(ctx, url, false)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: cdnjs version %s@%s: %v", nexuserr.ErrInvalidManifest, lib, version, err)
	}
	return doc.Files, nil
}

// CdnjsFile streams one file of a cdnjs library version.
func (c *Client) CdnjsFile(ctx context.Context, lib, version, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.CdnjsFiles, lib, version, pathEscapeSegments(path))
	body, err := c.openFile(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nexuserr.ErrUpstreamUnavailable, err)
	}
	return data, nil
}
