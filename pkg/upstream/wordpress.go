package upstream

import (
	"context"
	"fmt"
	"io"

	"github.com/funish/nexus/pkg/nexuserr"
)

// WordPressPluginFile streams one file from the plugins SVN. The ref is
// either "tags/<version>" or "trunk" exactly as it appears in the request
// path; the SVN layout uses the same spelling.
func (c *Client) WordPressPluginFile(ctx context.Context, slug, ref, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.WPPluginsSVN, slug, ref, pathEscapeSegments(path))
	return c.readFile(ctx, url)
}

// WordPressThemeFile streams one file from the themes SVN, which keys by
// plain version directories.
func (c *Client) WordPressThemeFile(ctx context.Context, slug, version, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.WPThemesSVN, slug, version, pathEscapeSegments(path))
	return c.readFile(ctx, url)
}

func (c *Client) readFile(ctx context.Context, url string) ([]byte, error) {
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
