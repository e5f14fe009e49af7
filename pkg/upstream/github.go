package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/funish/nexus/pkg/nexuserr"
)

// GitHubVersions lists the published tags of a GitHub repository through the
// jsDelivr data API, which pre-filters to version-shaped tags.
func (c *Client) GitHubVersions(ctx context.Context, owner, repo string) ([]string, error) {
	url := fmt.Sprintf("%s/packages/gh/%s/%s", c.JSDelivrAPI, owner, repo)
	body, err := c.fetchCached(ctx, url, false)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Versions []struct {
			Version string `json:"version"`
		} `json:"versions"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: jsdelivr package data for %s/%s: %v", nexuserr.ErrInvalidManifest, owner, repo, err)
	}

	versions := make([]string, 0, len(doc.Versions))
	for _, v := range doc.Versions {
		versions = append(versions, v.Version)
	}
	return versions, nil
}

// GitHubTarball streams the codeload archive of a repository at a ref (tag,
// branch, or commit SHA).
func (c *Client) GitHubTarball(ctx context.Context, owner, repo, ref string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/%s/%s/tar.gz/%s", c.Codeload, owner, repo, ref)
	return c.openArchive(ctx, url, false)
}

// TreeEntry is one node of a Git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
}

// Tree is a Git tree listing; Truncated reports upstream pagination limits.
type Tree struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// GitBranchTreeSHA resolves a branch name to its root tree SHA.
func (c *Client) GitBranchTreeSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/branches/%s", c.GitHubAPI, owner, repo, branch)
	body, err := c.fetchCached(ctx, url, true)
	if err != nil {
		return "", err
	}

	var doc struct {
		Commit struct {
			Commit struct {
				Tree struct {
					SHA string `json:"sha"`
				} `json:"tree"`
			} `json:"commit"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: branch data for %s/%s@%s: %v", nexuserr.ErrInvalidManifest, owner, repo, branch, err)
	}
	if doc.Commit.Commit.Tree.SHA == "" {
		return "", fmt.Errorf("%w: branch %s of %s/%s has no tree", nexuserr.ErrInvalidManifest, branch, owner, repo)
	}
	return doc.Commit.Commit.Tree.SHA, nil
}

// GitTree lists a tree by SHA, optionally with recursive expansion.
func (c *Client) GitTree(ctx context.Context, owner, repo, sha string, recursive bool) (*Tree, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s", c.GitHubAPI, owner, repo, sha)
	if recursive {
		url += "?recursive=1"
	}
	body, err := c.fetchCached(ctx, url, true)
	if err != nil {
		return nil, err
	}

	var tree Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("%w: git tree %s: %v", nexuserr.ErrInvalidManifest, sha, err)
	}
	return &tree, nil
}

// RawFile streams a file from raw.githubusercontent.com at a branch path.
func (c *Client) RawFile(ctx context.Context, owner, repo, branch, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", c.RawContent, owner, repo, branch, pathEscapeSegments(path))
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
