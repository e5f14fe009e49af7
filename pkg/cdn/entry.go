package cdn

import (
	"context"
	"fmt"
	"strings"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/pkgcache"
	"github.com/funish/nexus/pkg/resolver"
)

// entryFile selects the file served for a bare package URL.
func (h *Handler) entryFile(ctx context.Context, key pkgcache.Key) (string, error) {
	switch key.Ecosystem {
	case resolver.Npm:
		doc, err := h.client.NPMPackument(ctx, key.Name)
		if err != nil {
			return "", err
		}
		return npmEntry(doc.Versions[key.Version].BrowserEntry(),
			doc.Versions[key.Version].Main,
			doc.Versions[key.Version].Module), nil
	case resolver.JSR:
		doc, err := h.client.JSRPackument(ctx, key.Name)
		if err != nil {
			return "", err
		}
		if e := doc.Versions[key.Version].ExportsEntry(); e != "" {
			return cleanEntry(e), nil
		}
		return "mod.ts", nil
	case resolver.GitHub:
		return h.gitHubEntry(ctx, key)
	case resolver.Cdnjs:
		doc, err := h.client.CdnjsLibrary(ctx, key.Name)
		if err != nil {
			return "", err
		}
		if doc.Filename == "" {
			return "", fmt.Errorf("%w: cdnjs %s has no default file", nexuserr.ErrFileNotFound, key.Name)
		}
		return cleanEntry(doc.Filename), nil
	default:
		return "", fmt.Errorf("%w: %s requires an explicit file path", nexuserr.ErrBadRequest, key.Ecosystem)
	}
}

// npmEntry applies the browser, main, module, index.js precedence.
func npmEntry(browser, main, module string) string {
	for _, candidate := range []string{browser, main, module} {
		if candidate != "" {
			return cleanEntry(candidate)
		}
	}
	return "index.js"
}

// gitHubEntry serves README.md when the repository has one, else index.js.
// Hydration is forced so the decision reads from the manifest.
func (h *Handler) gitHubEntry(ctx context.Context, key pkgcache.Key) (string, error) {
	manifest, err := h.cache.List(ctx, key)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{"README.md", "index.js"} {
		for _, f := range manifest.Files {
			if f.Name == candidate {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s has neither README.md nor index.js", nexuserr.ErrFileNotFound, key.Name)
}

func cleanEntry(e string) string {
	return strings.TrimPrefix(strings.TrimPrefix(e, "./"), "/")
}
