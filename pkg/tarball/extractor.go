// Package tarball stream-parses gzipped tar archives into package file
// entries, stripping the single upstream root directory.
package tarball

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
)

// Entry is one regular file from an extracted archive. Path is relative to
// the package root with no leading separator.
type Entry struct {
	Path string
	Data []byte
	Size int64
}

// Walk stream-parses a gzipped tar and invokes fn for each regular file in
// archive order. Returning a non-nil error from fn stops the walk; the
// sentinel io.EOF stops it without error (used by single-file pulls that can
// finish persistence elsewhere).
//
// Exactly one leading path segment is stripped: the upstream root directory
// ("package/" for npm, "<repo>-<ref>/" for GitHub codeload). The root is
// taken from the first entry whose name contains a separator and is not a
// pax_global_header. Entries outside the root, non-regular files, and
// symlinks are dropped.
func Walk(r io.Reader, fn func(Entry) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("not a gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	root := ""
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar parse: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if strings.HasPrefix(name, "pax_global_header") {
			continue
		}
		if root == "" && strings.Contains(name, "/") {
			root = name[:strings.Index(name, "/")+1]
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// Archives with no root directory at all serve their entries as-is.
		rel := name
		if root != "" {
			if !strings.HasPrefix(name, root) {
				continue
			}
			rel = strings.TrimPrefix(name, root)
		}
		if rel == "" {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("tar read %s: %w", rel, err)
		}

		if err := fn(Entry{Path: rel, Data: data, Size: hdr.Size}); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Extract collects every entry of the archive in order.
func Extract(r io.Reader) ([]Entry, error) {
	var entries []Entry
	err := Walk(r, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
