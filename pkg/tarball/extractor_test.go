package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarFile struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func buildArchive(t *testing.T, files []tarFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		typeflag := f.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		var hdr *tar.Header
		if typeflag == tar.TypeXGlobalHeader {
			// archive/tar rejects anything but PAXRecords on a global header.
			hdr = &tar.Header{
				Name:       f.name,
				Typeflag:   typeflag,
				PAXRecords: map[string]string{"comment": "abc1234def"},
			}
		} else {
			hdr = &tar.Header{
				Name:     f.name,
				Mode:     0644,
				Size:     int64(len(f.body)),
				Typeflag: typeflag,
				Linkname: f.linkname,
			}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(f.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtract_StripsRootDirectory(t *testing.T) {
	archive := buildArchive(t, []tarFile{
		{name: "package/", typeflag: tar.TypeDir},
		{name: "package/package.json", body: `{"name":"uikit"}`},
		{name: "package/dist/js/uikit.js", body: "js"},
	})

	entries, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "package.json", entries[0].Path)
	assert.Equal(t, "dist/js/uikit.js", entries[1].Path)
	assert.Equal(t, []byte("js"), entries[1].Data)
}

func TestExtract_PaxGlobalHeaderSkipped(t *testing.T) {
	// GitHub codeload archives start with a pax_global_header entry; the root
	// must come from the first real entry.
	archive := buildArchive(t, []tarFile{
		{name: "pax_global_header", typeflag: tar.TypeXGlobalHeader},
		{name: "core-abc1234/package.json", body: "{}"},
		{name: "core-abc1234/src/index.ts", body: "export {}"},
	})

	entries, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "package.json", entries[0].Path)
	assert.Equal(t, "src/index.ts", entries[1].Path)
}

func TestExtract_SymlinksDropped(t *testing.T) {
	archive := buildArchive(t, []tarFile{
		{name: "package/real.js", body: "x"},
		{name: "package/link.js", typeflag: tar.TypeSymlink, linkname: "real.js"},
	})

	entries, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "real.js", entries[0].Path)
}

func TestExtract_NoRootDirectory(t *testing.T) {
	// A flat archive with no synthesized root must not crash; entries are
	// served as-is.
	archive := buildArchive(t, []tarFile{
		{name: "index.js", body: "x"},
	})

	entries, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.js", entries[0].Path)
}

func TestExtract_Idempotent(t *testing.T) {
	archive := buildArchive(t, []tarFile{
		{name: "package/a.js", body: "a"},
		{name: "package/b/c.js", body: "c"},
	})

	first, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	second, err := Extract(bytes.NewReader(archive))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWalk_EOFStopsEarly(t *testing.T) {
	archive := buildArchive(t, []tarFile{
		{name: "package/a.js", body: "a"},
		{name: "package/b.js", body: "b"},
	})

	var seen []string
	err := Walk(bytes.NewReader(archive), func(e Entry) error {
		seen = append(seen, e.Path)
		return io.EOF
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js"}, seen)
}

func TestWalk_NotGzip(t *testing.T) {
	err := Walk(bytes.NewReader([]byte("plain text")), func(Entry) error { return nil })
	assert.Error(t, err)
}
