package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     []byte
	typeflag byte
	linkname string
}

func writeTar(t *testing.T, dir string, entries []tarEntry) string {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if len(e.body) > 0 {
			_, err := tw.Write(e.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	path := filepath.Join(dir, "fixture.tar")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeZip(t *testing.T, dir string, files map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	path := filepath.Join(dir, "fixture.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("data.zip"))
	assert.True(t, Supported("data.tar.gz"))
	assert.True(t, Supported("data.tgz"))
	assert.False(t, Supported("data.rar"))
	assert.False(t, Supported("data.jsonl"))
}

func TestSafeExtract_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string][]byte{
		"readme.txt":      []byte("hello"),
		"nested/data.csv": []byte("a,b\n1,2\n"),
	})
	dest := filepath.Join(dir, "out")
	require.NoError(t, SafeExtract(archive, dest, DefaultLimits()))

	body, err := os.ReadFile(filepath.Join(dest, "nested", "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(body))
}

func TestSafeExtract_Tar(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "sub/", typeflag: tar.TypeDir},
		{name: "sub/file.txt", body: []byte("content")},
	})
	dest := filepath.Join(dir, "out")
	require.NoError(t, SafeExtract(archive, dest, DefaultLimits()))

	body, err := os.ReadFile(filepath.Join(dest, "sub", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(body))
}

func TestSafeExtract_RefusesTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "ok.txt", body: []byte("x")},
		{name: "../escape.txt", body: []byte("evil")},
	})
	dest := filepath.Join(dir, "out")

	err := SafeExtract(archive, dest, DefaultLimits())
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "path_traversal", extraction.Kind)

	// Cleanup removed the members written before the hostile one.
	_, statErr := os.Stat(filepath.Join(dest, "ok.txt"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestSafeExtract_CleanupIncludesEmptyFiles removes zero-byte members on
// the failure path along with everything else.
func TestSafeExtract_CleanupIncludesEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "empty.marker"},
		{name: "ok.txt", body: []byte("x")},
		{name: "../escape.txt", body: []byte("evil")},
	})
	dest := filepath.Join(dir, "out")

	err := SafeExtract(archive, dest, DefaultLimits())
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)

	for _, name := range []string{"empty.marker", "ok.txt"} {
		_, statErr := os.Stat(filepath.Join(dest, name))
		assert.True(t, os.IsNotExist(statErr), name)
	}
}

func TestSafeExtract_RefusesSymlinksByDefault(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	})
	err := SafeExtract(archive, filepath.Join(dir, "out"), DefaultLimits())
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "symlink", extraction.Kind)
}

func TestSafeExtract_AllowedLinksMustStayContained(t *testing.T) {
	dir := t.TempDir()
	limits := DefaultLimits()
	limits.AllowLinks = true

	contained := writeTar(t, dir, []tarEntry{
		{name: "data.txt", body: []byte("x")},
		{name: "alias", typeflag: tar.TypeSymlink, linkname: "data.txt"},
	})
	require.NoError(t, SafeExtract(contained, filepath.Join(dir, "ok"), limits))

	escaping := writeTar(t, dir, []tarEntry{
		{name: "alias", typeflag: tar.TypeSymlink, linkname: "../../outside"},
	})
	err := SafeExtract(escaping, filepath.Join(dir, "bad"), limits)
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "symlink", extraction.Kind)
}

func TestSafeExtract_RefusesDeviceMembers(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "dev", typeflag: tar.TypeChar},
	})
	err := SafeExtract(archive, filepath.Join(dir, "out"), DefaultLimits())
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "device", extraction.Kind)
}

func TestSafeExtract_MemberCountCap(t *testing.T) {
	dir := t.TempDir()
	archive := writeTar(t, dir, []tarEntry{
		{name: "a.txt", body: []byte("1")},
		{name: "b.txt", body: []byte("2")},
		{name: "c.txt", body: []byte("3")},
	})
	limits := DefaultLimits()
	limits.MaxFiles = 2
	err := SafeExtract(archive, filepath.Join(dir, "out"), limits)
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "limit", extraction.Kind)
}

func TestSafeExtract_TotalByteCap(t *testing.T) {
	dir := t.TempDir()
	big := bytes.Repeat([]byte("x"), 4096)
	archive := writeTar(t, dir, []tarEntry{
		{name: "a.bin", body: big},
		{name: "b.bin", body: big},
	})
	limits := DefaultLimits()
	limits.MaxExtractedBytes = 6000
	err := SafeExtract(archive, filepath.Join(dir, "out"), limits)
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "limit", extraction.Kind)
}

func TestSafeExtract_ZipDeclaredSizeCaps(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir, map[string][]byte{
		"big.bin": bytes.Repeat([]byte("y"), 10_000),
	})
	limits := DefaultLimits()
	limits.MaxExtractedBytes = 1000
	err := SafeExtract(archive, filepath.Join(dir, "out"), limits)
	var extraction *ExtractionError
	require.ErrorAs(t, err, &extraction)
	assert.Equal(t, "limit", extraction.Kind)
}

func TestSafeExtract_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.rar")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))
	assert.Error(t, SafeExtract(path, filepath.Join(dir, "out"), DefaultLimits()))
}
