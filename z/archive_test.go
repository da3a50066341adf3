package z

import (
	"archive/zip"
	"bytes"
	"io"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFixture writes an in-memory zip archive using the standard library's writer (so the bytes this package
// reads back were produced by an independent implementation) and returns the raw bytes. Entries are written in
// sorted name order, so the central directory lists them in that order.
func buildFixture(t *testing.T, entries map[string]string, methods map[string]uint16) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		content := entries[name]
		method := zip.Deflate
		if m, ok := methods[name]; ok {
			method = m
		}

		fh := &zip.FileHeader{
			Name:     name,
			Method:   method,
			Modified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}

		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)

		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestOpen_ListsEntriesInOrder(t *testing.T) {
	data := buildFixture(t, map[string]string{
		"a.txt":        "hello world",
		"dir/b.txt":    "second file, deflated",
		"dir/c.bin":    "stored content here",
	}, map[string]uint16{"dir/c.bin": zip.Store})

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 3, ar.Len())
	assert.False(t, ar.IsEmpty())
	assert.Equal(t, []string{"a.txt", "dir/b.txt", "dir/c.bin"}, ar.FileNames())
}

func TestArchive_OpenByName_RoundTrips(t *testing.T) {
	data := buildFixture(t, map[string]string{
		"a.txt":     "hello world, this is a deflated entry with enough text to compress",
		"stored.bin": "raw bytes",
	}, map[string]uint16{"stored.bin": zip.Store})

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	er, err := ar.OpenByName("a.txt")
	require.NoError(t, err)

	got, err := io.ReadAll(er)
	require.NoError(t, err)
	assert.Equal(t, "hello world, this is a deflated entry with enough text to compress", string(got))
	require.NoError(t, er.Close())

	er2, err := ar.OpenByName("stored.bin")
	require.NoError(t, err)
	got2, err := io.ReadAll(er2)
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(got2))
	require.NoError(t, er2.Close())
}

func TestArchive_OpenByName_NotFound(t *testing.T) {
	data := buildFixture(t, map[string]string{"a.txt": "x"}, nil)

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = ar.OpenByName("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestArchive_EntriesStream_SequentialOwnership(t *testing.T) {
	data := buildFixture(t, map[string]string{
		"1.txt": "one",
		"2.txt": "two",
		"3.txt": "three",
	}, map[string]uint16{"1.txt": zip.Store, "2.txt": zip.Store, "3.txt": zip.Store})

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	var names []string
	for er, err := range ar.EntriesStream() {
		require.NoError(t, err)
		names = append(names, er.Metadata().Name)
		b, err := io.ReadAll(er)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
		require.NoError(t, er.Close())
	}

	assert.Equal(t, []string{"1.txt", "2.txt", "3.txt"}, names)
}

func TestArchive_SourceInUseWhileEntryOpen(t *testing.T) {
	data := buildFixture(t, map[string]string{"a.txt": "x", "b.txt": "y"}, map[string]uint16{"a.txt": zip.Store, "b.txt": zip.Store})

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	er, err := ar.OpenByName("a.txt")
	require.NoError(t, err)

	_, err = ar.OpenByName("b.txt")
	assert.ErrorIs(t, err, ErrSourceInUse)

	require.NoError(t, er.Close())

	er2, err := ar.OpenByName("b.txt")
	require.NoError(t, err)
	require.NoError(t, er2.Close())
}

func TestArchive_IntoInner_SucceedsOnceAllReadersClosed(t *testing.T) {
	data := buildFixture(t, map[string]string{"a.txt": "x"}, map[string]uint16{"a.txt": zip.Store})

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	er, err := ar.OpenByName("a.txt")
	require.NoError(t, err)

	_, err = ar.IntoInner()
	assert.ErrorIs(t, err, ErrSourceInUse)

	require.NoError(t, er.Close())

	src, err := ar.IntoInner()
	require.NoError(t, err)
	assert.NotNil(t, src)
}

func TestArchive_OpenByIndex_FlippedLocalHeaderSignature(t *testing.T) {
	data := buildFixture(t, map[string]string{"a.txt": "hello\n"}, map[string]uint16{"a.txt": zip.Store})

	sig := []byte{0x50, 0x4b, 0x03, 0x04}
	idx := bytes.Index(data, sig)
	require.GreaterOrEqual(t, idx, 0)
	corrupted := append([]byte(nil), data...)
	corrupted[idx] = 0x00

	ar, err := Open(bytes.NewReader(corrupted))
	require.NoError(t, err)

	_, err = ar.OpenByIndex(0)
	var archErr *ArchiveError
	require.ErrorAs(t, err, &archErr)
	assert.Equal(t, KindInvalid, archErr.Kind)
	assert.Contains(t, err.Error(), "Invalid local file header")
}

func TestArchive_CRCMismatchDetected(t *testing.T) {
	data := buildFixture(t, map[string]string{"a.txt": "original content"}, map[string]uint16{"a.txt": zip.Store})

	// Corrupt the stored payload in place without touching the central directory's recorded CRC-32, so the
	// reader's own checksum computation disagrees with what was recorded.
	idx := bytes.Index(data, []byte("original content"))
	require.GreaterOrEqual(t, idx, 0)
	corrupted := append([]byte(nil), data...)
	corrupted[idx] = 'X'

	ar, err := Open(bytes.NewReader(corrupted))
	require.NoError(t, err)

	er, err := ar.OpenByName("a.txt")
	require.NoError(t, err)

	_, err = io.ReadAll(er)
	var archErr *ArchiveError
	assert.ErrorAs(t, err, &archErr)
	assert.Equal(t, KindInvalid, archErr.Kind)
}
