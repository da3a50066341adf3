package z

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCDEntry hand-builds one central-directory file header (46-byte fixed prefix plus name, no extra field, no
// comment) for name, so tests can assemble a synthetic central directory without going through a zip.Writer.
func buildCDEntry(name string) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, sigCentralHeader)
	binary.Write(&b, binary.LittleEndian, uint16(0)) // creator version
	binary.Write(&b, binary.LittleEndian, uint16(0)) // reader version
	binary.Write(&b, binary.LittleEndian, uint16(0)) // flags
	binary.Write(&b, binary.LittleEndian, uint16(0)) // method (Store)
	binary.Write(&b, binary.LittleEndian, uint16(0)) // modified time
	binary.Write(&b, binary.LittleEndian, uint16(0)) // modified date
	binary.Write(&b, binary.LittleEndian, uint32(0)) // crc32
	binary.Write(&b, binary.LittleEndian, uint32(0)) // compressed size
	binary.Write(&b, binary.LittleEndian, uint32(0)) // uncompressed size
	binary.Write(&b, binary.LittleEndian, uint16(len(name)))
	binary.Write(&b, binary.LittleEndian, uint16(0)) // extra field length
	binary.Write(&b, binary.LittleEndian, uint16(0)) // comment length
	binary.Write(&b, binary.LittleEndian, uint16(0)) // disk number
	binary.Write(&b, binary.LittleEndian, uint16(0)) // internal attrs
	binary.Write(&b, binary.LittleEndian, uint32(0)) // external attrs
	binary.Write(&b, binary.LittleEndian, uint32(0)) // local header offset
	b.WriteString(name)
	return b.Bytes()
}

func TestReadDirectory_RejectsDuplicateNames(t *testing.T) {
	data := append(buildCDEntry("dup.txt"), buildCDEntry("dup.txt")...)

	_, err := readDirectory(context.Background(), bytes.NewReader(data), directoryCounts{NumberOfFiles: 2}, "")

	var archErr *ArchiveError
	require.ErrorAs(t, err, &archErr)
	assert.Equal(t, KindInvalid, archErr.Kind)
}

func TestParseExtraField_PromotesZip64SentinelFields(t *testing.T) {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint64(5_000_000_000)) // real uncompressed size
	binary.Write(&body, binary.LittleEndian, uint64(4_000_000_000)) // real compressed size

	var extra bytes.Buffer
	binary.Write(&extra, binary.LittleEndian, extraZip64)
	binary.Write(&extra, binary.LittleEndian, uint16(body.Len()))
	extra.Write(body.Bytes())

	m := &EntryMetadata{}
	headerStart, largeFile, compSize, uncompSize, err := parseExtraField(
		extra.Bytes(), zip64SizeSentinel, zip64SizeSentinel, 123, m)

	require.NoError(t, err)
	assert.True(t, largeFile)
	assert.Equal(t, uint64(5_000_000_000), uncompSize)
	assert.Equal(t, uint64(4_000_000_000), compSize)
	assert.Equal(t, uint64(123), headerStart) // not a sentinel, left untouched
}

// buildDivergentExtraLengthArchive hand-assembles a single-entry, single-disk archive whose local-header extra
// field and central-header extra field have different lengths for the same unrecognized (non-ZIP64, non-AES)
// extra-field kind, so data-start resolution must rely solely on the local copy.
func buildDivergentExtraLengthArchive(t *testing.T, name, payload string) []byte {
	t.Helper()

	crc := crc32.ChecksumIEEE([]byte(payload))

	var local bytes.Buffer
	binary.Write(&local, binary.LittleEndian, sigLocalHeader)
	binary.Write(&local, binary.LittleEndian, uint16(20)) // version needed
	binary.Write(&local, binary.LittleEndian, uint16(0))  // flags
	binary.Write(&local, binary.LittleEndian, uint16(0))  // method: Store
	binary.Write(&local, binary.LittleEndian, uint16(0))  // mod time
	binary.Write(&local, binary.LittleEndian, uint16(0))  // mod date
	binary.Write(&local, binary.LittleEndian, crc)
	binary.Write(&local, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&local, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&local, binary.LittleEndian, uint16(len(name)))
	binary.Write(&local, binary.LittleEndian, uint16(4)) // local extra field length
	local.WriteString(name)
	binary.Write(&local, binary.LittleEndian, uint16(0x5555)) // unrecognized kind
	binary.Write(&local, binary.LittleEndian, uint16(0))      // body length 0: 4 bytes total
	local.WriteString(payload)

	var central bytes.Buffer
	binary.Write(&central, binary.LittleEndian, sigCentralHeader)
	binary.Write(&central, binary.LittleEndian, uint16(0))  // creator version
	binary.Write(&central, binary.LittleEndian, uint16(20)) // reader version
	binary.Write(&central, binary.LittleEndian, uint16(0))  // flags
	binary.Write(&central, binary.LittleEndian, uint16(0))  // method: Store
	binary.Write(&central, binary.LittleEndian, uint16(0))  // mod time
	binary.Write(&central, binary.LittleEndian, uint16(0))  // mod date
	binary.Write(&central, binary.LittleEndian, crc)
	binary.Write(&central, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&central, binary.LittleEndian, uint32(len(payload)))
	binary.Write(&central, binary.LittleEndian, uint16(len(name)))
	binary.Write(&central, binary.LittleEndian, uint16(8)) // central extra field length: diverges from local's 4
	binary.Write(&central, binary.LittleEndian, uint16(0)) // comment length
	binary.Write(&central, binary.LittleEndian, uint16(0)) // disk number
	binary.Write(&central, binary.LittleEndian, uint16(0)) // internal attrs
	binary.Write(&central, binary.LittleEndian, uint32(0)) // external attrs
	binary.Write(&central, binary.LittleEndian, uint32(0)) // local header offset
	central.WriteString(name)
	binary.Write(&central, binary.LittleEndian, uint16(0x5555)) // same unrecognized kind
	binary.Write(&central, binary.LittleEndian, uint16(4))      // body length 4: 8 bytes total
	central.Write(make([]byte, 4))

	var eocd bytes.Buffer
	binary.Write(&eocd, binary.LittleEndian, sigEOCD)
	binary.Write(&eocd, binary.LittleEndian, uint16(0))
	binary.Write(&eocd, binary.LittleEndian, uint16(0))
	binary.Write(&eocd, binary.LittleEndian, uint16(1))
	binary.Write(&eocd, binary.LittleEndian, uint16(1))
	binary.Write(&eocd, binary.LittleEndian, uint32(central.Len()))
	binary.Write(&eocd, binary.LittleEndian, uint32(local.Len()))
	binary.Write(&eocd, binary.LittleEndian, uint16(0))

	out := append([]byte(nil), local.Bytes()...)
	out = append(out, central.Bytes()...)
	out = append(out, eocd.Bytes()...)
	return out
}

func TestOpen_ToleratesDivergentLocalAndCentralExtraFieldLength(t *testing.T) {
	data := buildDivergentExtraLengthArchive(t, "a.txt", "hello")

	ar, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, ar.Len())

	er, err := ar.OpenByIndex(0)
	require.NoError(t, err)
	defer er.Close()

	got, err := io.ReadAll(er)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestParseExtraField_RejectsMalformedAESLength(t *testing.T) {
	var extra bytes.Buffer
	binary.Write(&extra, binary.LittleEndian, extraAES)
	binary.Write(&extra, binary.LittleEndian, uint16(3)) // must be 7
	extra.Write([]byte{1, 2, 3})

	m := &EntryMetadata{}
	_, _, _, _, err := parseExtraField(extra.Bytes(), 0, 0, 0, m)

	var archErr *ArchiveError
	require.ErrorAs(t, err, &archErr)
	assert.Equal(t, KindUnsupported, archErr.Kind)
}
