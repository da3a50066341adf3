package z

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

const (
	sigEOCD          uint32 = 0x06054b50
	sigZip64Locator  uint32 = 0x07064b50
	sigZip64EOCD     uint32 = 0x06064b50
	sigLocalHeader   uint32 = 0x04034b50
	sigCentralHeader uint32 = 0x02014b50

	// zip64SizeSentinel is the 32-bit value that means "see the ZIP64 extra field instead".
	zip64SizeSentinel = 0xffffffff

	// defaultMaxTrailerBytes bounds the backwards EOCD search, matching the ~64KiB comment ceiling plus the
	// fixed EOCD size the format allows.
	defaultMaxTrailerBytes int64 = 64*1024 + 22

	// zip64MinRecordSize is the floor, in bytes, subtracted from the EOCD position to bound the forward ZIP64
	// EOCD search.
	zip64MinRecordSize = 60
)

// eocdRecord is the parsed end-of-central-directory record.
type eocdRecord struct {
	DiskNumber                 uint16
	DiskWithCentralDirectory   uint16
	NumberOfFilesOnThisDisk    uint16
	NumberOfFiles              uint16
	CentralDirectorySize       uint32
	CentralDirectoryOffset     uint32
	CommentLength              uint16
}

// recordTooSmall reports whether every ZIP64-relevant field of this EOCD is the sentinel value, which is the
// degenerate marker used when the real values live in the ZIP64 footer instead.
func (r eocdRecord) recordTooSmall() bool {
	return r.NumberOfFilesOnThisDisk == 0xffff && r.NumberOfFiles == 0xffff &&
		r.CentralDirectorySize == 0xffffffff && r.CentralDirectoryOffset == 0xffffffff
}

// findEOCD scans src backwards for the EOCD signature, returning the parsed record and the absolute offset at
// which the signature was found.
//
// The buffer-recombination technique (read a chunk, prepend it to whatever was already buffered, search, and widen
// the window only as needed) is the same one the central-directory scanners in this codebase's earlier generations
// used for the identical backwards-trailer-search problem.
func findEOCD(ctx context.Context, src io.ReadSeeker, maxBytes int64) (eocdRecord, int64, error) {
	var r eocdRecord

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return r, 0, fmt.Errorf("seek to end error: %w", err)
	}

	if maxBytes <= 0 {
		maxBytes = size
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	const chunk = 4096
	buf := make([]byte, chunk)

	var (
		offset = size
		scanned int64
	)

	for {
		select {
		case <-ctx.Done():
			return r, 0, ctx.Err()
		default:
		}

		readLen := int64(chunk)
		if offset < readLen {
			readLen = offset
		}
		offset -= readLen

		if _, err = src.Seek(offset, io.SeekStart); err != nil {
			return r, 0, fmt.Errorf("seek backward error: %w", err)
		}

		n, err := io.ReadFull(src, buf[:readLen])
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return r, 0, fmt.Errorf("read trailer error: %w", err)
		}

		combined := make([]byte, n+bb.Len())
		copy(combined, buf[:n])
		copy(combined[n:], bb.B)
		bb.B = combined
		scanned += int64(n)

		for end := len(bb.B); ; {
			i := bytes.LastIndex(bb.B[:end], sigBytes(sigEOCD))
			if i == -1 {
				break
			}
			if len(bb.B)-i >= 22 {
				rec, commentLen, perr := parseEOCD(bb.B[i:])
				if perr == nil && int64(i)+22+int64(commentLen) <= int64(len(bb.B)) {
					return rec, offset + int64(i), nil
				}
			}
			end = i
		}

		if offset == 0 || scanned >= maxBytes {
			return r, 0, ErrNoEOCDFound
		}
	}
}

func parseEOCD(b []byte) (eocdRecord, uint16, error) {
	if len(b) < 22 {
		return eocdRecord{}, 0, fmt.Errorf("short EOCD")
	}

	r := eocdRecord{
		DiskNumber:               binary.LittleEndian.Uint16(b[4:6]),
		DiskWithCentralDirectory: binary.LittleEndian.Uint16(b[6:8]),
		NumberOfFilesOnThisDisk:  binary.LittleEndian.Uint16(b[8:10]),
		NumberOfFiles:            binary.LittleEndian.Uint16(b[10:12]),
		CentralDirectorySize:     binary.LittleEndian.Uint32(b[12:16]),
		CentralDirectoryOffset:   binary.LittleEndian.Uint32(b[16:20]),
		CommentLength:            binary.LittleEndian.Uint16(b[20:22]),
	}
	return r, r.CommentLength, nil
}

// zip64Locator is the fixed-size ZIP64 end-of-central-directory locator.
type zip64Locator struct {
	DiskWithZip64EOCD uint32
	Zip64EOCDOffset   uint64
	TotalDisks        uint32
}

// tryZip64Locator attempts to parse a ZIP64 locator at end_of_file - (20 + 22 + commentLen). A missing signature
// is not fatal: it means the archive has no ZIP64 footer.
func tryZip64Locator(src io.ReadSeeker, commentLen uint16) (*zip64Locator, error) {
	pos, err := src.Seek(-(20 + 22 + int64(commentLen)), io.SeekEnd)
	if err != nil {
		// Too small a file to even contain a locator at this position; treat as "no ZIP64".
		return nil, nil
	}

	buf := make([]byte, 20)
	if _, err = io.ReadFull(src, buf); err != nil {
		return nil, nil
	}
	_ = pos

	if binary.LittleEndian.Uint32(buf[0:4]) != sigZip64Locator {
		return nil, nil
	}

	return &zip64Locator{
		DiskWithZip64EOCD: binary.LittleEndian.Uint32(buf[4:8]),
		Zip64EOCDOffset:   binary.LittleEndian.Uint64(buf[8:16]),
		TotalDisks:        binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// zip64EOCD is the fixed-size portion of the ZIP64 end-of-central-directory record.
type zip64EOCD struct {
	DiskNumber               uint32
	DiskWithCentralDirectory uint32
	RecordsOnThisDisk        uint64
	TotalRecords             uint64
	CentralDirectorySize     uint64
	CentralDirectoryOffset   uint64
}

// findZip64EOCD searches forward from the locator's recorded offset, up to upperBound, for the ZIP64 EOCD
// signature. The recorded offset can be off by the same base-offset shift affecting every other recorded
// position, since junk bytes may have been prepended to the archive; searching forward recovers the true
// location and, by comparing it to the recorded one, the shift itself.
func findZip64EOCD(src io.ReadSeeker, recordedOffset, upperBound int64) (zip64EOCD, int64, error) {
	if upperBound < recordedOffset {
		return zip64EOCD{}, 0, InvalidArchive("file cannot contain ZIP64 central directory end")
	}

	if _, err := src.Seek(recordedOffset, io.SeekStart); err != nil {
		return zip64EOCD{}, 0, fmt.Errorf("seek to ZIP64 EOCD hint error: %w", err)
	}

	window := upperBound - recordedOffset + 56
	buf := make([]byte, window)
	n, err := io.ReadFull(src, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return zip64EOCD{}, 0, fmt.Errorf("read ZIP64 EOCD search window error: %w", err)
	}
	buf = buf[:n]

	i := bytes.Index(buf, sigBytes(sigZip64EOCD))
	if i == -1 || len(buf)-i < 56 {
		return zip64EOCD{}, 0, InvalidArchive("ZIP64 end of central directory record not found")
	}

	b := buf[i:]
	r := zip64EOCD{
		DiskNumber:               binary.LittleEndian.Uint32(b[16:20]),
		DiskWithCentralDirectory: binary.LittleEndian.Uint32(b[20:24]),
		RecordsOnThisDisk:        binary.LittleEndian.Uint64(b[24:32]),
		TotalRecords:             binary.LittleEndian.Uint64(b[32:40]),
		CentralDirectorySize:     binary.LittleEndian.Uint64(b[40:48]),
		CentralDirectoryOffset:   binary.LittleEndian.Uint64(b[48:56]),
	}

	return r, recordedOffset + int64(i), nil
}

func sigBytes(sig uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, sig)
	return b
}

// directoryCounts is the resolved (archiveOffset, directoryStart, numberOfFiles) triple, computed either from a
// plain EOCD or, when present, from the ZIP64 footer it points to.
type directoryCounts struct {
	ArchiveOffset  uint64
	DirectoryStart uint64
	NumberOfFiles  int
}

// resolveDirectory implements §4.4 Phase 2: locate (or rule out) the ZIP64 footer and compute the archive's
// base-offset shift plus the real start and count of central-directory records.
func resolveDirectory(src io.ReadSeeker, footer eocdRecord, cdeStartPos int64) (directoryCounts, error) {
	if !footer.recordTooSmall() && footer.DiskNumber != footer.DiskWithCentralDirectory {
		return directoryCounts{}, UnsupportedArchive("support for multi-disk files is not implemented")
	}

	locator, err := tryZip64Locator(src, footer.CommentLength)
	if err != nil {
		return directoryCounts{}, err
	}

	if locator == nil {
		shift, err := checkedSub(uint64(cdeStartPos), uint64(footer.CentralDirectorySize), uint64(footer.CentralDirectoryOffset))
		if err != nil {
			return directoryCounts{}, InvalidArchive("invalid central directory size or offset")
		}

		return directoryCounts{
			ArchiveOffset:  shift,
			DirectoryStart: uint64(footer.CentralDirectoryOffset) + shift,
			NumberOfFiles:  int(footer.NumberOfFilesOnThisDisk),
		}, nil
	}

	if !footer.recordTooSmall() && uint32(footer.DiskNumber) != locator.DiskWithZip64EOCD {
		return directoryCounts{}, UnsupportedArchive("support for multi-disk files is not implemented")
	}

	searchUpperBound := cdeStartPos - zip64MinRecordSize
	if searchUpperBound < 0 {
		return directoryCounts{}, InvalidArchive("file cannot contain ZIP64 central directory end")
	}

	zEOCD, foundOffset, err := findZip64EOCD(src, int64(locator.Zip64EOCDOffset), searchUpperBound)
	if err != nil {
		return directoryCounts{}, err
	}

	if zEOCD.DiskNumber != zEOCD.DiskWithCentralDirectory {
		return directoryCounts{}, UnsupportedArchive("support for multi-disk files is not implemented")
	}

	archiveOffset := uint64(foundOffset) - locator.Zip64EOCDOffset

	directoryStart, ok := addUint64(zEOCD.CentralDirectoryOffset, archiveOffset)
	if !ok {
		return directoryCounts{}, InvalidArchive("invalid central directory size or offset")
	}

	return directoryCounts{
		ArchiveOffset:  archiveOffset,
		DirectoryStart: directoryStart,
		NumberOfFiles:  int(zEOCD.TotalRecords),
	}, nil
}

// checkedSub computes a - b - c, failing if any intermediate step would underflow.
func checkedSub(a, b, c uint64) (uint64, error) {
	if a < b {
		return 0, fmt.Errorf("underflow")
	}
	a -= b
	if a < c {
		return 0, fmt.Errorf("underflow")
	}
	return a - c, nil
}

func addUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
