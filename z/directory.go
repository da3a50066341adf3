package z

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// fixedSizeCDFileHeader is the 46-byte fixed-layout prefix of a central-directory file header, decoded with
// encoding/binary the same way every central-directory parser in this codebase's earlier generations did.
type fixedSizeCDFileHeader struct {
	Signature         uint32
	CreatorVersion    uint16
	ReaderVersion     uint16
	Flags             uint16
	Method            uint16
	ModifiedTime      uint16
	ModifiedDate      uint16
	CRC32             uint32
	CompressedSize    uint32
	UncompressedSize  uint32
	FileNameLength    uint16
	ExtraFieldLength  uint16
	FileCommentLength uint16
	DiskNumber        uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	Offset            uint32
}

// flagUTF8 is general-purpose bit 11: filename and comment are encoded in UTF-8.
const flagUTF8 = 1 << 11

// flagDataDescriptor is general-purpose bit 3: sizes and CRC-32 are zero in the local header and instead follow
// the compressed data in a data descriptor record.
const flagDataDescriptor = 1 << 3

// extraZip64 and extraAES are the extra-field kind tags this package understands; every other kind is skipped.
const (
	extraZip64 uint16 = 0x0001
	extraAES   uint16 = 0x9901
)

// Directory is the fully-resolved central directory: every entry's metadata, keyed by name in encounter order,
// plus the archive-level comment and the base-offset shift needed to translate a recorded header offset into an
// absolute stream position.
type Directory struct {
	Entries       []*EntryMetadata
	byName        map[string]int
	Comment       string
	ArchiveOffset uint64
}

// ByName returns the entry with the given name, or nil if none exists.
func (d *Directory) ByName(name string) *EntryMetadata {
	i, ok := d.byName[name]
	if !ok {
		return nil
	}
	return d.Entries[i]
}

// readDirectory reads counts.NumberOfFiles central-header records starting at counts.DirectoryStart (or, when
// NumberOfFiles is 0, reads until the EOCD signature or end of stream), applying the ArchiveOffset shift to every
// recorded offset. eocdComment is stored as the directory's comment as given.
//
// Grounded on original_source/src/read/tokio.rs's central_header_to_zip_file / central_header_to_zip_file_inner:
// fields are read in the exact order those functions read them, filenames and comments are decoded as UTF-8 or
// CP437 depending on the general-purpose flag's UTF-8 bit, and each entry's extra field is scanned immediately
// after the fixed-size portion is parsed.
func readDirectory(ctx context.Context, src io.ReadSeeker, counts directoryCounts, eocdComment string) (*Directory, error) {
	if _, err := src.Seek(int64(counts.DirectoryStart), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to central directory error: %w", err)
	}

	// NumberOfFiles is an untrusted hint used only to size the preallocation; clamp rather than trust it, since a
	// corrupt or adversarial record could otherwise request an enormous allocation up front.
	capacityHint := counts.NumberOfFiles
	if capacityHint < 0 || capacityHint > 1<<20 {
		capacityHint = 0
	}

	dir := &Directory{
		Entries: make([]*EntryMetadata, 0, capacityHint),
		byName:  make(map[string]int, capacityHint),
		Comment: eocdComment,
	}

	buf := make([]byte, 46)
	for i := 0; counts.NumberOfFiles <= 0 || i < counts.NumberOfFiles; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		centralHeaderStart, err := src.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("read central directory position error: %w", err)
		}

		n, err := io.ReadFull(src, buf)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if counts.NumberOfFiles <= 0 {
					break
				}
			}
			return nil, fmt.Errorf("read central directory file header error: %w", err)
		}
		if n < 46 {
			return nil, InvalidArchive("short central directory file header")
		}

		if binary.LittleEndian.Uint32(buf[:4]) == sigEOCD {
			break
		}

		fsfh := &fixedSizeCDFileHeader{}
		if err = binary.Read(bytes.NewReader(buf), binary.LittleEndian, fsfh); err != nil {
			return nil, fmt.Errorf("parse central directory file header error: %w", err)
		}
		if fsfh.Signature != sigCentralHeader {
			return nil, InvalidArchive(fmt.Sprintf("invalid central directory file header signature 0x%x", fsfh.Signature))
		}

		nmk := make([]byte, int(fsfh.FileNameLength)+int(fsfh.ExtraFieldLength)+int(fsfh.FileCommentLength))
		if _, err = io.ReadFull(src, nmk); err != nil {
			return nil, fmt.Errorf("read central directory variable-length fields error: %w", err)
		}

		nameRaw := nmk[:fsfh.FileNameLength]
		extra := nmk[fsfh.FileNameLength : int(fsfh.FileNameLength)+int(fsfh.ExtraFieldLength)]
		commentRaw := nmk[int(fsfh.FileNameLength)+int(fsfh.ExtraFieldLength):]

		isUTF8 := fsfh.Flags&flagUTF8 != 0

		m := &EntryMetadata{
			Method:              Method(fsfh.Method),
			CRC32:               fsfh.CRC32,
			CompressedSize:      uint64(fsfh.CompressedSize),
			UncompressedSize:    uint64(fsfh.UncompressedSize),
			Modified:            msDosTimeToTime(fsfh.ModifiedDate, fsfh.ModifiedTime),
			NameRaw:             append([]byte(nil), nameRaw...),
			Extra:               append([]byte(nil), extra...),
			ExternalAttrs:       fsfh.ExternalAttrs,
			UsingDataDescriptor: fsfh.Flags&flagDataDescriptor != 0,
			IsUTF8:              isUTF8,
		}

		if isUTF8 {
			m.Name = string(nameRaw)
			m.Comment = string(commentRaw)
		} else {
			m.Name = decodeCP437(nameRaw)
			m.Comment = decodeCP437(commentRaw)
		}

		headerStart, largeFile, compSize, uncompSize, err := parseExtraField(extra, uint64(fsfh.CompressedSize), uint64(fsfh.UncompressedSize), uint64(fsfh.Offset), m)
		if err != nil {
			return nil, err
		}
		m.LargeFile = largeFile
		m.CompressedSize = compSize
		m.UncompressedSize = uncompSize

		hs, ok := addUint64(headerStart, counts.ArchiveOffset)
		if !ok {
			return nil, InvalidArchive("Archive header is too large")
		}
		m.HeaderStart = hs
		m.CentralHeaderStart = uint64(centralHeaderStart)

		if m.Method == MethodAES && m.AESMode == nil {
			return nil, InvalidArchive("AES encryption without AES extra data field")
		}

		if _, exists := dir.byName[m.Name]; exists {
			return nil, InvalidArchive("duplicate file name in central directory: " + m.Name)
		}
		dir.byName[m.Name] = len(dir.Entries)
		dir.Entries = append(dir.Entries, m)
	}

	dir.ArchiveOffset = counts.ArchiveOffset
	return dir, nil
}

// parseExtraField scans the extra-field records of a central-directory entry, resolving the ZIP64 (0x0001) and
// AES (0x9901) kinds and leaving every other kind untouched.
//
// Grounded on original_source/src/read/tokio.rs's parse_extra_field: ZIP64 fields are only present, and only
// consumed, when the corresponding 32-bit field was the ZIP64 sentinel; the AES record is fixed at 7 bytes and
// its vendor id/version are validated before the compression method is overwritten with whatever the AES record
// says the real method is. A record whose declared length runs past the end of the extra field ends the scan;
// whatever was parsed before it is kept.
func parseExtraField(extra []byte, compSize, uncompSize, headerStart uint64, m *EntryMetadata) (newHeaderStart uint64, largeFile bool, newCompSize, newUncompSize uint64, err error) {
	newHeaderStart, newCompSize, newUncompSize = headerStart, compSize, uncompSize

	r := bytes.NewReader(extra)
	for r.Len() >= 4 {
		var kind, length uint16
		if err = binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return 0, false, 0, 0, fmt.Errorf("read extra field kind error: %w", err)
		}
		if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
			return 0, false, 0, 0, fmt.Errorf("read extra field length error: %w", err)
		}

		if int(length) > r.Len() {
			break
		}

		body := make([]byte, length)
		if _, err = io.ReadFull(r, body); err != nil {
			return 0, false, 0, 0, fmt.Errorf("read extra field body error: %w", err)
		}

		switch kind {
		case extraZip64:
			br := bytes.NewReader(body)
			if newUncompSize == zip64SizeSentinel && br.Len() >= 8 {
				_ = binary.Read(br, binary.LittleEndian, &newUncompSize)
				largeFile = true
			}
			if newCompSize == zip64SizeSentinel && br.Len() >= 8 {
				_ = binary.Read(br, binary.LittleEndian, &newCompSize)
				largeFile = true
			}
			if headerStart == zip64SizeSentinel && br.Len() >= 8 {
				_ = binary.Read(br, binary.LittleEndian, &newHeaderStart)
			}

		case extraAES:
			if length != 7 {
				return 0, false, 0, 0, UnsupportedArchive("AES extra data field has an unsupported length")
			}
			var (
				vendorVersion uint16
				vendorID      [2]byte
				mode          byte
				method        uint16
			)
			br := bytes.NewReader(body)
			_ = binary.Read(br, binary.LittleEndian, &vendorVersion)
			_, _ = br.Read(vendorID[:])
			_ = binary.Read(br, binary.LittleEndian, &mode)
			_ = binary.Read(br, binary.LittleEndian, &method)

			if string(vendorID[:]) != "AE" {
				return 0, false, 0, 0, InvalidArchive("unrecognized AES vendor id")
			}
			if vendorVersion != uint16(AE1) && vendorVersion != uint16(AE2) {
				return 0, false, 0, 0, InvalidArchive("unrecognized AES vendor version")
			}

			var strength AESStrength
			switch mode {
			case 1:
				strength = AES128
			case 2:
				strength = AES192
			case 3:
				strength = AES256
			default:
				return 0, false, 0, 0, InvalidArchive("unrecognized AES strength")
			}

			m.Encrypted = true
			m.AESMode = &AESMode{Strength: strength, Vendor: AESVendorVersion(vendorVersion)}
			m.Method = Method(method)
		}
	}

	return newHeaderStart, largeFile, newCompSize, newUncompSize, nil
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time. Resolution is 2 seconds.
//
// Grounded on _examples/nguyengg-xy3/z/cd.go's msDosTimeToTime, itself taken from
// https://go.dev/src/archive/zip/struct.go.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0,

		time.UTC,
	)
}
