package z

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
)

// ErrSourceInUse is returned by OpenByName, OpenByIndex, and IntoInner when the archive's single source is
// currently checked out to another entry reader that has not been closed yet.
//
// Grounded on original_source/src/read/tokio.rs's Arc<Mutex<Option<S>>> source slot: only one ZipFile (or the
// archive itself, via into_inner) may hold the underlying reader at a time.
var ErrSourceInUse = errors.New("archive source is currently in use by another open entry")

// sharedSource is a single-slot, mutex-guarded owner of the archive's underlying io.ReadSeeker. At most one
// caller may hold the source checked out at a time; everyone else gets ErrSourceInUse until it is checked back
// in.
type sharedSource struct {
	mu  sync.Mutex
	src io.ReadSeeker
}

func newSharedSource(src io.ReadSeeker) *sharedSource {
	return &sharedSource{src: src}
}

func (s *sharedSource) checkout() (io.ReadSeeker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == nil {
		return nil, ErrSourceInUse
	}

	src := s.src
	s.src = nil
	return src, nil
}

func (s *sharedSource) checkin(src io.ReadSeeker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
}

// Options customises Open.
type Options struct {
	// Ctx can be given to cancel a long-running directory scan.
	Ctx context.Context

	// MaxBytes bounds how far back from the end of the stream the EOCD search looks. Defaults to
	// defaultMaxTrailerBytes (64KiB plus the fixed EOCD size, the largest legal archive comment).
	MaxBytes int64

	// KeepComment controls whether the archive-level comment is decoded and retained.
	KeepComment bool
}

// Archive is a parsed, ready-to-read zip archive: its central directory has been fully resolved, and its
// underlying source is held behind a single-slot lock so that at most one entry (or the archive itself, via
// IntoInner) can read from it at a time.
//
// Grounded on original_source/src/read/tokio.rs's ZipArchive<S>.
type Archive struct {
	source *sharedSource
	dir    *Directory
}

// Open parses the central directory of src and returns a ready-to-use Archive.
func Open(src io.ReadSeeker, optFns ...func(*Options)) (*Archive, error) {
	opts := &Options{
		Ctx:      context.Background(),
		MaxBytes: defaultMaxTrailerBytes,
	}
	for _, fn := range optFns {
		fn(opts)
	}

	footer, eocdOffset, err := findEOCD(opts.Ctx, src, opts.MaxBytes)
	if err != nil {
		return nil, err
	}

	var comment string
	if opts.KeepComment && footer.CommentLength > 0 {
		if _, err = src.Seek(eocdOffset+22, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to archive comment error: %w", err)
		}
		b := make([]byte, footer.CommentLength)
		if _, err = io.ReadFull(src, b); err != nil {
			return nil, fmt.Errorf("read archive comment error: %w", err)
		}
		comment = string(b)
	}

	counts, err := resolveDirectory(src, footer, eocdOffset)
	if err != nil {
		return nil, err
	}

	dir, err := readDirectory(opts.Ctx, src, counts, comment)
	if err != nil {
		return nil, err
	}

	return &Archive{source: newSharedSource(src), dir: dir}, nil
}

// Len returns the number of entries in the archive.
func (a *Archive) Len() int { return len(a.dir.Entries) }

// IsEmpty reports whether the archive has no entries.
func (a *Archive) IsEmpty() bool { return len(a.dir.Entries) == 0 }

// Comment returns the archive-level comment, or "" if Options.KeepComment was not set.
func (a *Archive) Comment() string { return a.dir.Comment }

// Offset returns the resolved base-offset shift applied to every recorded header position, non-zero when the
// archive has junk bytes (e.g. a self-extracting stub) prepended to it.
func (a *Archive) Offset() uint64 { return a.dir.ArchiveOffset }

// FileNames returns every entry name, in central-directory encounter order.
func (a *Archive) FileNames() []string {
	names := make([]string, len(a.dir.Entries))
	for i, e := range a.dir.Entries {
		names[i] = e.Name
	}
	return names
}

// EntryReader is an open, readable handle on one archive entry. Its Read stream yields decompressed bytes
// validated against the entry's recorded CRC-32; Close must be called exactly once to return the archive's
// source for the next OpenByName, OpenByIndex, or EntriesStream iteration step.
type EntryReader struct {
	io.ReadCloser
	metadata *EntryMetadata
	source   *sharedSource
	raw      io.ReadSeeker
	closed   bool
}

// Metadata returns the parsed central-directory record backing this entry.
func (e *EntryReader) Metadata() *EntryMetadata { return e.metadata }

// Close releases the inner decompression reader and returns the archive's source to its shared slot.
func (e *EntryReader) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.ReadCloser.Close()
	e.source.checkin(e.raw)
	return err
}

// openEntry checks out the archive's source, builds the read pipeline for m, and wraps both in an EntryReader
// that returns the source on Close.
func (a *Archive) openEntry(m *EntryMetadata) (*EntryReader, error) {
	src, err := a.source.checkout()
	if err != nil {
		return nil, err
	}

	rc, err := newEntryReader(src, m)
	if err != nil {
		a.source.checkin(src)
		return nil, err
	}

	return &EntryReader{ReadCloser: rc, metadata: m, source: a.source, raw: src}, nil
}

// OpenByName returns a reader for the entry with the given name, or ErrFileNotFound if no such entry exists.
func (a *Archive) OpenByName(name string) (*EntryReader, error) {
	m := a.dir.ByName(name)
	if m == nil {
		return nil, ErrFileNotFound
	}
	return a.openEntry(m)
}

// OpenByIndex returns a reader for the entry at the given central-directory position.
func (a *Archive) OpenByIndex(i int) (*EntryReader, error) {
	if i < 0 || i >= len(a.dir.Entries) {
		return nil, ErrFileNotFound
	}
	return a.openEntry(a.dir.Entries[i])
}

// EntriesStream returns an iterator over every entry in the archive, in central-directory order, opened one at a
// time. The caller must close each EntryReader (or simply exhaust its Read stream, which Close still must follow)
// before the loop advances to the next entry, since only one entry may be open against the shared source at a
// time.
//
// Grounded on original_source/src/read/tokio.rs's entries_stream, an async generator wrapping sequential
// by_index calls.
func (a *Archive) EntriesStream() iter.Seq2[*EntryReader, error] {
	return func(yield func(*EntryReader, error) bool) {
		for i := range a.dir.Entries {
			er, err := a.OpenByIndex(i)
			if !yield(er, err) {
				if er != nil {
					_ = er.Close()
				}
				return
			}
		}
	}
}

// IntoInner releases the archive's hold on its source and returns it, failing with ErrSourceInUse if an
// EntryReader is still open.
func (a *Archive) IntoInner() (io.ReadSeeker, error) {
	return a.source.checkout()
}
