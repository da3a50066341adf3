package z

import "errors"

// ErrFileNotFound is returned by OpenByName and OpenByIndex when the requested entry does not exist.
var ErrFileNotFound = errors.New("specified file not found in archive")

// ErrInvalidPassword is reserved for the payload-decryption collaborator; the core never returns it since AES
// payload decryption is out of scope, but the sentinel is kept so callers can errors.Is against the full taxonomy
// the format anticipates.
var ErrInvalidPassword = errors.New("invalid password for file in archive")

// ErrNoEOCDFound is returned when the trailer search exhausts its window without finding an EOCD signature.
var ErrNoEOCDFound = errors.New("end of central directory not found; most likely not a zip file")

// Kind classifies an ArchiveError.
type Kind int

const (
	// KindInvalid marks a malformed archive: wrong signature, offset overflow, CRC mismatch, forbidden path,
	// missing required extra field.
	KindInvalid Kind = iota
	// KindUnsupported marks a well-formed archive this package does not handle: multi-disk, an AES extra field
	// of unsupported length, or a compression method outside {Stored, Deflated, AES}.
	KindUnsupported
)

// ArchiveError wraps a structural problem with an archive, carrying enough detail for callers to distinguish a
// malformed archive from one this package simply declines to read.
type ArchiveError struct {
	Kind Kind
	Msg  string
}

func (e *ArchiveError) Error() string {
	switch e.Kind {
	case KindUnsupported:
		return "unsupported zip archive: " + e.Msg
	default:
		return "invalid zip archive: " + e.Msg
	}
}

// Is reports whether target is an *ArchiveError with the same Kind, so callers can write
// errors.Is(err, InvalidArchive("")) without caring about Msg.
func (e *ArchiveError) Is(target error) bool {
	t, ok := target.(*ArchiveError)
	return ok && t.Kind == e.Kind
}

// InvalidArchive constructs a KindInvalid ArchiveError.
func InvalidArchive(msg string) error {
	return &ArchiveError{Kind: KindInvalid, Msg: msg}
}

// UnsupportedArchive constructs a KindUnsupported ArchiveError.
func UnsupportedArchive(msg string) error {
	return &ArchiveError{Kind: KindUnsupported, Msg: msg}
}
