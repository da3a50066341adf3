package z

import "golang.org/x/text/encoding/charmap"

// decodeCP437 decodes a legacy (non-UTF-8-flagged) filename or comment byte run using IBM code page 437, the
// encoding the ZIP format falls back to when the UTF-8 general-purpose flag bit is unset.
//
// Decoding is infallible: charmap.CodePage437 has a mapping for every byte value, so this never errors.
func decodeCP437(b []byte) string {
	out, _ := charmap.CodePage437.NewDecoder().Bytes(b)
	return string(out)
}
