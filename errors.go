package selfextract

import "errors"

// Conversion error classes. Every failure reported by Convert wraps
// exactly one of these, so callers can classify with errors.Is. None of
// them are recoverable: a partially written output must be discarded.
var (
	// ErrFormat reports a fixed-size record that could not be fully read
	// at its expected offset.
	ErrFormat = errors.New("malformed or truncated record")

	// ErrKeyResolution reports that key material for an encrypted
	// container could not be produced.
	ErrKeyResolution = errors.New("cannot resolve segment keys")

	// ErrPayload reports a segment whose bytes could not be decompressed.
	ErrPayload = errors.New("corrupt segment payload")

	// ErrLayout reports declared segment offsets that are inconsistent
	// with the output order, i.e. negative inter-segment padding.
	ErrLayout = errors.New("inconsistent segment layout")
)
