// Package selfextract converts PlayStation Vita secure executables, also
// known as SELF, back into the plain ELF images they wrap.
//
// A SELF container holds an ordinary ELF header and its segments inside a
// chain of fixed-layout metadata records. Individual segments may be
// AES-128-CTR encrypted and zlib compressed, and the order they are stored
// in does not have to match the order the program header table references
// them in. Convert undoes all of that and re-emits a byte-exact ELF image.
// Signatures are only parsed around, never verified: this is a
// format-shifting tool, not a verifier.
//
// Key material for encrypted containers comes from a SegmentKeySource,
// typically the keydb package backed by a YAML key database.
//
// This package comes with a CLI. You can install it like this:
//   go install github.com/psvtools/selfextract/cmd/selfextract@latest
package selfextract
