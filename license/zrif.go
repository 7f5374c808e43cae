package license

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// The compact textual encoding is base64 over a raw deflate stream
// compressed against a fixed 1 KiB preset dictionary. The dictionary is
// a zero page with a blank license template at the end, which is what
// lets a real token deflate to a short string of matches into it.
var zrifDict = buildZrifDict()

func buildZrifDict() []byte {
	dict := make([]byte, 1024)
	tmpl := dict[len(dict)-Size:]
	tmpl[0x01] = 0x01 // major version
	tmpl[0x07] = 0x02 // local license type
	copy(tmpl[0x10:], "XXXXXXXX-XXXX00000_00-XXXXXXXXXXXXXXXX")
	return dict
}

// DecodeZRIF decodes a compact license string back into a raw RIF
// record. The transform is purely textual, no cryptography involved.
func DecodeZRIF(text string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("license: zrif is not valid base64: %w", err)
	}
	fr := flate.NewReaderDict(bytes.NewReader(raw), zrifDict)
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("license: zrif deflate stream: %w", err)
	}
	if len(out) < Size {
		return nil, fmt.Errorf("license: decoded zrif holds %d bytes, want at least %d", len(out), Size)
	}
	return out[:Size], nil
}

// EncodeZRIF is the inverse of DecodeZRIF.
func EncodeZRIF(rif []byte) (string, error) {
	if len(rif) < Size {
		return "", fmt.Errorf("license: rif must be %d bytes, got %d", Size, len(rif))
	}
	var buf bytes.Buffer
	fw, err := flate.NewWriterDict(&buf, flate.BestCompression, zrifDict)
	if err != nil {
		return "", fmt.Errorf("license: zrif encoder: %w", err)
	}
	if _, err := fw.Write(rif[:Size]); err != nil {
		return "", fmt.Errorf("license: zrif encoder: %w", err)
	}
	if err := fw.Close(); err != nil {
		return "", fmt.Errorf("license: zrif encoder: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
