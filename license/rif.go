// Package license decodes the license tokens that bind a SELF container
// to a title: the raw RIF record and its compact "zrif" textual
// encoding. Tokens are carriers for the 16-byte klicensee consumed by
// key resolution; nothing here is interpreted beyond that.
package license

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RIF is a rights information file. Unlike the container it unlocks,
// the record is big-endian.
type RIF struct {
	MajorVersion uint16
	MinorVersion uint16
	Style        uint16
	RIFType      uint16
	AccountID    uint64
	ContentID    [0x30]byte
	ActIndex     uint32
	Klicensee    [0x10]byte
	Dates        [0x10]byte
	Padding      [0x34]byte
}

// Size of an encoded RIF record.
const Size = 0x98

// ParseRIF decodes a RIF record from the start of data. Extra trailing
// bytes are ignored.
func ParseRIF(data []byte) (*RIF, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("license: rif must be %d bytes, got %d", Size, len(data))
	}
	var rif RIF
	if err := binary.Read(bytes.NewReader(data[:Size]), binary.BigEndian, &rif); err != nil {
		return nil, fmt.Errorf("license: rif: %w", err)
	}
	return &rif, nil
}

// ContentIDString returns the content ID without trailing NULs.
func (r *RIF) ContentIDString() string {
	return string(bytes.TrimRight(r.ContentID[:], "\x00"))
}
