package selfextract

import (
	"fmt"
	"io"
)

// Control info record types. Only the digest and NPDRM records matter
// for conversion; everything else is skipped without advancing.
const (
	ControlTypeFlags     uint32 = 1
	ControlTypeDigestSHA uint32 = 2
	ControlTypeNPDRMPS3  uint32 = 3
	ControlTypeDigest256 uint32 = 4
	ControlTypeNPDRMVita uint32 = 5
)

// ControlInfo is the common header that starts every control record.
type ControlInfo struct {
	Type uint32
	Size uint32
	Next uint64
}

const controlInfoSize = 0x10

// ControlDigest256 is the SHA-256 digest record. It has no effect on
// conversion and is only surfaced in the report.
type ControlDigest256 struct {
	SceHash    [20]byte
	FileHash   [32]byte
	Filler1    uint32
	Filler2    uint32
	SDKVersion uint32
}

const controlDigest256Size = 0x40

// ControlNPDRM is the DRM record. NPDRMType selects the license scheme
// used during key lookup, 0 meaning none.
type ControlNPDRM struct {
	Magic     uint32
	SigOffset uint16
	Size      uint16
	NPDRMType uint32
	FieldC    uint32
	ContentID [0x30]byte
	Digest    [0x10]byte
	Hash1     [0x20]byte
	Hash2     [0x20]byte
	Sig1R     [0x1c]byte
	Sig1S     [0x1c]byte
	Sig2R     [0x1c]byte
	Sig2S     [0x1c]byte
}

const controlNPDRMSize = 0x100

// controlChain is what the chain walk resolved: each record is nil when
// its slot held a different type.
type controlChain struct {
	Digest *ControlDigest256
	NPDRM  *ControlNPDRM
}

// walkControlChain reads the two control records this format can carry.
// The chain advances by accumulated record sizes, not by count. The
// digest slot is optional: any other type there leaves the offset where
// it was, and the DRM slot is probed at that position next.
func walkControlChain(r io.ReaderAt, base int64) (*controlChain, error) {
	var chain controlChain

	var ci ControlInfo
	if err := readRecordAt(r, base, &ci); err != nil {
		return nil, fmt.Errorf("self: control info: %w", err)
	}
	off := int64(controlInfoSize)

	if ci.Type == ControlTypeDigest256 {
		var digest ControlDigest256
		if err := readRecordAt(r, base+off, &digest); err != nil {
			return nil, fmt.Errorf("self: control digest: %w", err)
		}
		off += controlDigest256Size
		chain.Digest = &digest
	}

	if err := readRecordAt(r, base+off, &ci); err != nil {
		return nil, fmt.Errorf("self: control info: %w", err)
	}
	off += controlInfoSize

	if ci.Type == ControlTypeNPDRMVita {
		var drm ControlNPDRM
		if err := readRecordAt(r, base+off, &drm); err != nil {
			return nil, fmt.Errorf("self: control npdrm: %w", err)
		}
		chain.NPDRM = &drm
	}

	return &chain, nil
}
