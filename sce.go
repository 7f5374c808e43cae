package selfextract

import (
	"fmt"
	"io"
)

// sceMagic is "SCE\0" read as a little-endian uint32.
const sceMagic = 0x00454353

// Container header types carried by SceHeader.HeaderType.
const (
	HeaderTypeSelf uint16 = 1
	HeaderTypeRvk  uint16 = 2
	HeaderTypePkg  uint16 = 3
)

// Executable categories carried by AppInfo.SelfType.
const (
	SelfTypeKernel       uint32 = 0x07
	SelfTypeApp          uint32 = 0x08
	SelfTypeBoot         uint32 = 0x09
	SelfTypeSecureModule uint32 = 0x0b
	SelfTypeUser         uint32 = 0x0d
)

// SceHeader is the container envelope at offset 0.
type SceHeader struct {
	Magic          uint32
	Version        uint32
	Platform       uint8
	KeyRevision    uint8
	HeaderType     uint16
	MetadataOffset uint32
	HeaderLength   uint64
	DataLength     uint64
}

const sceHeaderSize = 0x20

// SelfHeader follows the envelope and locates every other record. All
// offsets are absolute into the input, in no particular order.
type SelfHeader struct {
	FileLength        uint64
	Field8            uint64
	SelfOffset        uint64
	AppInfoOffset     uint64
	ElfOffset         uint64
	PhdrOffset        uint64
	ShdrOffset        uint64
	SegmentInfoOffset uint64
	VersionInfoOffset uint64
	ControlInfoOffset uint64
	ControlInfoLength uint64
}

const selfHeaderSize = 0x58

// AppInfo carries the firmware version and executable category, both
// inputs to segment key lookup. SysVersion is signed so that -1 can act
// as the "any firmware" sentinel.
type AppInfo struct {
	AuthID     uint64
	VendorID   uint32
	SelfType   uint32
	SysVersion int64
	Field18    uint64
}

const appInfoSize = 0x20

// VersionInfo is informational only; nothing downstream depends on it.
type VersionInfo struct {
	Subtype uint32
	Present uint32
	Size    uint64
}

const versionInfoSize = 0x10

func parseSceHeader(r io.ReaderAt) (*SceHeader, error) {
	var sce SceHeader
	if err := readRecordAt(r, 0, &sce); err != nil {
		return nil, fmt.Errorf("self: envelope header: %w", err)
	}
	if sce.Magic != sceMagic {
		return nil, fmt.Errorf("self: %w: envelope magic must be %08x, got %08x", ErrFormat, uint32(sceMagic), sce.Magic)
	}
	return &sce, nil
}
