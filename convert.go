package selfextract

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// SegmentKey is the decryption material for one stored segment.
// SegmentIndex names the program header slot the stored segment fills;
// across a whole container those indices form a permutation of the
// program header table.
type SegmentKey struct {
	SegmentIndex int
	Key          [16]byte
	IV           [16]byte
}

// SegmentKeySource produces key material for encrypted containers. It
// is consulted at most once per conversion, before any segment is
// transformed, and never for fully-plaintext containers. Failures are
// surfaced as ErrKeyResolution; Convert does not retry or substitute
// defaults.
type SegmentKeySource interface {
	ResolveSegmentKeys(r io.ReaderAt, sce *SceHeader, appInfo *AppInfo, npdrmType uint32, klicensee [16]byte) ([]SegmentKey, error)
}

// Options adjust a single conversion.
type Options struct {
	// Keys resolves key material for encrypted containers. May be nil
	// when only plaintext containers are expected.
	Keys SegmentKeySource

	// Klicensee is the 16-byte license-bound context secret, all zero
	// when the container is not license-bound.
	Klicensee [16]byte

	// IgnoreSysVersion forces the firmware version to the "any"
	// sentinel before key lookup.
	IgnoreSysVersion bool
}

// SegmentReport describes one stored segment in the conversion report.
type SegmentReport struct {
	Index      int
	Offset     Hex64
	Size       uint64
	Encrypted  bool
	Compressed bool
}

// Report describes the container that was converted. It is what the
// CLI prints as JSON.
type Report struct {
	Platform    uint8
	KeyRevision uint8
	AuthID      Hex64
	VendorID    Hex32
	SelfType    Hex32
	SysVersion  Hex64
	NPDRMType   uint32
	ContentID   string `json:",omitempty"`
	Digest      Hex    `json:",omitempty"`
	Machine     Hex16
	Encrypted   bool
	Segments    []SegmentReport
}

// Convert parses the SELF container in r and writes the reconstructed
// ELF image to w. On error the bytes already written to w are garbage
// and must be discarded by the caller.
func Convert(r io.ReaderAt, w io.Writer, opts Options) (*Report, error) {
	sce, err := parseSceHeader(r)
	if err != nil {
		return nil, err
	}

	var self SelfHeader
	if err := readRecordAt(r, sceHeaderSize, &self); err != nil {
		return nil, fmt.Errorf("self: extended header: %w", err)
	}

	var appInfo AppInfo
	if err := readRecordAt(r, int64(self.AppInfoOffset), &appInfo); err != nil {
		return nil, fmt.Errorf("self: app info: %w", err)
	}
	if opts.IgnoreSysVersion {
		appInfo.SysVersion = -1
	}

	var verInfo VersionInfo
	if err := readRecordAt(r, int64(self.VersionInfoOffset), &verInfo); err != nil {
		return nil, fmt.Errorf("self: version info: %w", err)
	}

	chain, err := walkControlChain(r, int64(self.ControlInfoOffset))
	if err != nil {
		return nil, err
	}
	var npdrmType uint32
	if chain.NPDRM != nil {
		npdrmType = chain.NPDRM.NPDRMType
	}

	var elfHdr ElfHeader
	if err := readRecordAt(r, int64(self.ElfOffset), &elfHdr); err != nil {
		return nil, fmt.Errorf("self: elf header: %w", err)
	}
	if elfHdr.Machine == machineNoShdr {
		elfHdr.Shnum = 0
		elfHdr.Shoff = 0
	}
	if err := binary.Write(w, binary.LittleEndian, &elfHdr); err != nil {
		return nil, fmt.Errorf("self: write elf header: %w", err)
	}

	count := int(elfHdr.Phnum)
	phdrs := make([]ElfPhdr, count)
	segments := make([]SegmentInfo, count)
	encrypted := false
	cursor := int64(elfHeaderSize)

	for i := 0; i < count; i++ {
		if err := readRecordAt(r, int64(self.PhdrOffset)+int64(i)*elfPhdrSize, &phdrs[i]); err != nil {
			return nil, fmt.Errorf("self: program header %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, &phdrs[i]); err != nil {
			return nil, fmt.Errorf("self: write program header %d: %w", i, err)
		}
		cursor += elfPhdrSize

		if err := readRecordAt(r, int64(self.SegmentInfoOffset)+int64(i)*segmentInfoSize, &segments[i]); err != nil {
			return nil, fmt.Errorf("self: segment info %d: %w", i, err)
		}
		if segments[i].Encrypted() {
			encrypted = true
		}
	}

	var keys []SegmentKey
	if encrypted {
		if opts.Keys == nil {
			return nil, fmt.Errorf("self: %w: container is encrypted and no key source was given", ErrKeyResolution)
		}
		keys, err = opts.Keys.ResolveSegmentKeys(r, sce, &appInfo, npdrmType, opts.Klicensee)
		if err != nil {
			return nil, fmt.Errorf("self: %w: %v", ErrKeyResolution, err)
		}
		if err := checkMapping(keys, count); err != nil {
			return nil, err
		}
	}

	for i := 0; i < count; i++ {
		idx := i
		if keys != nil {
			idx = keys[i].SegmentIndex
		}
		phdr := &phdrs[idx]
		if phdr.Filesz == 0 {
			continue
		}

		pad := int64(phdr.Offset) - cursor
		if pad < 0 {
			return nil, fmt.Errorf("self: %w: segment %d starts at 0x%x but the output cursor is at 0x%x", ErrLayout, idx, phdr.Offset, cursor)
		}
		if err := writeZeros(w, pad); err != nil {
			return nil, fmt.Errorf("self: write padding for segment %d: %w", idx, err)
		}
		cursor += pad

		data, err := readBytesAt(r, int64(segments[idx].Offset), int64(segments[idx].Size))
		if err != nil {
			return nil, fmt.Errorf("self: segment %d: %w", idx, err)
		}
		if segments[idx].Encrypted() {
			data, err = decryptCTR(data, keys[i].Key, keys[i].IV)
			if err != nil {
				return nil, fmt.Errorf("self: segment %d: %w", idx, err)
			}
		}
		if segments[idx].Deflated() {
			data, err = inflate(data)
			if err != nil {
				return nil, fmt.Errorf("self: segment %d: %w: %v", idx, ErrPayload, err)
			}
		}

		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("self: write segment %d: %w", idx, err)
		}
		cursor += int64(len(data))
	}

	report := &Report{
		Platform:    sce.Platform,
		KeyRevision: sce.KeyRevision,
		AuthID:      Hex64(appInfo.AuthID),
		VendorID:    Hex32(appInfo.VendorID),
		SelfType:    Hex32(appInfo.SelfType),
		SysVersion:  Hex64(appInfo.SysVersion),
		NPDRMType:   npdrmType,
		Machine:     Hex16(elfHdr.Machine),
		Encrypted:   encrypted,
		Segments:    make([]SegmentReport, count),
	}
	if chain.NPDRM != nil {
		report.ContentID = string(bytes.TrimRight(chain.NPDRM.ContentID[:], "\x00"))
	}
	if chain.Digest != nil {
		report.Digest = Hex(chain.Digest.FileHash[:])
	}
	for i, seg := range segments {
		report.Segments[i] = SegmentReport{
			Index:      i,
			Offset:     Hex64(seg.Offset),
			Size:       seg.Size,
			Encrypted:  seg.Encrypted(),
			Compressed: seg.Deflated(),
		}
	}
	return report, nil
}

// checkMapping verifies that the resolved segment indices form a
// permutation of the program header table.
func checkMapping(keys []SegmentKey, count int) error {
	if len(keys) != count {
		return fmt.Errorf("self: %w: key source returned %d segments, container has %d", ErrKeyResolution, len(keys), count)
	}
	seen := make([]bool, count)
	for _, k := range keys {
		if k.SegmentIndex < 0 || k.SegmentIndex >= count || seen[k.SegmentIndex] {
			return fmt.Errorf("self: %w: segment indices are not a permutation of 0..%d", ErrKeyResolution, count-1)
		}
		seen[k.SegmentIndex] = true
	}
	return nil
}

// decryptCTR applies AES-128 counter mode to one segment. The full
// 16-byte IV is the initial counter, interpreted big-endian and
// incremented once per block.
func decryptCTR(data []byte, key, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

// inflate decompresses one zlib stream; trailing bytes after the stream
// end are ignored.
func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

var zeroChunk [4096]byte

func writeZeros(w io.Writer, n int64) error {
	for n > 0 {
		chunk := int64(len(zeroChunk))
		if n < chunk {
			chunk = n
		}
		if _, err := w.Write(zeroChunk[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
