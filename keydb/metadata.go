package keydb

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/connesc/cipherio"

	"github.com/psvtools/selfextract"
)

// The encrypted metadata block starts this far past the envelope's
// metadata offset and runs to the end of the container header.
const metadataSkip = 48

// metadataInfo is the first record of the metadata block. Its pads must
// decrypt to zero, which doubles as the wrong-key check.
type metadataInfo struct {
	Key  [16]byte
	Pad0 [16]byte
	IV   [16]byte
	Pad1 [16]byte
}

const metadataInfoSize = 0x40

// metadataHeader counts the section records that follow it.
type metadataHeader struct {
	SignatureInputLength uint64
	SignatureType        uint32
	SectionCount         uint32
	ValidSectionCount    uint32
	Field14              uint32
	Field18              uint32
	Field1C              uint32
}

const metadataHeaderSize = 0x20

// metadataSection describes one protected region. Key and IV indices
// point into the 16-byte key vault that follows the section table.
type metadataSection struct {
	Offset       uint64
	Size         uint64
	Type         uint32
	SegmentIndex int32
	HashType     uint32
	HashIndex    int32
	Encryption   uint32
	KeyIndex     int32
	IVIndex      int32
	Compression  uint32
}

const metadataSectionSize = 0x30

// Encryption values used by metadata sections.
const (
	encryptionNone   = 1
	encryptionAESCTR = 3
)

// Resolver unwraps a container's encrypted metadata block into
// per-segment key material using keys from the store. It implements
// selfextract.SegmentKeySource.
type Resolver struct {
	Store *Store
}

var _ selfextract.SegmentKeySource = (*Resolver)(nil)

// ResolveSegmentKeys decrypts the metadata block and returns one record
// per encrypted section, in storage order.
func (rv *Resolver) ResolveSegmentKeys(r io.ReaderAt, sce *selfextract.SceHeader, appInfo *selfextract.AppInfo, npdrmType uint32, klicensee [16]byte) ([]selfextract.SegmentKey, error) {
	key, iv, err := rv.Store.Get(ClassMetadata, sce.HeaderType, appInfo.SysVersion, sce.KeyRevision, appInfo.SelfType)
	if err != nil {
		return nil, err
	}

	start := int64(sce.MetadataOffset) + metadataSkip
	length := int64(sce.HeaderLength) - start
	if length < metadataInfoSize+metadataHeaderSize {
		return nil, fmt.Errorf("keydb: metadata block of %d bytes is too small", length)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(r, start, length), raw); err != nil {
		return nil, fmt.Errorf("keydb: read metadata block: %w", err)
	}

	info, err := rv.unwrapInfo(raw[:metadataInfoSize], key, iv, sce, appInfo, npdrmType, klicensee)
	if err != nil {
		return nil, err
	}

	body, err := decryptCBC(raw[metadataInfoSize:], info.Key, info.IV)
	if err != nil {
		return nil, fmt.Errorf("keydb: metadata contents: %w", err)
	}

	var hdr metadataHeader
	if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("keydb: metadata header: %w", err)
	}
	tableEnd := metadataHeaderSize + int(hdr.SectionCount)*metadataSectionSize
	if tableEnd > len(body) {
		return nil, fmt.Errorf("keydb: metadata declares %d sections but only %d bytes follow", hdr.SectionCount, len(body)-metadataHeaderSize)
	}

	sections := make([]metadataSection, hdr.SectionCount)
	if err := binary.Read(bytes.NewReader(body[metadataHeaderSize:tableEnd]), binary.LittleEndian, sections); err != nil {
		return nil, fmt.Errorf("keydb: metadata sections: %w", err)
	}
	vault := body[tableEnd:]

	var segs []selfextract.SegmentKey
	for i, section := range sections {
		if section.Encryption != encryptionAESCTR {
			continue
		}
		segKey, err := vaultEntry(vault, section.KeyIndex)
		if err != nil {
			return nil, fmt.Errorf("keydb: section %d key: %w", i, err)
		}
		segIV, err := vaultEntry(vault, section.IVIndex)
		if err != nil {
			return nil, fmt.Errorf("keydb: section %d iv: %w", i, err)
		}
		segs = append(segs, selfextract.SegmentKey{
			SegmentIndex: int(section.SegmentIndex),
			Key:          segKey,
			IV:           segIV,
		})
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("keydb: metadata describes no encrypted segments")
	}
	return segs, nil
}

// unwrapInfo decrypts the metadata info record. App containers carry an
// extra CBC layer keyed by the decrypted klicensee.
func (rv *Resolver) unwrapInfo(wrapped []byte, key, iv [16]byte, sce *selfextract.SceHeader, appInfo *selfextract.AppInfo, npdrmType uint32, klicensee [16]byte) (*metadataInfo, error) {
	dec, err := decryptCBC(wrapped, key, iv)
	if err != nil {
		return nil, fmt.Errorf("keydb: metadata info: %w", err)
	}

	if appInfo.SelfType == selfextract.SelfTypeApp && npdrmType != 0 {
		npKey, npIV, err := rv.Store.Get(ClassNPDRM, sce.HeaderType, appInfo.SysVersion, uint8(npdrmType), appInfo.SelfType)
		if err != nil {
			return nil, err
		}
		klic, err := decryptCBC(klicensee[:], npKey, npIV)
		if err != nil {
			return nil, fmt.Errorf("keydb: klicensee: %w", err)
		}
		var klicKey, zeroIV [16]byte
		copy(klicKey[:], klic)
		dec, err = decryptCBC(dec, klicKey, zeroIV)
		if err != nil {
			return nil, fmt.Errorf("keydb: metadata info klicensee layer: %w", err)
		}
	}

	var info metadataInfo
	if err := binary.Read(bytes.NewReader(dec), binary.LittleEndian, &info); err != nil {
		return nil, fmt.Errorf("keydb: metadata info: %w", err)
	}
	var zero [16]byte
	if info.Pad0 != zero || info.Pad1 != zero {
		return nil, fmt.Errorf("keydb: failed to decrypt metadata info, wrong key for this container")
	}
	return &info, nil
}

// decryptCBC runs src through an AES-CBC block reader. The input must
// be block aligned.
func decryptCBC(src []byte, key, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	dec := cipherio.NewBlockReader(bytes.NewReader(src), cipher.NewCBCDecrypter(block, iv[:]))
	out := make([]byte, len(src))
	if _, err := io.ReadFull(dec, out); err != nil {
		return nil, err
	}
	return out, nil
}

func vaultEntry(vault []byte, idx int32) (out [16]byte, err error) {
	end := (int64(idx) + 1) * 16
	if idx < 0 || end > int64(len(vault)) {
		return out, fmt.Errorf("vault index %d out of range", idx)
	}
	copy(out[:], vault[end-16:end])
	return out, nil
}
