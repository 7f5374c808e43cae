package keydb

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/psvtools/selfextract"
)

func cbc(t *testing.T, data []byte, key, iv [16]byte, decrypt bool) []byte {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(data))
	if decrypt {
		cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)
	} else {
		cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, data)
	}
	return out
}

func mustWriteLE(t *testing.T, w *bytes.Buffer, data interface{}) {
	t.Helper()
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		t.Fatal(err)
	}
}

// buildMetadata assembles the plaintext metadata body: header, section
// table, key vault.
func buildMetadata(t *testing.T, sections []metadataSection, vault [][16]byte) []byte {
	t.Helper()
	var body bytes.Buffer
	mustWriteLE(t, &body, &metadataHeader{
		SignatureType:     5,
		SectionCount:      uint32(len(sections)),
		ValidSectionCount: uint32(len(sections)),
	})
	for i := range sections {
		mustWriteLE(t, &body, &sections[i])
	}
	for _, entry := range vault {
		body.Write(entry[:])
	}
	return body.Bytes()
}

func testStore(t *testing.T, doc string) *Store {
	t.Helper()
	store, err := Parse([]byte(strings.TrimSpace(doc)))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

const resolverDB = `
keys:
  - class: metadata
    header_type: 1
    self_type: 0x0d
    key_rev_min: 0
    key_rev_max: 0
    min_version: 0x0000000000000000
    max_version: 0xffffffffffffffff
    key: "5b5c5d5e5f606162636465666768696a"
    iv: "6b6c6d6e6f707172737475767778797a"
  - class: metadata
    header_type: 1
    self_type: 0x08
    key_rev_min: 0
    key_rev_max: 0
    min_version: 0x0000000000000000
    max_version: 0xffffffffffffffff
    key: "0b0c0d0e0f101112131415161718191a"
    iv: "1b1c1d1e1f202122232425262728292a"
  - class: npdrm
    header_type: 1
    self_type: 0x08
    key_rev_min: 2
    key_rev_max: 2
    min_version: 0x0000000000000000
    max_version: 0xffffffffffffffff
    key: "8b8c8d8e8f909192939495969798999a"
    iv: "9b9c9d9e9fa0a1a2a3a4a5a6a7a8a9aa"
`

// assemble wraps a plaintext metadata body into a container prefix:
// zero padding up to the metadata block, the encrypted info record,
// then the encrypted body.
func assemble(t *testing.T, info *metadataInfo, body []byte, storeKey, storeIV [16]byte, extraLayer *[16]byte) ([]byte, selfextract.SceHeader) {
	t.Helper()

	var infoBuf bytes.Buffer
	mustWriteLE(t, &infoBuf, info)
	infoPlain := infoBuf.Bytes()
	if extraLayer != nil {
		var zero [16]byte
		infoPlain = cbc(t, infoPlain, *extraLayer, zero, false)
	}
	infoEnc := cbc(t, infoPlain, storeKey, storeIV, false)
	bodyEnc := cbc(t, body, info.Key, info.IV, false)

	const metadataOffset = 0x2d0
	start := metadataOffset + metadataSkip
	file := make([]byte, start)
	file = append(file, infoEnc...)
	file = append(file, bodyEnc...)

	sce := selfextract.SceHeader{
		Magic:          0x00454353,
		HeaderType:     selfextract.HeaderTypeSelf,
		MetadataOffset: metadataOffset,
		HeaderLength:   uint64(len(file)),
	}
	return file, sce
}

func TestResolveSegmentKeys(t *testing.T) {
	store := testStore(t, resolverDB)
	storeKey, storeIV, err := store.Get(ClassMetadata, 1, -1, 0, 0x0d)
	if err != nil {
		t.Fatal(err)
	}

	vault := [][16]byte{
		{0: 0x01}, {0: 0x02}, {0: 0x03}, {0: 0x04},
	}
	sections := []metadataSection{
		{Type: 1, Encryption: encryptionNone, SegmentIndex: 0},
		{Type: 2, Encryption: encryptionAESCTR, SegmentIndex: 1, KeyIndex: 0, IVIndex: 1},
		{Type: 2, Encryption: encryptionAESCTR, SegmentIndex: 0, KeyIndex: 2, IVIndex: 3},
	}
	info := &metadataInfo{Key: [16]byte{5: 0xd5}, IV: [16]byte{6: 0xe6}}
	body := buildMetadata(t, sections, vault)
	file, sce := assemble(t, info, body, storeKey, storeIV, nil)

	appInfo := &selfextract.AppInfo{SelfType: selfextract.SelfTypeUser, SysVersion: 0x0360000000000000}
	resolver := &Resolver{Store: store}
	segs, err := resolver.ResolveSegmentKeys(bytes.NewReader(file), &sce, appInfo, 0, [16]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("resolved %d segments, want 2", len(segs))
	}
	if segs[0].SegmentIndex != 1 || segs[1].SegmentIndex != 0 {
		t.Errorf("segment indices = %d,%d, want 1,0", segs[0].SegmentIndex, segs[1].SegmentIndex)
	}
	if segs[0].Key != vault[0] || segs[0].IV != vault[1] {
		t.Error("first segment got the wrong vault entries")
	}
	if segs[1].Key != vault[2] || segs[1].IV != vault[3] {
		t.Error("second segment got the wrong vault entries")
	}
}

func TestResolveSegmentKeysWrongKey(t *testing.T) {
	store := testStore(t, resolverDB)

	// Encrypt the info record with a key the store does not hold; the
	// pad check must reject the decryption.
	var bogusKey, bogusIV [16]byte
	bogusKey[0] = 0xde
	bogusIV[0] = 0xad
	info := &metadataInfo{Key: [16]byte{1: 1}, IV: [16]byte{2: 2}}
	body := buildMetadata(t, []metadataSection{
		{Type: 2, Encryption: encryptionAESCTR, SegmentIndex: 0, KeyIndex: 0, IVIndex: 1},
	}, [][16]byte{{}, {}})
	file, sce := assemble(t, info, body, bogusKey, bogusIV, nil)

	appInfo := &selfextract.AppInfo{SelfType: selfextract.SelfTypeUser, SysVersion: -1}
	resolver := &Resolver{Store: store}
	if _, err := resolver.ResolveSegmentKeys(bytes.NewReader(file), &sce, appInfo, 0, [16]byte{}); err == nil {
		t.Fatal("wrong metadata key accepted")
	}
}

func TestResolveSegmentKeysKlicenseeLayer(t *testing.T) {
	store := testStore(t, resolverDB)
	appKey, appIV, err := store.Get(ClassMetadata, 1, -1, 0, 0x08)
	if err != nil {
		t.Fatal(err)
	}
	npKey, npIV, err := store.Get(ClassNPDRM, 1, -1, 2, 0x08)
	if err != nil {
		t.Fatal(err)
	}

	// The resolver derives the extra layer key by CBC-decrypting the
	// klicensee with the npdrm key; mirror that here.
	klicensee := [16]byte{0x4b, 0x4c, 0x49, 0x43}
	var layer [16]byte
	copy(layer[:], cbc(t, klicensee[:], npKey, npIV, true))

	vault := [][16]byte{{0: 0xaa}, {0: 0xbb}}
	body := buildMetadata(t, []metadataSection{
		{Type: 2, Encryption: encryptionAESCTR, SegmentIndex: 0, KeyIndex: 0, IVIndex: 1},
	}, vault)
	info := &metadataInfo{Key: [16]byte{7: 7}, IV: [16]byte{8: 8}}
	file, sce := assemble(t, info, body, appKey, appIV, &layer)

	appInfo := &selfextract.AppInfo{SelfType: selfextract.SelfTypeApp, SysVersion: -1}
	resolver := &Resolver{Store: store}
	segs, err := resolver.ResolveSegmentKeys(bytes.NewReader(file), &sce, appInfo, 2, klicensee)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].Key != vault[0] || segs[0].IV != vault[1] {
		t.Error("klicensee-wrapped metadata resolved incorrectly")
	}
}
