package keydb

import (
	"strings"
	"testing"
)

const testDB = `
keys:
  - class: metadata
    header_type: 1
    self_type: 0x0d
    key_rev_min: 0
    key_rev_max: 1
    min_version: 0x0000000000000000
    max_version: 0x0363000000000000
    key: "000102030405060708090a0b0c0d0e0f"
    iv: "101112131415161718191a1b1c1d1e1f"
  - class: metadata
    header_type: 1
    self_type: 0x0d
    key_rev_min: 0
    key_rev_max: 1
    min_version: 0x0363000000000001
    max_version: 0xffffffffffffffff
    key: "202122232425262728292a2b2c2d2e2f"
    iv: "303132333435363738393a3b3c3d3e3f"
  - class: npdrm
    header_type: 1
    self_type: 0x08
    key_rev_min: 2
    key_rev_max: 2
    min_version: 0x0000000000000000
    max_version: 0xffffffffffffffff
    key: "404142434445464748494a4b4c4d4e4f"
    iv: "505152535455565758595a5b5c5d5e5f"
`

func TestStoreGet(t *testing.T) {
	store, err := Parse([]byte(testDB))
	if err != nil {
		t.Fatal(err)
	}

	key, iv, err := store.Get(ClassMetadata, 1, 0x0360000000000000, 0, 0x0d)
	if err != nil {
		t.Fatal(err)
	}
	if key[0] != 0x00 || iv[0] != 0x10 {
		t.Errorf("wrong entry matched: key[0]=%02x iv[0]=%02x", key[0], iv[0])
	}

	key, _, err = store.Get(ClassMetadata, 1, 0x0365000000000000, 1, 0x0d)
	if err != nil {
		t.Fatal(err)
	}
	if key[0] != 0x20 {
		t.Errorf("wrong entry matched for later firmware: key[0]=%02x", key[0])
	}

	// The negative firmware sentinel matches any version range.
	key, _, err = store.Get(ClassMetadata, 1, -1, 0, 0x0d)
	if err != nil {
		t.Fatal(err)
	}
	if key[0] != 0x00 {
		t.Errorf("sentinel lookup matched key[0]=%02x", key[0])
	}

	if _, _, err := store.Get(ClassMetadata, 1, 0x0360000000000000, 7, 0x0d); err == nil {
		t.Error("key revision outside every range still matched")
	}
	if _, _, err := store.Get(ClassNPDRM, 1, -1, 2, 0x0d); err == nil {
		t.Error("npdrm lookup matched the wrong self type")
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"bad class": `
keys:
  - class: wrapping
    key: "000102030405060708090a0b0c0d0e0f"
    iv: "101112131415161718191a1b1c1d1e1f"
`,
		"short key": `
keys:
  - class: metadata
    key: "0001"
    iv: "101112131415161718191a1b1c1d1e1f"
`,
		"bad hex": `
keys:
  - class: metadata
    key: "zz0102030405060708090a0b0c0d0e0f"
    iv: "101112131415161718191a1b1c1d1e1f"
`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(strings.TrimSpace(doc))); err == nil {
			t.Errorf("%s: malformed database accepted", name)
		}
	}
}
