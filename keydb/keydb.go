// Package keydb resolves per-segment keys for encrypted SELF containers.
//
// It has two halves: a Store holding the process-wide key database,
// loaded once from a YAML file, and a Resolver that uses the store to
// unwrap the container's encrypted metadata block into per-segment key
// material.
package keydb

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Class selects which kind of key an entry provides.
type Class string

const (
	// ClassMetadata keys unwrap the metadata info record at the start of
	// the encrypted metadata block.
	ClassMetadata Class = "metadata"

	// ClassNPDRM keys decrypt a license-bound klicensee into the extra
	// unwrap layer used by app containers.
	ClassNPDRM Class = "npdrm"
)

// Entry is one key database record. Version and key revision ranges are
// inclusive on both ends.
type Entry struct {
	Class      Class  `yaml:"class"`
	HeaderType uint16 `yaml:"header_type"`
	SelfType   uint32 `yaml:"self_type"`
	KeyRevMin  uint8  `yaml:"key_rev_min"`
	KeyRevMax  uint8  `yaml:"key_rev_max"`
	MinVersion uint64 `yaml:"min_version"`
	MaxVersion uint64 `yaml:"max_version"`
	Key        string `yaml:"key"`
	IV         string `yaml:"iv"`
}

// Store is the process-wide key database. Load it once before any
// conversion of an encrypted container.
type Store struct {
	entries []Entry
}

type dbFile struct {
	Keys []Entry `yaml:"keys"`
}

// Load reads a YAML key database from path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keydb: %w", err)
	}
	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("keydb: %s: %w", path, err)
	}
	return store, nil
}

// Parse decodes a YAML key database.
func Parse(data []byte) (*Store, error) {
	var f dbFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid key database: %w", err)
	}
	for i, e := range f.Keys {
		if e.Class != ClassMetadata && e.Class != ClassNPDRM {
			return nil, fmt.Errorf("entry %d: unknown key class %q", i, e.Class)
		}
		if _, err := decode16(e.Key); err != nil {
			return nil, fmt.Errorf("entry %d: key: %w", i, err)
		}
		if _, err := decode16(e.IV); err != nil {
			return nil, fmt.Errorf("entry %d: iv: %w", i, err)
		}
	}
	return &Store{entries: f.Keys}, nil
}

// Get returns the key and IV matching the given lookup tuple. A
// negative sysVersion matches any version range.
func (s *Store) Get(class Class, headerType uint16, sysVersion int64, keyRev uint8, selfType uint32) (key, iv [16]byte, err error) {
	for _, e := range s.entries {
		if e.Class != class || e.HeaderType != headerType || e.SelfType != selfType {
			continue
		}
		if keyRev < e.KeyRevMin || keyRev > e.KeyRevMax {
			continue
		}
		if sysVersion >= 0 && (uint64(sysVersion) < e.MinVersion || uint64(sysVersion) > e.MaxVersion) {
			continue
		}
		key, _ = decode16(e.Key)
		iv, _ = decode16(e.IV)
		return key, iv, nil
	}
	err = fmt.Errorf("keydb: no %s key for header type %d, self type 0x%02x, key revision %d, firmware 0x%x",
		class, headerType, selfType, keyRev, sysVersion)
	return key, iv, err
}

func decode16(s string) (out [16]byte, err error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("must be %d bytes, got %d", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
