package selfextract

// SecureBool is the format's three-valued boolean.
type SecureBool uint32

const (
	SecureUnused SecureBool = 0
	SecureNo     SecureBool = 1
	SecureYes    SecureBool = 2
)

// SegmentInfo describes where one program header's data is stored in
// the container and which protections apply to it. There is exactly one
// record per program header entry.
type SegmentInfo struct {
	Offset     uint64
	Size       uint64
	Compressed SecureBool
	Field14    uint32
	Plaintext  SecureBool
	Field1C    uint32
}

const segmentInfoSize = 0x20

// Encrypted reports whether the stored bytes are AES-CTR encrypted.
func (s *SegmentInfo) Encrypted() bool {
	return s.Plaintext == SecureNo
}

// Deflated reports whether the stored bytes are a zlib stream.
func (s *SegmentInfo) Deflated() bool {
	return s.Compressed == SecureYes
}
