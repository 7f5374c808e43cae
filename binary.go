package selfextract

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readRecordAt decodes a fixed-size little-endian record at an absolute
// offset. The read never depends on a prior stream position.
func readRecordAt(r io.ReaderAt, offset int64, data interface{}) error {
	size := int64(binary.Size(data))
	err := binary.Read(io.NewSectionReader(r, offset, size), binary.LittleEndian, data)
	if err != nil {
		return fmt.Errorf("%w: %d-byte record at offset 0x%x: %v", ErrFormat, size, offset, err)
	}
	return nil
}

// readBytesAt reads exactly size raw bytes at an absolute offset.
func readBytesAt(r io.ReaderAt, offset, size int64) ([]byte, error) {
	data := make([]byte, size)
	_, err := io.ReadFull(io.NewSectionReader(r, offset, size), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes at offset 0x%x: %v", ErrFormat, size, offset, err)
	}
	return data, nil
}
