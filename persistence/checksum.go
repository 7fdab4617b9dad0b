package persistence

import (
	"fmt"
	"hash/crc32"
)

// CRC32 (IEEE) is used for artifact integrity: fast, hardware-accelerated,
// and good at catching storage corruption. It is NOT cryptographically
// secure; it detects accidents, not tampering.

// CalculateChecksum calculates the CRC32 checksum of data.
func CalculateChecksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}
