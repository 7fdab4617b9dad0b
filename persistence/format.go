// Package persistence serializes the vector store and its side metadata to a
// blobstore, detects structural corruption on load, and drives rebuild.
package persistence

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
)

// Index artifact layout (little-endian):
//
//	[Magic uint32][Version uint16][Metric uint8][reserved uint8]
//	[Dimension uint32][Count uint64]
//	[Count*Dimension float32 payload]
//	[CRC32-IEEE over header+payload, uint32]
const (
	// MagicNumber identifies the index artifact ("SKVI").
	MagicNumber uint32 = 0x534B5649

	// Version is the current index artifact version.
	Version uint16 = 1

	headerSize = 20
	footerSize = 4
)

// FileHeader describes the index artifact payload.
type FileHeader struct {
	Magic     uint32
	Version   uint16
	Metric    distance.Metric
	Dimension int
	Count     int
}

// ErrBadHeader indicates the index artifact header is malformed.
type ErrBadHeader struct {
	Reason string
}

func (e *ErrBadHeader) Error() string {
	return fmt.Sprintf("bad index header: %s", e.Reason)
}

// EncodeIndex serializes the vector payload into a checksummed artifact.
// The payload slice is viewed as raw bytes; float32 slices returned by the
// store are always 4-byte aligned.
func EncodeIndex(metric distance.Metric, dim int, vectors []float32) []byte {
	count := 0
	if dim > 0 {
		count = len(vectors) / dim
	}

	buf := make([]byte, headerSize+len(vectors)*4+footerSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	buf[6] = byte(metric)
	buf[7] = 0
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dim))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(count))

	if len(vectors) > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(&vectors[0])), len(vectors)*4)
		copy(buf[headerSize:], src)
	}

	payloadEnd := headerSize + len(vectors)*4
	binary.LittleEndian.PutUint32(buf[payloadEnd:], CalculateChecksum(buf[:payloadEnd]))
	return buf
}

// DecodeIndex parses and verifies a checksummed index artifact.
// Any structural defect (bad magic, truncated payload, checksum mismatch)
// is reported as corruption by the caller.
func DecodeIndex(data []byte) (FileHeader, []float32, error) {
	var hdr FileHeader
	if len(data) < headerSize+footerSize {
		return hdr, nil, &ErrBadHeader{Reason: "artifact truncated"}
	}

	hdr.Magic = binary.LittleEndian.Uint32(data[0:4])
	if hdr.Magic != MagicNumber {
		return hdr, nil, &ErrBadHeader{Reason: fmt.Sprintf("magic 0x%x", hdr.Magic)}
	}
	hdr.Version = binary.LittleEndian.Uint16(data[4:6])
	if hdr.Version != Version {
		return hdr, nil, &ErrBadHeader{Reason: fmt.Sprintf("unsupported version %d", hdr.Version)}
	}
	hdr.Metric = distance.Metric(data[6])
	hdr.Dimension = int(binary.LittleEndian.Uint32(data[8:12]))
	hdr.Count = int(binary.LittleEndian.Uint64(data[12:20]))

	payloadEnd := len(data) - footerSize
	want := binary.LittleEndian.Uint32(data[payloadEnd:])
	if got := CalculateChecksum(data[:payloadEnd]); got != want {
		return hdr, nil, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	n := hdr.Count * hdr.Dimension
	if payloadEnd-headerSize != n*4 {
		return hdr, nil, &ErrBadHeader{
			Reason: fmt.Sprintf("payload holds %d bytes, header claims %d vectors of dim %d",
				payloadEnd-headerSize, hdr.Count, hdr.Dimension),
		}
	}

	vectors := make([]float32, n)
	if n > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(&vectors[0])), n*4)
		copy(dst, data[headerSize:payloadEnd])
	}
	return hdr, vectors, nil
}
