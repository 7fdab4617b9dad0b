// Package compress provides self-describing block compression for cache
// payloads and snapshot artifacts.
//
// Block format: [Type uint8][UncompressedSize uint32 LE][data...].
// A block whose type is None carries the raw bytes unchanged. Blocks that do
// not shrink under compression are stored uncompressed regardless of the
// requested type, so decoding never depends on external configuration.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used for a block.
type Type uint8

const (
	// None stores blocks uncompressed.
	None Type = 0
	// LZ4 favors speed; a good fit for hot cache payloads.
	LZ4 Type = 1
	// ZSTD favors ratio; a good fit for snapshots and cold data.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const headerSize = 5

// ErrBlockTooShort is returned when a block is shorter than its header.
var ErrBlockTooShort = errors.New("compress: block too short")

// zstd encoders/decoders are pooled; construction is expensive.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data into a self-describing block.
func Encode(data []byte, t Type) ([]byte, error) {
	if t == None || len(data) == 0 {
		return encodeRaw(data), nil
	}

	var compressed []byte
	switch t {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		if n == 0 {
			// Incompressible.
			return encodeRaw(data), nil
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unsupported type %v", t)
	}

	// Keep the raw bytes when compression does not pay for itself.
	if len(compressed) >= len(data) {
		return encodeRaw(data), nil
	}

	out := make([]byte, headerSize+len(compressed))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:headerSize], uint32(len(data)))
	copy(out[headerSize:], compressed)
	return out, nil
}

// Decode decompresses a block produced by Encode.
func Decode(block []byte) ([]byte, error) {
	if len(block) < headerSize {
		return nil, ErrBlockTooShort
	}
	t := Type(block[0])
	uncompressedSize := binary.LittleEndian.Uint32(block[1:headerSize])
	payload := block[headerSize:]

	switch t {
	case None:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case LZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4: %w", err)
		}
		return out[:n], nil
	case ZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unsupported type %v", t)
	}
}

func encodeRaw(data []byte) []byte {
	out := make([]byte, headerSize+len(data))
	out[0] = byte(None)
	binary.LittleEndian.PutUint32(out[1:headerSize], uint32(len(data)))
	copy(out[headerSize:], data)
	return out
}
