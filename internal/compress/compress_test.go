package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	compressible := bytes.Repeat([]byte("facial-embedding-result "), 128)

	for _, typ := range []Type{None, LZ4, ZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			block, err := Encode(compressible, typ)
			require.NoError(t, err)

			if typ != None {
				assert.Less(t, len(block), len(compressible))
			}

			out, err := Decode(block)
			require.NoError(t, err)
			assert.Equal(t, compressible, out)
		})
	}
}

func TestEncodeIncompressibleFallsBackToRaw(t *testing.T) {
	// A short high-entropy payload does not shrink; the block must still
	// round-trip via the None branch.
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x42, 0x99, 0x7f}

	for _, typ := range []Type{LZ4, ZSTD} {
		block, err := Encode(data, typ)
		require.NoError(t, err)

		out, err := Decode(block)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	assert.ErrorIs(t, err, ErrBlockTooShort)

	_, err = Decode([]byte{99, 0, 0, 0, 0, 1})
	assert.Error(t, err)
}

func TestEncodeEmpty(t *testing.T) {
	block, err := Encode(nil, ZSTD)
	require.NoError(t, err)

	out, err := Decode(block)
	require.NoError(t, err)
	assert.Empty(t, out)
}
