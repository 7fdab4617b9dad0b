package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReadClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("hello mapped world"), 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello mapped world"), m.Data)

	p := make([]byte, 6)
	n, err := m.ReadAt(p, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("mapped"), p)

	require.NoError(t, m.Close())
	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Nil(t, m.Data)
	require.NoError(t, m.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
