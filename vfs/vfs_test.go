package vfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFileSystem(t *testing.T, fs FileSystem) {
	t.Helper()
	ctx := context.Background()

	data := []byte("hello world, this is fragment data")
	require.NoError(t, fs.Put(ctx, "arr/__fragments/f1/data.bin", data))
	require.NoError(t, fs.Put(ctx, "arr/__commits/f1.wrt", []byte("{}")))

	// Open and ReadAt
	f, err := fs.Open(ctx, "arr/__fragments/f1/data.bin")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), f.Size())

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// Partial read at the tail
	tail := make([]byte, 10)
	n, err = f.ReadAt(tail, int64(len(data)-4))
	require.Equal(t, 4, n)
	require.Equal(t, io.EOF, err)
	require.Equal(t, "data", string(tail[:n]))

	require.NoError(t, f.Close())

	// ReadAll helper
	all, err := ReadAll(ctx, fs, "arr/__fragments/f1/data.bin")
	require.NoError(t, err)
	require.Equal(t, data, all)

	// List with prefix
	names, err := fs.List(ctx, "arr/__commits/")
	require.NoError(t, err)
	require.Equal(t, []string{"arr/__commits/f1.wrt"}, names)

	names, err = fs.List(ctx, "arr/")
	require.NoError(t, err)
	require.Equal(t, []string{"arr/__commits/f1.wrt", "arr/__fragments/f1/data.bin"}, names)

	// Overwrite is atomic whole-object
	require.NoError(t, fs.Put(ctx, "arr/__commits/f1.wrt", []byte(`{"v":2}`)))
	all, err = ReadAll(ctx, fs, "arr/__commits/f1.wrt")
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(all))

	// Delete
	require.NoError(t, fs.Delete(ctx, "arr/__commits/f1.wrt"))
	_, err = fs.Open(ctx, "arr/__commits/f1.wrt")
	require.ErrorIs(t, err, ErrNotFound)

	// Delete of a missing object is not an error
	require.NoError(t, fs.Delete(ctx, "arr/__commits/f1.wrt"))
}

func TestMemFS(t *testing.T) {
	testFileSystem(t, NewMemFS())
}

func TestLocalFS(t *testing.T) {
	testFileSystem(t, NewLocalFS(t.TempDir()))
}

func TestMemFS_OpenSnapshot(t *testing.T) {
	ctx := context.Background()
	fs := NewMemFS()

	require.NoError(t, fs.Put(ctx, "obj", []byte("first")))

	f, err := fs.Open(ctx, "obj")
	require.NoError(t, err)
	defer f.Close()

	// A handle opened before an overwrite keeps the old content.
	require.NoError(t, fs.Put(ctx, "obj", []byte("second")))

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf))
}

func TestLocalFS_PutLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewLocalFS(dir)

	require.NoError(t, fs.Put(ctx, "a/b/data.bin", []byte("payload")))

	// The final object exists and no .tmp remnants are visible.
	_, err := os.Stat(filepath.Join(dir, "a", "b", "data.bin"))
	require.NoError(t, err)

	names, err := fs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/data.bin"}, names)
}

func TestLocalFS_OpenMissing(t *testing.T) {
	fs := NewLocalFS(t.TempDir())
	_, err := fs.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
