package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// TestFS_Integration requires a running MinIO instance. Skip if not
// available.
func TestFS_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-soma"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	_, err = client.ListBuckets(ctx)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		require.NoError(t, err)
	}

	fs := NewFS(client, bucket, "test-prefix/")

	data := []byte("hello minio world")
	err = fs.Put(ctx, "arr/__commits/f1.wrt", data)
	require.NoError(t, err)

	f, err := fs.Open(ctx, "arr/__commits/f1.wrt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), f.Size())

	buf := make([]byte, len(data))
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)

	part := make([]byte, 5)
	_, err = f.ReadAt(part, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, f.Close())

	names, err := fs.List(ctx, "arr/")
	require.NoError(t, err)
	assert.Contains(t, names, "arr/__commits/f1.wrt")

	_, err = fs.Open(ctx, "arr/missing")
	require.ErrorIs(t, err, vfs.ErrNotFound)

	require.NoError(t, fs.Delete(ctx, "arr/__commits/f1.wrt"))
	require.NoError(t, fs.Delete(ctx, "arr/__commits/f1.wrt"))

	_, err = fs.Open(ctx, "arr/__commits/f1.wrt")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}
