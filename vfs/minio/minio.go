package minio

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/dudoslav/TileDB-SOMA/vfs"
	"github.com/minio/minio-go/v7"
)

// FS implements vfs.FileSystem for MinIO and S3-compatible storage.
type FS struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewFS creates a new MinIO file system. rootPrefix is prepended to all
// object names (e.g. "arrays/").
func NewFS(client *minio.Client, bucket, rootPrefix string) *FS {
	return &FS{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *FS) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens an object for reading.
func (s *FS) Open(ctx context.Context, name string) (vfs.File, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, vfs.ErrNotFound
		}
		return nil, err
	}

	return &minioFile{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   info.Size,
	}, nil
}

// Put atomically writes an object.
func (s *FS) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *FS) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}
		return err
	}
	return nil
}

// List returns the names of all objects with the given prefix, sorted.
func (s *FS) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

type minioFile struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

func (f *minioFile) Size() int64 {
	return f.size
}

func (f *minioFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}

	opts := minio.GetObjectOptions{}
	end := off + int64(len(p)) - 1
	if end >= f.size {
		end = f.size - 1
	}
	if err := opts.SetRange(off, end); err != nil {
		return 0, err
	}

	obj, err := f.client.GetObject(context.Background(), f.bucket, f.key, opts)
	if err != nil {
		return 0, err
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:end-off+1])
	if err == nil && int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, err
}

func (f *minioFile) Close() error {
	return nil
}
