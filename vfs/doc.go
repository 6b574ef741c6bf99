// Package vfs provides the storage abstraction for array data.
//
// FileSystem is the interface for reading and writing immutable objects
// (fragment data, commit markers, schema and metadata files).
// Implementations must be safe for concurrent use, and Put must be atomic:
// a reader either sees the whole object or none of it. The fragment commit
// protocol depends on that property.
//
// # Built-in Implementations
//
//   - MemFS: in-memory, for tests and mem:// URIs
//   - LocalFS: local filesystem with mmap reads and temp-file+rename writes
//   - s3.FS: Amazon S3 with range reads and managed uploads
//   - minio.FS: MinIO and other S3-compatible stores
package vfs
