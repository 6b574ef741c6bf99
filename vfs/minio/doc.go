// Package minio provides a vfs.FileSystem implementation for MinIO and
// other S3-compatible object stores. It is useful for self-hosted
// deployments and for integration tests against a local MinIO container.
package minio
