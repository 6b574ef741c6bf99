// Package mmap provides read-only memory-mapped file access for local
// fragment data. Mappings are owned by the caller and must be closed to
// release the underlying pages.
package mmap
