// Package s3 provides an S3 implementation of the vfs.FileSystem interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	fs := s3.NewFS(s3.NewFromConfig(cfg), "my-bucket", "arrays/")
//
// # Features
//
//   - Range reads for efficient partial fetches of fragment blocks
//   - Managed multipart uploads for large consolidated fragments
//   - Automatic pagination for listing
//   - Optional DynamoDB commit index for read-after-write consistent
//     fragment listings with concurrent writers
package s3
