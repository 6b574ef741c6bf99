package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrAlreadyCommitted is returned when a commit marker with the same name
// was already registered, which indicates a duplicate fragment write.
var ErrAlreadyCommitted = errors.New("commit marker already exists")

// CommitIndex records fragment commit markers in DynamoDB. S3 listings are
// only eventually consistent across writers, and a marker PUT followed by a
// LIST from another client may not observe it. The index provides
// read-after-write consistent commit listings plus duplicate detection via
// conditional writes.
//
// Table schema:
//   - Partition key: array_uri (string), the array path within the bucket
//   - Sort key: commit_name (string), e.g. "__commits/<id>.wrt"
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name soma-commits \
//	  --attribute-definitions AttributeName=array_uri,AttributeType=S AttributeName=commit_name,AttributeType=S \
//	  --key-schema AttributeName=array_uri,KeyType=HASH AttributeName=commit_name,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitIndex struct {
	client    DDBClient
	tableName string
}

// NewCommitIndex creates a commit index backed by the given DynamoDB table.
func NewCommitIndex(client DDBClient, tableName string) *CommitIndex {
	return &CommitIndex{
		client:    client,
		tableName: tableName,
	}
}

// Add registers a commit marker. It fails with ErrAlreadyCommitted when the
// marker already exists.
func (c *CommitIndex) Add(ctx context.Context, arrayURI, commitName string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"array_uri":   &types.AttributeValueMemberS{Value: arrayURI},
			"commit_name": &types.AttributeValueMemberS{Value: commitName},
		},
		ConditionExpression: aws.String("attribute_not_exists(commit_name)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrAlreadyCommitted
		}
		return fmt.Errorf("commit to DynamoDB: %w", err)
	}
	return nil
}

// Names returns all commit marker names registered for the array, sorted.
func (c *CommitIndex) Names(ctx context.Context, arrayURI string) ([]string, error) {
	var names []string
	var startKey map[string]types.AttributeValue

	for {
		resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("array_uri = :uri"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uri": &types.AttributeValueMemberS{Value: arrayURI},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query DynamoDB: %w", err)
		}

		for _, item := range resp.Items {
			attr, ok := item["commit_name"].(*types.AttributeValueMemberS)
			if !ok {
				return nil, errors.New("invalid commit_name attribute in DynamoDB")
			}
			names = append(names, attr.Value)
		}

		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}

	sort.Strings(names)
	return names, nil
}

// Remove unregisters a commit marker. Removing a missing marker is not an
// error.
func (c *CommitIndex) Remove(ctx context.Context, arrayURI, commitName string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"array_uri":   &types.AttributeValueMemberS{Value: arrayURI},
			"commit_name": &types.AttributeValueMemberS{Value: commitName},
		},
	})
	return err
}

const commitsDir = "__commits/"

// IndexedFS wraps a FileSystem so that commit markers are mirrored into a
// CommitIndex. Marker content still lives in the underlying store; the
// index is authoritative for listing.
type IndexedFS struct {
	base  vfs.FileSystem
	index *CommitIndex
}

// NewIndexedFS wraps base with the given commit index.
func NewIndexedFS(base vfs.FileSystem, index *CommitIndex) *IndexedFS {
	return &IndexedFS{base: base, index: index}
}

// splitCommit splits a name into the array URI and the commit member name.
// ok is false when the name is not under a commits directory.
func splitCommit(name string) (arrayURI, commitName string, ok bool) {
	idx := strings.Index(name, commitsDir)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSuffix(name[:idx], "/"), name[idx:], true
}

// Open opens an object for reading.
func (f *IndexedFS) Open(ctx context.Context, name string) (vfs.File, error) {
	return f.base.Open(ctx, name)
}

// Put writes an object. Commit markers are additionally registered in the
// index after the object itself is durable.
func (f *IndexedFS) Put(ctx context.Context, name string, data []byte) error {
	if err := f.base.Put(ctx, name, data); err != nil {
		return err
	}
	if arrayURI, commitName, ok := splitCommit(name); ok {
		return f.index.Add(ctx, arrayURI, commitName)
	}
	return nil
}

// Delete removes an object and, for commit markers, the index entry. The
// index entry goes first so that a failure in between leaves an unlisted
// object rather than a dangling listing.
func (f *IndexedFS) Delete(ctx context.Context, name string) error {
	if arrayURI, commitName, ok := splitCommit(name); ok {
		if err := f.index.Remove(ctx, arrayURI, commitName); err != nil {
			return err
		}
	}
	return f.base.Delete(ctx, name)
}

// List returns object names with the given prefix. Listings under a commits
// directory are served from the index.
func (f *IndexedFS) List(ctx context.Context, prefix string) ([]string, error) {
	arrayURI, commitPrefix, ok := splitCommit(prefix)
	if !ok {
		return f.base.List(ctx, prefix)
	}

	names, err := f.index.Names(ctx, arrayURI)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, commitName := range names {
		if !strings.HasPrefix(commitName, commitPrefix) {
			continue
		}
		if arrayURI == "" {
			out = append(out, commitName)
		} else {
			out = append(out, arrayURI+"/"+commitName)
		}
	}
	return out, nil
}
