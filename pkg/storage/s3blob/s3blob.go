// Package s3blob stores blobs in an S3-compatible object store, one object
// per key under a namespace prefix.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/storage"
)

// Params configures the S3 connection.
type Params struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// BlobStore keeps each blob as a separate object at <prefix>/<key>.
// S3 writes are already durable, so the session carries no flush hooks.
type BlobStore struct {
	storage.Session

	client *s3.Client
	bucket string
	prefix string
}

func NewClient(ctx context.Context, p Params) (*s3.Client, error) {
	if p.Bucket == "" {
		return nil, common.NewConfigurationError("s3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(p.Region),
		config.WithBaseEndpoint(p.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.AccessKey,
			p.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, common.NewStorageError("s3", "configure", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// New creates a BlobStore over an existing client. The prefix should encode
// the namespace so tenants never share keys.
func New(client *s3.Client, bucket, prefix string) *BlobStore {
	s := &BlobStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
	s.Session = storage.NewSession(storage.SessionHooks{})
	return s
}

// Fetcher reads raw objects for the file loader. It is not bound to a
// namespace session; blob URL keys name objects under the shared prefix
// directly.
type Fetcher struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewFetcher(client *s3.Client, bucket, prefix string) *Fetcher {
	return &Fetcher{client: client, bucket: bucket, prefix: prefix}
}

func (f *Fetcher) Get(ctx context.Context, key string) ([]byte, error) {
	if f.prefix != "" {
		key = f.prefix + "/" + key
	}
	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, common.NewStorageError("s3", "get", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, common.NewStorageError("s3", "get", err)
	}
	return data, nil
}

func (s *BlobStore) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return common.NewStorageError("s3", "put", err)
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.Require(storage.ModeQuery, storage.ModeInsert); err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, storage.ErrNotFound
		}
		return nil, common.NewStorageError("s3", "get", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, common.NewStorageError("s3", "get", err)
	}
	return data, nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.Require(storage.ModeInsert); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return common.NewStorageError("s3", "delete", err)
	}
	return nil
}

// Drop removes every object under the namespace prefix, paging through the
// listing until it is exhausted.
func (s *BlobStore) Drop(ctx context.Context) error {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return common.NewStorageError("s3", "drop", err)
		}
		if len(listOutput.Contents) == 0 {
			break
		}

		objects := make([]types.ObjectIdentifier, 0, len(listOutput.Contents))
		for _, obj := range listOutput.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return common.NewStorageError("s3", "drop", err)
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return nil
}
