package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3MetaKey maps a storage key to the object holding its metadata mapping.
// Kept out of the raw key space by the "=" separator, which never appears in
// gateway keys.
func s3MetaKey(key string) string {
	return key + "=meta"
}

// S3KV implements KV on any S3-compatible object store (AWS, MinIO, R2).
type S3KV struct {
	client *s3.Client
	bucket string
}

// NewS3KV creates a new S3-backed store.
func NewS3KV(cfg Config) (*S3KV, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys).
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.).
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3KV{client: client, bucket: cfg.S3Bucket}, nil
}

// GetRaw implements KV.GetRaw.
func (s *S3KV) GetRaw(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

// PutRaw implements KV.PutRaw.
func (s *S3KV) PutRaw(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// Remove implements KV.Remove by listing and batch-deleting everything at or
// below the prefix, including metadata objects.
func (s *S3KV) Remove(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 list %s: %w", prefix, err)
		}

		var objects []types.ObjectIdentifier
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key != prefix && !strings.HasPrefix(key, prefix+"/") && key != s3MetaKey(prefix) {
				continue
			}
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(objects) == 0 {
			continue
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3 delete %s: %w", prefix, err)
		}
	}
	return nil
}

// GetMeta implements KV.GetMeta.
func (s *S3KV) GetMeta(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.GetRaw(ctx, s3MetaKey(key))
	if err != nil {
		return nil, err
	}

	var meta map[string]string
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("s3 unmarshal meta %s: %w", key, err)
	}
	return meta, nil
}

// SetMeta implements KV.SetMeta with merge semantics.
func (s *S3KV) SetMeta(ctx context.Context, key string, meta map[string]string) error {
	existing, err := s.GetMeta(ctx, key)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing == nil {
		existing = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		existing[k] = v
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("s3 marshal meta %s: %w", key, err)
	}
	return s.PutRaw(ctx, s3MetaKey(key), data)
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
