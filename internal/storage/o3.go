// Package storage keeps model artifacts in Akave O3 or any other
// S3-compatible object store.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/ml"
)

const artifactContentType = "application/zstd"

// O3ArtifactStore is an ml.ArtifactStore holding the current model under a
// single object key.
type O3ArtifactStore struct {
	client *s3.Client
	bucket string
	key    string
}

// NewO3ArtifactStore builds an S3-compatible client for cfg. Endpoint and
// bucket are required.
func NewO3ArtifactStore(cfg config.O3Config, key string) (*O3ArtifactStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("o3: endpoint and bucket are required")
	}
	if key == "" {
		return nil, errors.New("o3: object key is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
		// S3-compatible gateways do not all accept the newer default checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &O3ArtifactStore{client: client, bucket: cfg.Bucket, key: key}, nil
}

// EnsureBucket creates the bucket if it does not exist (HeadBucket fails → CreateBucket).
func (s *O3ArtifactStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if createErr != nil {
		switch apiErrorCode(createErr) {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return fmt.Errorf("o3: create bucket %s: %w", s.bucket, createErr)
	}
	return nil
}

// Load downloads the artifact, or returns ml.ErrArtifactNotFound.
func (s *O3ArtifactStore) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		switch apiErrorCode(err) {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return nil, ml.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("o3: get %s: %w", s.key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Save uploads data, replacing the previous artifact.
func (s *O3ArtifactStore) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(artifactContentType),
	})
	if err != nil {
		return fmt.Errorf("o3: put %s: %w", s.key, err)
	}
	return nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
