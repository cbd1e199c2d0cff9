// Package resultsink provides the Result Sink collaborator: a durable,
// at-least-once-safe store for a run's result object, addressed by an
// opaque reference string.
package resultsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink is the Result Sink collaborator.
type Sink interface {
	Put(ctx context.Context, runID string, result map[string]any) (resultRef string, err error)
}

// S3Config configures the S3-backed sink.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Sink stores result objects as JSON blobs in S3.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink loads AWS config and prepares a sink.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("resultsink: bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return &S3Sink{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Put uploads the result as a JSON object keyed by run id and returns its
// s3:// URI. Calling Put again for the same run id overwrites the object,
// satisfying the at-least-once-safe contract.
func (s *S3Sink) Put(ctx context.Context, runID string, result map[string]any) (string, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("resultsink: marshal result: %w", err)
	}

	key := s.objectKey(runID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: ptr("application/json"),
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Sink) objectKey(runID string) string {
	name := path.Join("runs", runID, "result.json")
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func ptr[T any](v T) *T {
	return &v
}
