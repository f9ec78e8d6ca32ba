package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds configuration for S3-compatible batch archival.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for DO Spaces / R2
	AccessKeyID     string
	SecretAccessKey string
}

// BatchArchiver keeps the raw payload of every ingested source batch in
// S3-compatible storage. The archive is the audit trail of exactly what
// each feed said on each run, independent of what reconciliation made of
// it.
type BatchArchiver struct {
	client *s3.Client
	bucket string
}

func NewBatchArchiver(ctx context.Context, cfg ArchiveConfig) (*BatchArchiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &BatchArchiver{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Archive stores one raw batch payload under source/date/timestamp.
func (a *BatchArchiver) Archive(ctx context.Context, source string, fetchedAt time.Time, contentType string, payload []byte) (string, error) {
	key := fmt.Sprintf("batches/%s/%s/%s.raw",
		source,
		fetchedAt.UTC().Format("2006-01-02"),
		fetchedAt.UTC().Format("150405"))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}
