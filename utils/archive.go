// utils/archive.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	appconfig "coalition-score-engine/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads season close-out snapshots to S3-compatible object
// storage. A nil or unconfigured archiver disables archiving without error.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds the client for the configured bucket. Returns an
// archiver that reports Enabled() == false when no bucket is configured.
func NewArchiver(cfg appconfig.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled() {
		return &Archiver{}, nil
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint}, nil
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive storage config: %w", err)
	}

	return &Archiver{client: s3.NewFromConfig(awsCfg), bucket: cfg.Bucket}, nil
}

func (a *Archiver) Enabled() bool {
	return a != nil && a.client != nil
}

// UploadSnapshot stores one JSON snapshot under key and returns its object
// URL.
func (a *Archiver) UploadSnapshot(ctx context.Context, key string, data []byte) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("archive storage not configured")
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
