package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archiver stores raw provider payloads for audits and replays.
type Archiver interface {
	Archive(ctx context.Context, provider, eventID string, payload []byte) error
}

// NopArchiver is used when archiving is disabled.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, string, string, []byte) error { return nil }

// S3Archiver writes payloads to an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	config *Config
	now    func() time.Time
}

// NewS3Archiver creates the S3 client and checks that the bucket is reachable.
func NewS3Archiver(ctx context.Context, cfg *Config) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[Archive] archiving webhook payloads to bucket %s", cfg.BucketName)
	return &S3Archiver{client: client, config: cfg, now: time.Now}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, provider, eventID string, payload []byte) error {
	key := a.config.ObjectKey(provider, eventID, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata: map[string]string{
			"provider":      provider,
			"upload-source": "kassenwart-webhook",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

// NewFromEnv returns an S3 archiver when enabled and a NopArchiver otherwise.
func NewFromEnv(ctx context.Context) (Archiver, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return NopArchiver{}, nil
	}
	return NewS3Archiver(ctx, cfg)
}
