package archive

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
)

// Config holds the raw webhook archive settings.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig reads the archive configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "webhooks"),
		Enabled:         env.GetBool("ARCHIVE_S3_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the webhook archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the webhook archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the webhook archive is enabled")
		}
	}
	return cfg, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds <prefix>/<provider>/YYYY/MM/DD/<event id>.json.
func (c *Config) ObjectKey(provider, eventID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.json",
		c.Prefix,
		unsafeKeyChars.ReplaceAllString(provider, "_"),
		at.Year(), int(at.Month()), at.Day(),
		unsafeKeyChars.ReplaceAllString(eventID, "_"),
	)
}
