// Package objectstore configures the S3-compatible blob backend.
//
// The pipeline uses three buckets: input (caller uploads), work
// (intermediate stage artifacts), and output (final artifacts served to
// reports and operators).
package objectstore

import (
	"errors"
	"strings"

	"github.com/packlens-labs/packlens-go/internal/platform/env"
)

type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	BucketInput  string
	BucketWork   string
	BucketOutput string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("PACKLENS_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:     env.String("PACKLENS_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:    env.String("PACKLENS_MINIO_ACCESS_KEY", "packlens"),
		SecretKey:    env.String("PACKLENS_MINIO_SECRET_KEY", "packlensminio"),
		Region:       env.String("PACKLENS_MINIO_REGION", "us-east-1"),
		UseSSL:       useSSL,
		BucketInput:  env.String("PACKLENS_MINIO_BUCKET_INPUT", "input"),
		BucketWork:   env.String("PACKLENS_MINIO_BUCKET_WORK", "work"),
		BucketOutput: env.String("PACKLENS_MINIO_BUCKET_OUTPUT", "output"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("endpoint must be host:port without scheme")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketInput) == "" {
		return errors.New("input bucket is required")
	}
	if strings.TrimSpace(c.BucketWork) == "" {
		return errors.New("work bucket is required")
	}
	if strings.TrimSpace(c.BucketOutput) == "" {
		return errors.New("output bucket is required")
	}
	return nil
}

// Buckets returns all configured bucket names in input, work, output order.
func (c Config) Buckets() []string {
	return []string{c.BucketInput, c.BucketWork, c.BucketOutput}
}
