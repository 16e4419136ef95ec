package export

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pulseworks/reviewpulse/pkg/config"
	"github.com/sirupsen/logrus"
)

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.S3ExportConfig
	client *s3.Client
}

// Compile-time interface check.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3ExportConfig,
) Uploader {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	client := s3.New(s3.Options{}, opts...)

	return &s3Uploader{
		log:    log.WithField("component", "s3-export"),
		cfg:    cfg,
		client: client,
	}
}

// Upload writes the archive to the configured bucket under the prefix.
func (u *s3Uploader) Upload(
	ctx context.Context, key string, data []byte,
) error {
	fullKey := key
	if u.cfg.Prefix != "" {
		fullKey = path.Join(u.cfg.Prefix, key)
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading archive to s3://%s/%s: %w",
			u.cfg.Bucket, fullKey, err)
	}

	u.log.WithField("key", fullKey).
		WithField("bytes", len(data)).
		Info("Archive uploaded")

	return nil
}
