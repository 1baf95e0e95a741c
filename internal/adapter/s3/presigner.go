// Package s3 implements the blob presigning port on S3-compatible storage.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/port/blob"
)

var _ blob.Presigner = (*Presigner)(nil)

// Presigner signs PUT and GET URLs for one bucket.
type Presigner struct {
	bucket  string
	presign *s3.PresignClient
}

// New builds a Presigner. Static keys are used when configured, otherwise
// the default AWS credential chain. A custom endpoint switches to path-style
// addressing for LocalStack and MinIO.
func New(ctx context.Context, cfg config.Storage) (*Presigner, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Presigner{bucket: cfg.Bucket, presign: s3.NewPresignClient(client)}, nil
}

// PresignUpload returns a URL accepting a single PUT of contentType.
func (p *Presigner) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignDownload returns a URL for a GET of key.
func (p *Presigner) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return req.URL, nil
}
