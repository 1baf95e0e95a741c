// Package blob defines the port for presigned object storage access.
package blob

import (
	"context"
	"time"
)

// Presigner issues time-limited URLs for direct client uploads and downloads.
type Presigner interface {
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}
