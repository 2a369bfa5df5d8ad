package storage

import (
	"context"
	"fmt"

	"github.com/gili-labs/uigen/internal/config"
	"github.com/gili-labs/uigen/internal/storage/local"
	s3backend "github.com/gili-labs/uigen/internal/storage/s3"
)

// NewBackendFromConfig creates the export Backend selected by config.
func NewBackendFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.ExportBackend {
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	case "local":
		return local.New(local.Config{RootPath: cfg.LocalExportPath})
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.ExportBackend)
	}
}
