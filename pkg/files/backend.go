package files

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/platinummonkey/warden/pkg/config"
)

// ErrObjectNotFound is returned by backends for keys they do not hold
var ErrObjectNotFound = errors.New("object not found")

// Backend stores file contents. The storage key it returns is opaque to
// callers and is what later Delete, DownloadURL and Exists calls take.
type Backend interface {
	Name() string
	Upload(ctx context.Context, key, filename, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, storageKey string) error
	DownloadURL(ctx context.Context, storageKey string) (string, error)
	Exists(ctx context.Context, storageKey string) (bool, error)
}

// NewBackend builds the backend named by cfg.DefaultProvider
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.DefaultProvider {
	case config.ProviderS3:
		return NewS3Backend(ctx, cfg)
	case config.ProviderGoogleDrive:
		return NewDriveBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.DefaultProvider)
	}
}

// NewBackends builds the default backend plus the other provider when it is
// configured too, so files stored before a provider switch stay reachable
func NewBackends(ctx context.Context, cfg config.StorageConfig) (Backend, []Backend, error) {
	primary, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var extra []Backend
	if cfg.DefaultProvider != config.ProviderS3 && cfg.S3Configured() {
		b, err := NewS3Backend(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		extra = append(extra, b)
	}
	if cfg.DefaultProvider != config.ProviderGoogleDrive && cfg.DriveConfigured() {
		b, err := NewDriveBackend(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize google_drive storage: %w", err)
		}
		extra = append(extra, b)
	}
	return primary, extra, nil
}
