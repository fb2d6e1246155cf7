package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/platinummonkey/warden/pkg/config"
)

// DriveBackend stores files in Google Drive using a service account. The
// storage key is the Drive file id.
type DriveBackend struct {
	svc      *drive.Service
	folderID string
}

// NewDriveBackend reads the service account JSON and opens a Drive client
func NewDriveBackend(ctx context.Context, cfg config.StorageConfig) (*DriveBackend, error) {
	data, err := os.ReadFile(cfg.DriveCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read Drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Drive credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return NewDriveBackendWithService(svc, cfg.DriveFolderID), nil
}

// NewDriveBackendWithService wraps an existing client. folderID may be
// empty, in which case files land in the service account's root.
func NewDriveBackendWithService(svc *drive.Service, folderID string) *DriveBackend {
	return &DriveBackend{svc: svc, folderID: folderID}
}

// Name returns the provider name stored on file rows
func (b *DriveBackend) Name() string {
	return config.ProviderGoogleDrive
}

// Upload creates the file and returns its Drive id. key is used as the
// Drive file name.
func (b *DriveBackend) Upload(ctx context.Context, key, filename, contentType string, body io.Reader, _ int64) (string, error) {
	meta := &drive.File{
		Name:        key,
		Description: filename,
		MimeType:    contentType,
	}
	if b.folderID != "" {
		meta.Parents = []string{b.folderID}
	}

	f, err := b.svc.Files.Create(meta).
		Media(body, googleapi.ContentType(contentType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload to Drive: %w", err)
	}
	return f.Id, nil
}

// Delete removes the Drive file
func (b *DriveBackend) Delete(ctx context.Context, storageKey string) error {
	err := b.svc.Files.Delete(storageKey).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		if isDriveNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete Drive file: %w", err)
	}
	return nil
}

// DownloadURL shares the file with anyone holding the link and returns
// its webViewLink
func (b *DriveBackend) DownloadURL(ctx context.Context, storageKey string) (string, error) {
	_, err := b.svc.Permissions.Create(storageKey, &drive.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		if isDriveNotFound(err) {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to share Drive file: %w", err)
	}

	f, err := b.svc.Files.Get(storageKey).Fields("webViewLink").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read Drive link: %w", err)
	}
	if f.WebViewLink == "" {
		return "", fmt.Errorf("drive file %s has no web link", storageKey)
	}
	return f.WebViewLink, nil
}

// Exists reports whether the Drive file is present
func (b *DriveBackend) Exists(ctx context.Context, storageKey string) (bool, error) {
	_, err := b.svc.Files.Get(storageKey).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		if isDriveNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up Drive file: %w", err)
	}
	return true, nil
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
