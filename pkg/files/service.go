package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/pagination"
)

var (
	ErrFileNotFound        = httputil.NotFound("File not found")
	ErrDownloadUnavailable = httputil.NotFound("File not found or download URL unavailable")
	ErrEmptyFile           = httputil.BadRequest("Uploaded file is empty")
)

const cleanupTimeout = 30 * time.Second

// UploadResponse is returned by POST /files/upload
type UploadResponse struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// Upload describes one incoming file
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service manages uploads. New files go to the default backend; existing
// rows are served by whichever backend their storage_provider names.
type Service struct {
	store    *Store
	backends map[string]Backend
	primary  Backend
	metrics  *observability.Metrics
	policy   *bluemonday.Policy
}

// NewService creates a file service. primary receives uploads; extra
// backends stay reachable for files stored before a provider switch.
func NewService(store *Store, primary Backend, metrics *observability.Metrics, extra ...Backend) *Service {
	s := &Service{
		store:    store,
		backends: map[string]Backend{primary.Name(): primary},
		primary:  primary,
		metrics:  metrics,
		policy:   bluemonday.StrictPolicy(),
	}
	for _, b := range extra {
		if _, ok := s.backends[b.Name()]; !ok {
			s.backends[b.Name()] = b
		}
	}
	return s
}

// SanitizeFilename drops any path and markup from a client supplied name
func (s *Service) SanitizeFilename(name string) string {
	name = s.policy.Sanitize(name)
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

// StoredName returns "<uuid>.<ext>", or a bare uuid when original has no
// extension
func StoredName(original string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(original)), ".")
	if ext == "" {
		return uuid.NewString()
	}
	return uuid.NewString() + "." + ext
}

// Upload stores the contents and records the metadata
func (s *Service) Upload(ctx context.Context, userID string, up Upload) (*File, error) {
	if up.Size <= 0 {
		return nil, ErrEmptyFile
	}
	original := s.SanitizeFilename(up.Filename)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	f := &File{
		UserID:           userID,
		Filename:         StoredName(original),
		OriginalFilename: original,
		ContentType:      contentType,
		Size:             up.Size,
		StorageProvider:  s.primary.Name(),
	}

	key, err := s.primary.Upload(ctx, f.Filename, original, contentType, up.Body, up.Size)
	s.metrics.RecordUpload(s.primary.Name(), up.Size, err)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	f.StorageKey = key

	if err := s.store.Insert(ctx, f); err != nil {
		// The insert may have failed because the client went away, so the
		// cleanup must not share the request's cancellation.
		logger := observability.FromContext(ctx).WithField("storage_key", key)
		async.SafeGo(context.WithoutCancel(ctx), logger, cleanupTimeout, "remove orphaned object",
			func(ctx context.Context) error { return s.primary.Delete(ctx, key) })
		return nil, err
	}
	return f, nil
}

// UploadResponse builds the upload response. A missing download URL is
// reported as an empty string rather than failing the upload.
func (s *Service) UploadResponse(ctx context.Context, f *File) UploadResponse {
	url, err := s.DownloadURL(ctx, f.ID, f.UserID)
	if err != nil {
		url = ""
	}
	return UploadResponse{FileID: f.ID, Filename: f.OriginalFilename, Size: f.Size, DownloadURL: url}
}

// Get returns a file owned by userID
func (s *Service) Get(ctx context.Context, id, userID string) (*File, error) {
	return s.store.GetForUser(ctx, id, userID)
}

// List returns userID's files, newest first by default
func (s *Service) List(ctx context.Context, userID string, p pagination.CursorParams) (pagination.Page[File], error) {
	rows, err := s.store.ListForUser(ctx, userID, p)
	if err != nil {
		return pagination.Page[File]{}, err
	}
	return pagination.NewPage(rows, p, func(f File) (interface{}, string) {
		switch p.OrderBy {
		case "filename":
			return f.OriginalFilename, f.ID
		case "size":
			return f.Size, f.ID
		default:
			return pagination.TimeValue(f.CreatedDatetime), f.ID
		}
	}), nil
}

// DownloadURL returns a link to the file contents
func (s *Service) DownloadURL(ctx context.Context, id, userID string) (string, error) {
	f, err := s.store.GetForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return "", ErrDownloadUnavailable
		}
		return "", err
	}

	backend, ok := s.backends[f.StorageProvider]
	if !ok {
		return "", ErrDownloadUnavailable
	}
	url, err := backend.DownloadURL(ctx, f.StorageKey)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("file_id", f.ID).Warn("Failed to get download URL")
		return "", ErrDownloadUnavailable
	}
	return url, nil
}

// Delete removes the object and its row. A backend failure is logged and
// the row is removed regardless.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	f, err := s.store.GetForUser(ctx, id, userID)
	if err != nil {
		return err
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"file_id":     f.ID,
		"storage_key": f.StorageKey,
	})
	if backend, ok := s.backends[f.StorageProvider]; !ok {
		logger.Warnf("No backend configured for provider %s, removing record only", f.StorageProvider)
	} else if err := backend.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		logger.WithError(err).Warn("Failed to delete file from storage")
	}

	return s.store.Delete(ctx, f.ID, userID)
}

// PurgeDeletedOwners removes the stored objects of users soft-deleted before
// cutoff so the user purge does not orphan them. Rows are left to the purge.
// A backend failure aborts the run; objects already gone count as removed,
// so the next run picks up where this one stopped.
func (s *Service) PurgeDeletedOwners(ctx context.Context, cutoff time.Time) (int64, error) {
	owned, err := s.store.OwnedByPurgeableUsers(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	logger := observability.FromContext(ctx)
	var removed int64
	for _, f := range owned {
		backend, ok := s.backends[f.StorageProvider]
		if !ok {
			logger.WithField("file_id", f.ID).Warnf("No backend configured for provider %s, leaving object", f.StorageProvider)
			continue
		}
		if err := backend.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return removed, fmt.Errorf("failed to delete %s object of file %s: %w", f.StorageProvider, f.ID, err)
		}
		removed++
	}
	return removed, nil
}
