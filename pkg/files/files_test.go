package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/pagination"
)

const (
	ownerID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	fileID  = "3f2b8c4e-1d5a-4f6b-9c8d-0e1f2a3b4c5d"
)

var fileCols = []string{"id", "user_id", "filename", "original_filename", "content_type", "size",
	"storage_provider", "storage_key", "created_datetime", "updated_datetime"}

type fakeBackend struct {
	mu        sync.Mutex
	name      string
	objects   map[string][]byte
	uploadErr error
	deleteErr error
	urlErr    error
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{name: name, objects: map[string][]byte{}}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Upload(_ context.Context, key, _, _ string, body io.Reader, _ int64) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeBackend) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBackend) DownloadURL(_ context.Context, key string) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://files.example.com/" + key, nil
}

func (f *fakeBackend) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func newTestService(t *testing.T, backend Backend, metrics *observability.Metrics) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(NewStore(db), backend, metrics), mock
}

func expectFile(mock sqlmock.Sqlmock, provider, key string) {
	now := time.Now()
	mock.ExpectQuery("FROM files WHERE id = \\$1 AND user_id = \\$2").WithArgs(fileID, ownerID).
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow(fileID, ownerID, key, "report.pdf", "application/pdf", 42, provider, key, now, now))
}

func expectNoFile(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM files WHERE id = \\$1 AND user_id = \\$2").WithArgs(fileID, ownerID).
		WillReturnRows(sqlmock.NewRows(fileCols))
}

func TestStoredName(t *testing.T) {
	tests := []struct {
		name     string
		original string
		wantExt  string
	}{
		{name: "extension kept", original: "report.pdf", wantExt: ".pdf"},
		{name: "extension lowercased", original: "Photo.JPG", wantExt: ".jpg"},
		{name: "last extension only", original: "backup.tar.gz", wantExt: ".gz"},
		{name: "no extension", original: "README", wantExt: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StoredName(tt.original)
			base := strings.TrimSuffix(got, tt.wantExt)
			assert.Len(t, base, 36)
			assert.True(t, strings.HasSuffix(got, tt.wantExt))
		})
	}
}

func TestService_SanitizeFilename(t *testing.T) {
	svc, _ := newTestService(t, newFakeBackend("s3"), nil)

	tests := []struct {
		input string
		want  string
	}{
		{input: "report.pdf", want: "report.pdf"},
		{input: "../../etc/passwd", want: "passwd"},
		{input: `C:\Users\jane\notes.txt`, want: "notes.txt"},
		{input: "<b>holiday</b>.png", want: "holiday.png"},
		{input: "", want: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.SanitizeFilename(tt.input))
		})
	}
}

func TestService_Upload(t *testing.T) {
	backend := newFakeBackend("s3")
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, mock := newTestService(t, backend, metrics)

	mock.ExpectExec("INSERT INTO files").
		WithArgs(sqlmock.AnyArg(), ownerID, sqlmock.AnyArg(), "report.pdf", "application/pdf", int64(5),
			"s3", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	f, err := svc.Upload(context.Background(), ownerID, Upload{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Body:        strings.NewReader("hello"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(f.Filename, ".pdf"))
	assert.Equal(t, f.Filename, f.StorageKey)
	assert.Equal(t, []byte("hello"), backend.objects[f.StorageKey])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FileUploadsTotal.WithLabelValues("s3", "success")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_UploadRemovesObjectWhenInsertFails(t *testing.T) {
	backend := newFakeBackend("s3")
	svc, mock := newTestService(t, backend, nil)

	mock.ExpectExec("INSERT INTO files").WillReturnError(errors.New("connection reset"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Upload(ctx, ownerID, Upload{Filename: "a.txt", Size: 1, Body: strings.NewReader("a")})
	cancel()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return backend.count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestService_UploadFailures(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeBackend("s3"), nil)
		_, err := svc.Upload(context.Background(), ownerID, Upload{Filename: "a.txt", Body: strings.NewReader("")})
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("backend error counted", func(t *testing.T) {
		backend := newFakeBackend("s3")
		backend.uploadErr = errors.New("access denied")
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		svc, _ := newTestService(t, backend, metrics)

		_, err := svc.Upload(context.Background(), ownerID, Upload{Filename: "a.txt", Size: 1, Body: strings.NewReader("a")})
		assert.Error(t, err)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FileUploadsTotal.WithLabelValues("s3", "failure")))
	})
}

func TestService_DownloadURL(t *testing.T) {
	t.Run("owned file", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeBackend("s3"), nil)
		expectFile(mock, "s3", "abc.pdf")

		url, err := svc.DownloadURL(context.Background(), fileID, ownerID)
		require.NoError(t, err)
		assert.Equal(t, "https://files.example.com/abc.pdf", url)
	})

	t.Run("not owned", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeBackend("s3"), nil)
		expectNoFile(mock)

		_, err := svc.DownloadURL(context.Background(), fileID, ownerID)
		assert.ErrorIs(t, err, ErrDownloadUnavailable)
	})

	t.Run("backend failure", func(t *testing.T) {
		backend := newFakeBackend("s3")
		backend.urlErr = errors.New("expired credentials")
		svc, mock := newTestService(t, backend, nil)
		expectFile(mock, "s3", "abc.pdf")

		_, err := svc.DownloadURL(context.Background(), fileID, ownerID)
		assert.ErrorIs(t, err, ErrDownloadUnavailable)
	})

	t.Run("provider no longer configured", func(t *testing.T) {
		svc, mock := newTestService(t, newFakeBackend("s3"), nil)
		expectFile(mock, "google_drive", "1AbCdEf")

		_, err := svc.DownloadURL(context.Background(), fileID, ownerID)
		assert.ErrorIs(t, err, ErrDownloadUnavailable)
	})
}

func TestService_DownloadURLFromPreviousProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewService(NewStore(db), newFakeBackend("s3"), nil, newFakeBackend("google_drive"))

	expectFile(mock, "google_drive", "1AbCdEf")
	url, err := svc.DownloadURL(context.Background(), fileID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/1AbCdEf", url)
}

func expectPurgeableFiles(mock sqlmock.Sqlmock, cutoff time.Time, rows ...[2]string) {
	now := time.Now()
	result := sqlmock.NewRows(fileCols)
	for i, r := range rows {
		id := []string{fileID, "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d", "0b1c2d3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e"}[i]
		result.AddRow(id, ownerID, r[1], "report.pdf", "application/pdf", 42, r[0], r[1], now, now)
	}
	mock.ExpectQuery("FROM files\\s+WHERE user_id IN \\(SELECT id FROM users WHERE deleted_datetime IS NOT NULL").
		WithArgs(cutoff).WillReturnRows(result)
}

func TestService_PurgeDeletedOwners(t *testing.T) {
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	t.Run("objects removed from every provider", func(t *testing.T) {
		s3 := newFakeBackend("s3")
		gdrive := newFakeBackend("google_drive")
		s3.objects["a.pdf"] = []byte("a")
		s3.objects["keep.pdf"] = []byte("k")
		gdrive.objects["1AbC"] = []byte("d")

		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		svc := NewService(NewStore(db), s3, nil, gdrive)

		expectPurgeableFiles(mock, cutoff,
			[2]string{"s3", "a.pdf"}, [2]string{"google_drive", "1AbC"}, [2]string{"azure", "blob-1"})

		n, err := svc.PurgeDeletedOwners(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, 1, s3.count(), "other users' objects stay")
		assert.Zero(t, gdrive.count())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("backend failure aborts", func(t *testing.T) {
		s3 := newFakeBackend("s3")
		s3.deleteErr = errors.New("access denied")
		svc, mock := newTestService(t, s3, nil)

		expectPurgeableFiles(mock, cutoff, [2]string{"s3", "a.pdf"})

		_, err := svc.PurgeDeletedOwners(context.Background(), cutoff)
		assert.ErrorContains(t, err, "access denied")
	})

	t.Run("already gone counts as removed", func(t *testing.T) {
		s3 := newFakeBackend("s3")
		s3.deleteErr = ErrObjectNotFound
		svc, mock := newTestService(t, s3, nil)

		expectPurgeableFiles(mock, cutoff, [2]string{"s3", "a.pdf"})

		n, err := svc.PurgeDeletedOwners(context.Background(), cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestNewBackends(t *testing.T) {
	base := config.StorageConfig{
		DefaultProvider: config.ProviderS3,
		S3Bucket:        "warden",
		S3Region:        "us-east-1",
		S3AccessKey:     "key",
		S3SecretKey:     "secret",
	}

	primary, extra, err := NewBackends(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, "s3", primary.Name())
	assert.Empty(t, extra)

	withDrive := base
	withDrive.DriveCredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	_, _, err = NewBackends(context.Background(), withDrive)
	assert.ErrorContains(t, err, "google_drive")
}

func TestService_DeleteRemovesRowWhenBackendFails(t *testing.T) {
	backend := newFakeBackend("s3")
	backend.deleteErr = errors.New("timeout")
	svc, mock := newTestService(t, backend, nil)

	expectFile(mock, "s3", "abc.pdf")
	mock.ExpectExec("DELETE FROM files WHERE id = \\$1 AND user_id = \\$2").WithArgs(fileID, ownerID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Delete(context.Background(), fileID, ownerID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_DeleteNotFound(t *testing.T) {
	svc, mock := newTestService(t, newFakeBackend("s3"), nil)
	expectNoFile(mock)
	assert.ErrorIs(t, svc.Delete(context.Background(), fileID, ownerID), ErrFileNotFound)
}

func TestStore_ListForUserKeyset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("WHERE user_id = \\$1 ORDER BY created_datetime DESC, id DESC LIMIT 11").
		WithArgs(ownerID).
		WillReturnRows(sqlmock.NewRows(fileCols))

	svc := NewService(NewStore(db), newFakeBackend("s3"), nil)
	page, err := svc.List(context.Background(), ownerID, listParams(t, "/files"))
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNext)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newRouter(svc *Service, maxBytes int64) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(svc, maxBytes).RegisterRoutes(router)
	return router
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(formField, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandlers_Upload(t *testing.T) {
	backend := newFakeBackend("s3")
	svc, mock := newTestService(t, backend, nil)
	router := newRouter(svc, 1<<20)

	mock.ExpectExec("INSERT INTO files").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM files WHERE id = \\$1 AND user_id = \\$2").
		WillReturnRows(sqlmock.NewRows(fileCols).
			AddRow(fileID, ownerID, "k.txt", "notes.txt", "application/octet-stream", 5, "s3", "k.txt", time.Now(), time.Now()))

	body, contentType := multipartBody(t, "notes.txt", "hello")
	req := httptest.NewRequest(http.MethodPost, "/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req = middleware.WithUser(req, &auth.User{ID: ownerID})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Message string         `json:"message"`
		Data    UploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "File uploaded successfully", resp.Message)
	assert.Equal(t, "notes.txt", resp.Data.Filename)
	assert.Equal(t, int64(5), resp.Data.Size)
	assert.Equal(t, "https://files.example.com/k.txt", resp.Data.DownloadURL)
}

func TestHandlers_UploadErrors(t *testing.T) {
	tests := []struct {
		name       string
		maxBytes   int64
		content    string
		field      string
		wantStatus int
	}{
		{name: "too large", maxBytes: 64, content: strings.Repeat("x", 4096), field: formField, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "missing field", maxBytes: 1 << 20, content: "hello", field: "attachment", wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, newFakeBackend("s3"), nil)
			router := newRouter(svc, tt.maxBytes)

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile(tt.field, "a.txt")
			require.NoError(t, err)
			_, _ = part.Write([]byte(tt.content))
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/files/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req = middleware.WithUser(req, &auth.User{ID: ownerID})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandlers_GetNotOwned(t *testing.T) {
	svc, mock := newTestService(t, newFakeBackend("s3"), nil)
	router := newRouter(svc, 0)
	expectNoFile(mock)

	req := middleware.WithUser(httptest.NewRequest(http.MethodGet, "/files/"+fileID, nil), &auth.User{ID: ownerID})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "File not found", body["message"])
}

func TestHandlers_Delete(t *testing.T) {
	svc, mock := newTestService(t, newFakeBackend("s3"), nil)
	router := newRouter(svc, 0)
	expectFile(mock, "s3", "abc.pdf")
	mock.ExpectExec("DELETE FROM files").WillReturnResult(sqlmock.NewResult(0, 1))

	req := middleware.WithUser(httptest.NewRequest(http.MethodDelete, "/files/"+fileID, nil), &auth.User{ID: ownerID})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func newDriveTestBackend(t *testing.T, handler http.HandlerFunc) *DriveBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewDriveBackendWithService(svc, "folder-1")
}

func TestDriveBackend_DownloadURL(t *testing.T) {
	var shared bool
	backend := newDriveTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files/1AbC/permissions":
			var perm drive.Permission
			_ = json.NewDecoder(r.Body).Decode(&perm)
			shared = perm.Type == "anyone" && perm.Role == "reader"
			_, _ = w.Write([]byte(`{"id":"anyoneWithLink"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/files/1AbC":
			_, _ = w.Write([]byte(`{"webViewLink":"https://drive.google.com/file/d/1AbC/view"}`))
		default:
			http.NotFound(w, r)
		}
	})

	url, err := backend.DownloadURL(context.Background(), "1AbC")
	require.NoError(t, err)
	assert.True(t, shared)
	assert.Equal(t, "https://drive.google.com/file/d/1AbC/view", url)
}

func TestDriveBackend_NotFound(t *testing.T) {
	backend := newDriveTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found: missing"}}`))
	})

	exists, err := backend.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, backend.Delete(context.Background(), "missing"), ErrObjectNotFound)

	_, err = backend.DownloadURL(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func listParams(t *testing.T, target string) pagination.CursorParams {
	t.Helper()
	p, err := pagination.ParseCursorParams(httptest.NewRequest(http.MethodGet, target, nil), Columns, "created_datetime")
	require.NoError(t, err)
	return p
}
