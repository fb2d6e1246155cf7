package files

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/pagination"
)

// formField is the multipart field carrying the upload
const formField = "file"

// Handlers serves the /files endpoints
type Handlers struct {
	service  *Service
	maxBytes int64
}

// NewHandlers creates file handlers. maxBytes caps the multipart body.
func NewHandlers(service *Service, maxBytes int64) *Handlers {
	return &Handlers{service: service, maxBytes: maxBytes}
}

// RegisterRoutes registers /files on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/files/upload", h.Upload).Methods("POST")
	router.HandleFunc("/files", h.List).Methods("GET")
	router.HandleFunc("/files/{id}", h.Get).Methods("GET")
	router.HandleFunc("/files/{id}", h.Delete).Methods("DELETE")
	router.HandleFunc("/files/{id}/download", h.Download).Methods("GET")
}

// Upload accepts a multipart upload in the "file" field
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, r, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		httputil.WriteError(w, r, httputil.BadRequest("Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formField)
	if err != nil {
		httputil.WriteError(w, r, httputil.Unprocessable(httputil.FieldError{
			Loc:  []string{"body", formField},
			Msg:  "Field required",
			Type: "missing",
		}))
		return
	}
	defer file.Close()

	user := middleware.CurrentUser(r)
	f, err := h.service.Upload(r.Context(), user.ID, Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusCreated, "File uploaded successfully", h.service.UploadResponse(r.Context(), f))
}

// List returns a raw cursor page of the caller's files
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParseCursorParams(r, Columns, "created_datetime")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	page, err := h.service.List(r.Context(), middleware.CurrentUser(r).ID, params)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// Get returns file metadata
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), id, middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved file details", f)
}

// Download returns a download URL
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	url, err := h.service.DownloadURL(r.Context(), id, middleware.CurrentUser(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, "Retrieved download URL", url)
}

// Delete removes a file
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, middleware.CurrentUser(r).ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
