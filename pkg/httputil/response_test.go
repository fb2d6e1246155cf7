package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantCode    *string
	}{
		{
			name:        "explicit http error",
			err:         NotFound("Role not found"),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Role not found",
		},
		{
			name:        "wrapped http error",
			err:         fmt.Errorf("lookup: %w", Forbidden("Not enough permissions")),
			wantStatus:  http.StatusForbidden,
			wantMessage: "Not enough permissions",
		},
		{
			name:        "unique violation",
			err:         fmt.Errorf("failed to insert: %w", &pq.Error{Code: "23505"}),
			wantStatus:  http.StatusConflict,
			wantMessage: "Data integrity error",
			wantCode:    strPtr(CodeIntegrity),
		},
		{
			name:        "unexpected error hides cause",
			err:         errors.New("dial tcp 10.0.0.1:5432: connection refused"),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "Internal server error",
			wantCode:    strPtr(CodeInternal),
		},
		{
			name:        "unprocessable",
			err:         Unprocessable(FieldError{Loc: []string{"body", "phone_number"}, Msg: "bad"}),
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: "Invalid submitted data",
			wantCode:    strPtr(CodeValidation),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/roles/123", nil)

			WriteError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.False(t, body.Status)
			assert.Equal(t, "/roles/123", body.Path)
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.Equal(t, tt.wantCode, body.ErrorCode)
			assert.NotZero(t, body.Timestamp)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

func TestWriteError_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &Error{
		Status:  http.StatusUnauthorized,
		Message: "Could not validate credentials",
		Headers: map[string]string{"WWW-Authenticate": "Bearer"},
	}

	WriteError(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil), err)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestWriteError_NullErrorCodeSerialized(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), BadRequest("nope"))

	assert.True(t, strings.Contains(rec.Body.String(), `"error_code":null`))
	assert.True(t, strings.Contains(rec.Body.String(), `"data":null`))
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCreated(rec, "User created", map[string]string{"id": "u1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body struct {
		Status  bool              `json:"status"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Status)
	assert.Equal(t, "User created", body.Message)
	assert.Equal(t, "u1", body.Data["id"])

	rec = httptest.NewRecorder()
	WriteSuccess(rec, nil)
	assert.Contains(t, rec.Body.String(), `"message":"Success"`)
}

func TestWriteNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteNoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func strPtr(s string) *string { return &s }
