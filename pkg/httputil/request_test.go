package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web"`
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantOK     bool
		wantFields []string
	}{
		{
			name:   "valid",
			body:   `{"email":"a@example.com","password":"longenough"}`,
			wantOK: true,
		},
		{
			name:       "invalid email and short password",
			body:       `{"email":"nope","password":"short"}`,
			wantFields: []string{"email", "password"},
		},
		{
			name:       "bad platform",
			body:       `{"email":"a@example.com","password":"longenough","platform":"blackberry"}`,
			wantFields: []string{"platform"},
		},
		{
			name: "malformed json",
			body: `{"email":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))

			var dest signupRequest
			ok := ParseJSONOrError(rec, req, &dest)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				return
			}

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			body := decodeError(t, rec)
			require.NotNil(t, body.ErrorCode)
			assert.Equal(t, CodeValidation, *body.ErrorCode)
			assert.Equal(t, "Invalid submitted data", body.Message)

			details, ok := body.Data.([]interface{})
			require.True(t, ok)
			var fields []string
			for _, d := range details {
				loc := d.(map[string]interface{})["loc"].([]interface{})
				fields = append(fields, loc[len(loc)-1].(string))
			}
			for _, f := range tt.wantFields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestParsePathUUIDOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "2c1b9a4e-6f3a-4b8e-9d55-0b7f1c2d3e4f"})

	id, ok := ParsePathUUIDOrError(httptest.NewRecorder(), req, "id")
	assert.True(t, ok)
	assert.Equal(t, "2c1b9a4e-6f3a-4b8e-9d55-0b7f1c2d3e4f", id)

	rec := httptest.NewRecorder()
	req = mux.SetURLVars(req, map[string]string{"id": "not-a-uuid"})
	_, ok = ParsePathUUIDOrError(rec, req, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=25&unread_only=true&bad=abc&order_by=email", nil)

	limit, err := ParseQueryInt(req, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)

	missing, err := ParseQueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, missing)

	_, err = ParseQueryInt(req, "bad", 1)
	assert.Error(t, err)

	unread, err := ParseQueryBool(req, "unread_only", false)
	require.NoError(t, err)
	assert.True(t, unread)

	_, err = ParseQueryBool(req, "bad", false)
	assert.Error(t, err)

	assert.Equal(t, "email", ParseQueryString(req, "order_by", "id"))
	assert.Equal(t, "forward", ParseQueryString(req, "direction", "forward"))
}

func TestParsePathString(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"token": "abc"})

	v, err := ParsePathString(req, "token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = ParsePathString(req, "other")
	assert.Error(t, err)
}
