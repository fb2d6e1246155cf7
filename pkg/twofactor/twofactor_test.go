package twofactor

import (
	"context"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/middleware"
)

const (
	testUserID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

var recordCols = []string{"id", "user_id", "secret_key", "is_enabled", "backup_codes", "last_used_datetime", "created_datetime", "updated_datetime"}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(NewStore(db), auth.NewHasher(bcrypt.MinCost), "Warden", nil), mock
}

func expectRecord(mock sqlmock.Sqlmock, enabled bool, codes string) {
	now := time.Now()
	mock.ExpectQuery("FROM two_factor_auth WHERE user_id = \\$1").WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow("tf1", testUserID, testSecret, enabled, []byte(codes), nil, now, now))
}

func expectNoRecord(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM two_factor_auth WHERE user_id = \\$1").WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(recordCols))
}

func testUser(t *testing.T) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.User{ID: testUserID, Email: "jane@example.com", PasswordHash: string(hash), IsActive: true}
}

// captured records the value a query argument was bound to
type captured struct {
	value driver.Value
}

func (c *captured) Match(v driver.Value) bool {
	c.value = v
	return true
}

func currentCode(t *testing.T) string {
	code, err := totp.GenerateCode(testSecret, time.Now().UTC())
	require.NoError(t, err)
	return code
}

func TestService_Setup(t *testing.T) {
	svc, mock := newTestService(t)

	expectNoRecord(mock)
	mock.ExpectQuery("INSERT INTO two_factor_auth").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_datetime"}).AddRow("tf1", time.Now()))

	resp, err := svc.Setup(context.Background(), &auth.User{ID: testUserID, Email: "jane@example.com"}, "")
	require.NoError(t, err)

	assert.Len(t, resp.SecretKey, 32)
	require.Len(t, resp.BackupCodes, backupCodeCount)
	for _, c := range resp.BackupCodes {
		assert.Len(t, c, 8)
	}

	require.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.QRCode, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Enable(t *testing.T) {
	t.Run("not set up", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectNoRecord(mock)
		assert.ErrorIs(t, svc.Enable(context.Background(), testUserID, "123456"), ErrNotSetUp)
	})

	t.Run("wrong code", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, false, `[]`)
		assert.ErrorIs(t, svc.Enable(context.Background(), testUserID, "000000x"), ErrInvalidCode)
	})

	t.Run("valid code", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, false, `[]`)
		mock.ExpectExec("UPDATE two_factor_auth SET is_enabled").WithArgs(testUserID, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Enable(context.Background(), testUserID, currentCode(t)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_CheckBackupCode(t *testing.T) {
	svc, mock := newTestService(t)

	expectRecord(mock, true, `["ABCDEFGH"]`)
	mock.ExpectExec("backup_codes - \\$2::text").WithArgs(testUserID, "ABCDEFGH").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := svc.Check(context.Background(), testUserID, "ABCDEFGH")
	require.NoError(t, err)
	assert.True(t, ok)

	// second use finds nothing to remove
	expectRecord(mock, true, `[]`)
	mock.ExpectExec("backup_codes - \\$2::text").WithArgs(testUserID, "ABCDEFGH").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = svc.Check(context.Background(), testUserID, "ABCDEFGH")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_CheckDisabledRecord(t *testing.T) {
	svc, mock := newTestService(t)
	expectRecord(mock, false, `["ABCDEFGH"]`)

	ok, err := svc.Check(context.Background(), testUserID, "ABCDEFGH")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Disable(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &auth.User{ID: testUserID, PasswordHash: string(hash)}

	t.Run("not enabled", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, false, `[]`)
		assert.ErrorIs(t, svc.Disable(context.Background(), user, "password1", "123456"), ErrNotEnabled)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, true, `[]`)
		assert.ErrorIs(t, svc.Disable(context.Background(), user, "nope", "123456"), ErrInvalidPassword)
	})

	t.Run("valid totp", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, true, `[]`)
		mock.ExpectExec("SET last_used_datetime = NOW\\(\\)").WithArgs(testUserID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE two_factor_auth SET is_enabled").WithArgs(testUserID, false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, svc.Disable(context.Background(), user, "password1", currentCode(t)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Status(t *testing.T) {
	svc, mock := newTestService(t)

	expectNoRecord(mock)
	st, err := svc.Status(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, st.IsEnabled)
	assert.Zero(t, st.RemainingBackupCodes)

	expectRecord(mock, true, `["A","B","C"]`)
	st, err = svc.Status(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, st.IsEnabled)
	assert.Equal(t, 3, st.RemainingBackupCodes)
	assert.NotNil(t, st.CreatedDatetime)
}

func TestService_SetupOverEnabledRecord(t *testing.T) {
	t.Run("without password", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, true, `["ABCDEFGH"]`)

		_, err := svc.Setup(context.Background(), testUser(t), "")
		assert.ErrorIs(t, err, ErrInvalidPassword)
		assert.NoError(t, mock.ExpectationsWereMet(), "nothing is written")
	})

	t.Run("with password", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, true, `["ABCDEFGH"]`)
		codes := &captured{}
		mock.ExpectQuery("is_enabled = FALSE").
			WithArgs(sqlmock.AnyArg(), testUserID, sqlmock.AnyArg(), codes, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_datetime"}).AddRow("tf1", time.Now()))

		resp, err := svc.Setup(context.Background(), testUser(t), "password1")
		require.NoError(t, err)
		assert.NotEqual(t, testSecret, resp.SecretKey)
		assert.NotContains(t, resp.BackupCodes, "ABCDEFGH")

		var stored []string
		require.NoError(t, json.Unmarshal([]byte(codes.value.(string)), &stored))
		assert.Equal(t, resp.BackupCodes, stored)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("disabled record needs no password", func(t *testing.T) {
		svc, mock := newTestService(t)
		expectRecord(mock, false, `[]`)
		mock.ExpectQuery("INSERT INTO two_factor_auth").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_datetime"}).AddRow("tf1", time.Now()))

		_, err := svc.Setup(context.Background(), testUser(t), "")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Verify(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		code    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "not set up",
			setup:   expectNoRecord,
			code:    func(*testing.T) string { return "123456" },
			wantErr: ErrNotEnabled,
		},
		{
			name:    "set up but not enabled",
			setup:   func(mock sqlmock.Sqlmock) { expectRecord(mock, false, `[]`) },
			code:    func(*testing.T) string { return "123456" },
			wantErr: ErrNotEnabled,
		},
		{
			name: "mismatch",
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, true, `["ABCDEFGH"]`)
				mock.ExpectExec("backup_codes - \\$2::text").WithArgs(testUserID, "ZZZZZZZZ").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			code:    func(*testing.T) string { return "ZZZZZZZZ" },
			wantErr: ErrInvalidCode,
		},
		{
			name: "valid totp records the use",
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, true, `[]`)
				mock.ExpectExec("SET last_used_datetime = NOW\\(\\)").WithArgs(testUserID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			code: currentCode,
		},
		{
			name: "backup code is consumed",
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, true, `["ABCDEFGH"]`)
				mock.ExpectExec("backup_codes - \\$2::text").WithArgs(testUserID, "ABCDEFGH").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			code: func(*testing.T) string { return "ABCDEFGH" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestService(t)
			tt.setup(mock)

			err := svc.Verify(context.Background(), testUserID, tt.code(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHandlers(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       func(t *testing.T) string
		setup      func(mock sqlmock.Sqlmock)
		wantStatus int
		wantMsg    string
	}{
		{
			name:   "setup",
			method: http.MethodPost, path: "/2fa/setup",
			setup: func(mock sqlmock.Sqlmock) {
				expectNoRecord(mock)
				mock.ExpectQuery("INSERT INTO two_factor_auth").
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_datetime"}).AddRow("tf1", time.Now()))
			},
			wantStatus: http.StatusOK, wantMsg: "2FA setup initiated",
		},
		{
			name:   "setup over enabled without password",
			method: http.MethodPost, path: "/2fa/setup",
			setup:      func(mock sqlmock.Sqlmock) { expectRecord(mock, true, `[]`) },
			wantStatus: http.StatusUnauthorized, wantMsg: "Invalid password",
		},
		{
			name:   "setup over enabled with password",
			method: http.MethodPost, path: "/2fa/setup",
			body: func(*testing.T) string { return `{"password": "password1"}` },
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, true, `[]`)
				mock.ExpectQuery("INSERT INTO two_factor_auth").
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_datetime"}).AddRow("tf1", time.Now()))
			},
			wantStatus: http.StatusOK, wantMsg: "2FA setup initiated",
		},
		{
			name:   "enable",
			method: http.MethodPost, path: "/2fa/enable",
			body: func(t *testing.T) string { return `{"totp_code": "` + currentCode(t) + `"}` },
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, false, `[]`)
				mock.ExpectExec("UPDATE two_factor_auth SET is_enabled").WithArgs(testUserID, true).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantStatus: http.StatusOK, wantMsg: "2FA enabled successfully",
		},
		{
			name:   "enable without code",
			method: http.MethodPost, path: "/2fa/enable",
			body:       func(*testing.T) string { return `{}` },
			setup:      func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:   "disable with wrong password",
			method: http.MethodPost, path: "/2fa/disable",
			body:       func(*testing.T) string { return `{"totp_code": "123456", "password": "nope"}` },
			setup:      func(mock sqlmock.Sqlmock) { expectRecord(mock, true, `[]`) },
			wantStatus: http.StatusUnauthorized, wantMsg: "Invalid password",
		},
		{
			name:   "verify when not enabled",
			method: http.MethodPost, path: "/2fa/verify",
			body:       func(*testing.T) string { return `{"totp_code": "123456"}` },
			setup:      expectNoRecord,
			wantStatus: http.StatusBadRequest, wantMsg: "2FA not enabled",
		},
		{
			name:   "verify",
			method: http.MethodPost, path: "/2fa/verify",
			body: func(t *testing.T) string { return `{"totp_code": "` + currentCode(t) + `"}` },
			setup: func(mock sqlmock.Sqlmock) {
				expectRecord(mock, true, `[]`)
				mock.ExpectExec("SET last_used_datetime = NOW\\(\\)").WithArgs(testUserID).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantStatus: http.StatusOK, wantMsg: "2FA code verified",
		},
		{
			name:   "status",
			method: http.MethodGet, path: "/2fa/status",
			setup:      func(mock sqlmock.Sqlmock) { expectRecord(mock, true, `["A","B"]`) },
			wantStatus: http.StatusOK, wantMsg: "Retrieved 2FA status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestService(t)
			router := mux.NewRouter()
			NewHandlers(svc).RegisterRoutes(router)
			tt.setup(mock)

			var req *http.Request
			if tt.body != nil {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body(t)))
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			req = middleware.WithUser(req, testUser(t))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantMsg != "" {
				var body struct {
					Message string `json:"message"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantMsg, body.Message)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
