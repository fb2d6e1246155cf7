// Package config loads application configuration from WARDEN_* environment
// variables, after applying an optional .env file.
//
// Server:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//	WARDEN_WORKERS="4"                   # background email workers
//
// Auth:
//
//	WARDEN_JWT_SECRET_KEY="..."          # required
//	WARDEN_JWT_ALGORITHM="HS256"         # HS256, HS384 or HS512
//	WARDEN_ACCESS_TOKEN_TTL="15m"
//	WARDEN_TOTP_ISSUER="Warden"
//	WARDEN_AUTH_RATE_LIMIT="20"          # per client IP and window on /auth
//	WARDEN_TRUSTED_PROXIES="10.0.0.0/8"  # peers whose X-Forwarded-For is read
//
// Storage:
//
//	WARDEN_STORAGE_PROVIDER="s3"         # s3 or google_drive
//	WARDEN_S3_BUCKET="warden-uploads"
//	WARDEN_DRIVE_CREDENTIALS_FILE="/etc/warden/drive.json"
//
// Both providers may be configured; the one not named by
// WARDEN_STORAGE_PROVIDER only serves files stored before a switch.
//
// Push:
//
//	WARDEN_FCM_PROJECT_ID="my-project"
//	WARDEN_FCM_CREDENTIALS_FILE="/etc/warden/fcm.json"
//
// LoadConfig validates the result; see Config.Validate for the rules.
package config
