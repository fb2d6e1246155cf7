package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	SMTP          SMTPConfig
	Storage       StorageConfig
	Push          PushConfig
	Seed          SeedConfig
	Maintenance   MaintenanceConfig
	Observability ObservabilityConfig
}

// AppConfig describes the running application
type AppConfig struct {
	ProjectName string
	Version     string
	Debug       bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Background worker pool for emails
	Workers     int
	WorkerQueue int
	TaskTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL settings. URL wins over the discrete fields.
type DatabaseConfig struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig holds token, password and TOTP settings
type AuthConfig struct {
	JWTSecret          string
	JWTAlgorithm       string
	AccessTokenTTL     time.Duration
	PasswordResetTTL   time.Duration
	TOTPIssuer         string
	BcryptCost         int
	PermissionCacheTTL time.Duration
	PermissionCacheMax int

	// Per-IP limit on the unauthenticated /auth endpoints; 0 disables it
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Peers (IPs or CIDRs) whose forwarding headers the limiter believes
	TrustedProxies []string
}

// SMTPConfig holds outgoing mail settings
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	TLS       bool // STARTTLS
	SSL       bool // implicit TLS
}

// Enabled reports whether an SMTP server is configured
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// StorageConfig holds file storage settings
type StorageConfig struct {
	DefaultProvider string
	MaxUploadBytes  int64

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3PresignTTL   time.Duration

	DriveCredentialsFile string
	DriveFolderID        string
}

// S3Configured reports whether an S3 bucket is set
func (s StorageConfig) S3Configured() bool {
	return s.S3Bucket != ""
}

// DriveConfigured reports whether Drive credentials are set
func (s StorageConfig) DriveConfigured() bool {
	return s.DriveCredentialsFile != ""
}

// PushConfig holds Firebase Cloud Messaging settings
type PushConfig struct {
	FCMProjectID       string
	FCMCredentialsFile string
	SendConcurrency    int
}

// Enabled reports whether FCM is configured
func (p PushConfig) Enabled() bool {
	return p.FCMProjectID != ""
}

// SeedConfig controls RBAC seeding at startup
type SeedConfig struct {
	File           string
	AdminEmail     string
	AdminPassword  string
	AdminFirstName string
	AdminLastName  string
}

// MaintenanceConfig holds cron schedules and retention windows
type MaintenanceConfig struct {
	NotificationSchedule  string
	NotificationRetention time.Duration
	PushTokenSchedule     string
	UserPurgeSchedule     string
	UserRetention         time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Storage providers
const (
	ProviderS3          = "s3"
	ProviderGoogleDrive = "google_drive"
)

// LoadConfig loads configuration from the environment, after applying an
// optional .env file. Variables already set in the environment are kept.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		App:           loadAppConfig(),
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		SMTP:          loadSMTPConfig(),
		Storage:       loadStorageConfig(),
		Push:          loadPushConfig(),
		Seed:          loadSeedConfig(),
		Maintenance:   loadMaintenanceConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	return AppConfig{
		ProjectName: getEnv("WARDEN_PROJECT_NAME", "Warden"),
		Version:     getEnv("WARDEN_VERSION", "1.0.0"),
		Debug:       getEnvBool("WARDEN_DEBUG", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("WARDEN_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("WARDEN_CORS_ORIGINS", []string{"*"}),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		Workers:         getEnvInt("WARDEN_WORKERS", 4),
		WorkerQueue:     getEnvInt("WARDEN_WORKER_QUEUE", 100),
		TaskTimeout:     getEnvDuration("WARDEN_TASK_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WARDEN_DATABASE_URL", ""),
		Host:            getEnv("WARDEN_POSTGRES_HOST", "localhost"),
		Port:            getEnvInt("WARDEN_POSTGRES_PORT", 5432),
		User:            getEnv("WARDEN_POSTGRES_USER", "postgres"),
		Password:        getEnv("WARDEN_POSTGRES_PASSWORD", ""),
		Name:            getEnv("WARDEN_POSTGRES_DB", "warden"),
		SSLMode:         getEnv("WARDEN_POSTGRES_SSLMODE", "disable"),
		MaxOpenConns:    getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WARDEN_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:     getEnv("WARDEN_REDIS_HOST", "localhost"),
		Port:     getEnvInt("WARDEN_REDIS_PORT", 6379),
		Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
		DB:       getEnvInt("WARDEN_REDIS_DB", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:          getEnv("WARDEN_JWT_SECRET_KEY", ""),
		JWTAlgorithm:       strings.ToUpper(getEnv("WARDEN_JWT_ALGORITHM", "HS256")),
		AccessTokenTTL:     getEnvDuration("WARDEN_ACCESS_TOKEN_TTL", 15*time.Minute),
		PasswordResetTTL:   getEnvDuration("WARDEN_PASSWORD_RESET_TTL", 10*time.Minute),
		TOTPIssuer:         getEnv("WARDEN_TOTP_ISSUER", "Warden"),
		BcryptCost:         getEnvInt("WARDEN_BCRYPT_COST", 12),
		PermissionCacheTTL: getEnvDuration("WARDEN_PERMISSION_CACHE_TTL", time.Minute),
		PermissionCacheMax: getEnvInt("WARDEN_PERMISSION_CACHE_SIZE", 10000),
		RateLimitRequests:  getEnvInt("WARDEN_AUTH_RATE_LIMIT", 20),
		RateLimitWindow:    getEnvDuration("WARDEN_AUTH_RATE_LIMIT_WINDOW", time.Minute),
		TrustedProxies:     getEnvList("WARDEN_TRUSTED_PROXIES", nil),
	}
}

func loadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:      getEnv("WARDEN_SMTP_HOST", ""),
		Port:      getEnvInt("WARDEN_SMTP_PORT", 587),
		Username:  getEnv("WARDEN_SMTP_USERNAME", ""),
		Password:  getEnv("WARDEN_SMTP_PASSWORD", ""),
		FromEmail: getEnv("WARDEN_SMTP_FROM_EMAIL", "no-reply@localhost"),
		FromName:  getEnv("WARDEN_SMTP_FROM_NAME", "Warden"),
		TLS:       getEnvBool("WARDEN_SMTP_TLS", true),
		SSL:       getEnvBool("WARDEN_SMTP_SSL", false),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DefaultProvider:      strings.ToLower(getEnv("WARDEN_STORAGE_PROVIDER", ProviderS3)),
		MaxUploadBytes:       getEnvInt64("WARDEN_MAX_UPLOAD_BYTES", 25<<20),
		S3Bucket:             getEnv("WARDEN_S3_BUCKET", ""),
		S3Region:             getEnv("WARDEN_S3_REGION", "us-east-1"),
		S3Endpoint:           getEnv("WARDEN_S3_ENDPOINT", ""),
		S3AccessKey:          getEnv("WARDEN_S3_ACCESS_KEY", ""),
		S3SecretKey:          getEnv("WARDEN_S3_SECRET_KEY", ""),
		S3UsePathStyle:       getEnvBool("WARDEN_S3_USE_PATH_STYLE", false),
		S3PresignTTL:         getEnvDuration("WARDEN_S3_PRESIGN_TTL", time.Hour),
		DriveCredentialsFile: getEnv("WARDEN_DRIVE_CREDENTIALS_FILE", ""),
		DriveFolderID:        getEnv("WARDEN_DRIVE_FOLDER_ID", ""),
	}
}

func loadPushConfig() PushConfig {
	return PushConfig{
		FCMProjectID:       getEnv("WARDEN_FCM_PROJECT_ID", ""),
		FCMCredentialsFile: getEnv("WARDEN_FCM_CREDENTIALS_FILE", ""),
		SendConcurrency:    getEnvInt("WARDEN_FCM_CONCURRENCY", 8),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		File:           getEnv("WARDEN_SEED_FILE", ""),
		AdminEmail:     getEnv("WARDEN_ADMIN_EMAIL", ""),
		AdminPassword:  getEnv("WARDEN_ADMIN_PASSWORD", ""),
		AdminFirstName: getEnv("WARDEN_ADMIN_FIRST_NAME", "Admin"),
		AdminLastName:  getEnv("WARDEN_ADMIN_LAST_NAME", "User"),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		NotificationSchedule:  getEnv("WARDEN_NOTIFICATION_PURGE_SCHEDULE", "30 2 * * *"),
		NotificationRetention: getEnvDuration("WARDEN_NOTIFICATION_RETENTION", 90*24*time.Hour),
		PushTokenSchedule:     getEnv("WARDEN_PUSH_TOKEN_PURGE_SCHEDULE", "45 2 * * *"),
		UserPurgeSchedule:     getEnv("WARDEN_USER_PURGE_SCHEDULE", "0 3 * * 0"),
		UserRetention:         getEnvDuration("WARDEN_USER_RETENTION", 30*24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret key is required")
	}
	switch c.Auth.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT algorithm: %s (must be HS256, HS384 or HS512)", c.Auth.JWTAlgorithm)
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("postgres host or database URL is required")
	}

	if c.SMTP.TLS && c.SMTP.SSL {
		return fmt.Errorf("SMTP TLS and SSL cannot both be enabled")
	}

	switch c.Storage.DefaultProvider {
	case ProviderS3:
		if !c.Storage.S3Configured() {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	case ProviderGoogleDrive:
		if !c.Storage.DriveConfigured() {
			return fmt.Errorf("Drive credentials file is required for google_drive storage")
		}
	default:
		return fmt.Errorf("invalid storage provider: %s (must be s3 or google_drive)", c.Storage.DefaultProvider)
	}

	if c.Push.Enabled() && c.Push.FCMCredentialsFile == "" {
		return fmt.Errorf("FCM credentials file is required when FCM project is set")
	}

	if (c.Seed.AdminEmail == "") != (c.Seed.AdminPassword == "") {
		return fmt.Errorf("bootstrap admin requires both email and password")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
