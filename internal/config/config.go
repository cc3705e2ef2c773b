package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	HTTPAddress   string // The address to listen on for HTTP
	PublicBaseURL string // External base URL used in verification links and QR payloads

	StorageType string // Storage type: "postgres" or "memory"
	DBHost      string // PostgreSQL host
	DBUser      string // PostgreSQL user
	DBPassword  string // PostgreSQL password
	DBName      string // PostgreSQL database name
	DBPort      int    // PostgreSQL port
	DBSSLMode   string // PostgreSQL SSL mode

	BlobType       string // Blob store type: "minio" or "memory"
	MinioEndpoint  string // MinIO/S3 endpoint (host:port)
	MinioAccessKey string // MinIO access key
	MinioSecretKey string // MinIO secret key
	MinioBucket    string // Bucket holding generated artifacts
	MinioUseSSL    bool   // Use TLS when talking to the blob endpoint
	BlobPublicURL  string // Public base URL for uploaded artifacts (defaults to the endpoint)

	FontCSSURL       string // Webfont stylesheet API base URL
	FetchTimeoutSecs int    // Timeout for outbound fetches (fonts, background images)

	MailAPIURL string // Transactional email REST endpoint ("" disables email)
	MailAPIKey string // Bearer key for the email API
	MailFrom   string // Sender address for recipient notifications

	AuthSecret string // HS256 secret shared with the identity provider
}

const (
	defaultHTTPAddress      = ":8080"
	defaultPublicBaseURL    = "http://localhost:8080"
	defaultStorageType      = "postgres"
	defaultDBHost           = "localhost"
	defaultDBUser           = "certforge"
	defaultDBPassword       = "password"
	defaultDBName           = "certforge"
	defaultDBPort           = 5432
	defaultDBSSLMode        = "disable"
	defaultBlobType         = "minio"
	defaultMinioEndpoint    = "localhost:9000"
	defaultMinioBucket      = "certforge"
	defaultFontCSSURL       = "https://fonts.googleapis.com/css"
	defaultFetchTimeoutSecs = 15
)

// LoadConfig loads the service configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddress:      getEnv("CERTFORGE_HTTP_ADDRESS", defaultHTTPAddress),
		PublicBaseURL:    getEnv("CERTFORGE_PUBLIC_BASE_URL", defaultPublicBaseURL),
		StorageType:      getEnv("CERTFORGE_STORAGE_TYPE", defaultStorageType),
		DBHost:           getEnv("CERTFORGE_DB_HOST", defaultDBHost),
		DBUser:           getEnv("CERTFORGE_DB_USER", defaultDBUser),
		DBPassword:       getEnv("CERTFORGE_DB_PASSWORD", defaultDBPassword),
		DBName:           getEnv("CERTFORGE_DB_NAME", defaultDBName),
		DBPort:           getEnvAsInt("CERTFORGE_DB_PORT", defaultDBPort),
		DBSSLMode:        getEnv("CERTFORGE_DB_SSLMODE", defaultDBSSLMode),
		BlobType:         getEnv("CERTFORGE_BLOB_TYPE", defaultBlobType),
		MinioEndpoint:    getEnv("CERTFORGE_MINIO_ENDPOINT", defaultMinioEndpoint),
		MinioAccessKey:   getEnv("CERTFORGE_MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getEnv("CERTFORGE_MINIO_SECRET_KEY", ""),
		MinioBucket:      getEnv("CERTFORGE_MINIO_BUCKET", defaultMinioBucket),
		MinioUseSSL:      getEnvAsBool("CERTFORGE_MINIO_USE_SSL", false),
		BlobPublicURL:    getEnv("CERTFORGE_BLOB_PUBLIC_URL", ""),
		FontCSSURL:       getEnv("CERTFORGE_FONT_CSS_URL", defaultFontCSSURL),
		FetchTimeoutSecs: getEnvAsInt("CERTFORGE_FETCH_TIMEOUT_SECS", defaultFetchTimeoutSecs),
		MailAPIURL:       getEnv("CERTFORGE_MAIL_API_URL", ""),
		MailAPIKey:       getEnv("CERTFORGE_MAIL_API_KEY", ""),
		MailFrom:         getEnv("CERTFORGE_MAIL_FROM", "certificates@certforge.local"),
		AuthSecret:       getEnv("CERTFORGE_AUTH_SECRET", "dev-secret-change-me"),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s (%s), using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
