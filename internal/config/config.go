// Package config loads the server configuration.
//
// Sources, lowest to highest precedence:
//  1. built-in defaults (SetDefault below)
//  2. an optional config file named by PIKOSHI_CONFIG (YAML, JSON or TOML)
//  3. environment variables, matched by key name (PORT, SECRET_KEY, ...)
//
// Secrets (SECRET_KEY, PEPPER, S3 and OAuth credentials) are expected to come
// from the environment in production.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration.
type Config struct {
	Port     int
	LogLevel slog.Level

	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SecretKey       string
	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	Pepper        string
	HashTime      uint32
	HashMemoryKiB uint32
	HashThreads   uint8

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	OAuthTimeout       time.Duration

	AWSRegion      string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3BucketCount  int
	StorageTimeout time.Duration

	StreamDelay     time.Duration
	GalleryPageSize int32
	MaxUploadBytes  int64

	FrontendURL    string
	MailFrom       string
	MailBrokerURL  string
	MailQueue      string
	MailWorkers    int
	MailQueueSize  int
	MailMaxRetries uint64

	CookieSecure bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "data/pikoshi.db")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SECRET_KEY", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_TTL", time.Hour)
	v.SetDefault("REFRESH_TOKEN_TTL", 24*time.Hour)

	v.SetDefault("PEPPER", "")
	v.SetDefault("HASH_TIME", 1)
	v.SetDefault("HASH_MEMORY_KIB", 64*1024)
	v.SetDefault("HASH_THREADS", 2)

	v.SetDefault("GOOGLE_OAUTH2_CLIENT_ID", "")
	v.SetDefault("GOOGLE_OAUTH2_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_OAUTH2_REDIRECT_URI", "postmessage")
	v.SetDefault("OAUTH_TIMEOUT", 10*time.Second)

	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_USE_PATH_STYLE", false)
	v.SetDefault("S3_BUCKET_COUNT", 100)
	v.SetDefault("STORAGE_TIMEOUT", 15*time.Second)

	v.SetDefault("STREAM_DELAY", 400*time.Millisecond)
	v.SetDefault("GALLERY_PAGE_SIZE", 30)
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)

	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("MAIL_FROM", "pikoshi@localhost")
	v.SetDefault("MAIL_BROKER_URL", "")
	v.SetDefault("MAIL_QUEUE", "pikoshi_mail")
	v.SetDefault("MAIL_WORKERS", 2)
	v.SetDefault("MAIL_QUEUE_SIZE", 64)
	v.SetDefault("MAIL_MAX_RETRIES", 3)

	v.SetDefault("COOKIE_SECURE", true)
}

// Load resolves the configuration from defaults, the optional config file
// and the environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("PIKOSHI_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	return &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: level,

		DBDriver: strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:    v.GetString("DB_DSN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		SecretKey:       v.GetString("SECRET_KEY"),
		JWTAlgorithm:    strings.ToUpper(v.GetString("JWT_ALGORITHM")),
		AccessTokenTTL:  v.GetDuration("ACCESS_TOKEN_TTL"),
		RefreshTokenTTL: v.GetDuration("REFRESH_TOKEN_TTL"),

		Pepper:        v.GetString("PEPPER"),
		HashTime:      v.GetUint32("HASH_TIME"),
		HashMemoryKiB: v.GetUint32("HASH_MEMORY_KIB"),
		HashThreads:   uint8(v.GetUint("HASH_THREADS")),

		GoogleClientID:     v.GetString("GOOGLE_OAUTH2_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_OAUTH2_CLIENT_SECRET"),
		GoogleRedirectURI:  v.GetString("GOOGLE_OAUTH2_REDIRECT_URI"),
		OAuthTimeout:       v.GetDuration("OAUTH_TIMEOUT"),

		AWSRegion:      v.GetString("AWS_REGION"),
		S3Endpoint:     v.GetString("S3_ENDPOINT"),
		S3AccessKey:    v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:    v.GetString("S3_SECRET_KEY"),
		S3UsePathStyle: v.GetBool("S3_USE_PATH_STYLE"),
		S3BucketCount:  v.GetInt("S3_BUCKET_COUNT"),
		StorageTimeout: v.GetDuration("STORAGE_TIMEOUT"),

		StreamDelay:     v.GetDuration("STREAM_DELAY"),
		GalleryPageSize: v.GetInt32("GALLERY_PAGE_SIZE"),
		MaxUploadBytes:  v.GetInt64("MAX_UPLOAD_BYTES"),

		FrontendURL:    v.GetString("FRONTEND_URL"),
		MailFrom:       v.GetString("MAIL_FROM"),
		MailBrokerURL:  v.GetString("MAIL_BROKER_URL"),
		MailQueue:      v.GetString("MAIL_QUEUE"),
		MailWorkers:    v.GetInt("MAIL_WORKERS"),
		MailQueueSize:  v.GetInt("MAIL_QUEUE_SIZE"),
		MailMaxRetries: v.GetUint64("MAIL_MAX_RETRIES"),

		CookieSecure: v.GetBool("COOKIE_SECURE"),
	}, nil
}

// Validate reports every problem at once so a misconfigured deployment
// fails with one complete message.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SecretKey) < 16 {
		errs = append(errs, errors.New("SECRET_KEY must be set and at least 16 characters"))
	}
	if c.Pepper == "" {
		errs = append(errs, errors.New("PEPPER must be set"))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver))
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("JWT_ALGORITHM %q is not one of HS256, HS384, HS512", c.JWTAlgorithm))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.S3BucketCount <= 0 || c.S3BucketCount > 100 {
		errs = append(errs, fmt.Errorf("S3_BUCKET_COUNT %d must be between 1 and 100", c.S3BucketCount))
	}
	if c.GalleryPageSize <= 0 {
		errs = append(errs, errors.New("GALLERY_PAGE_SIZE must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL < c.AccessTokenTTL {
		errs = append(errs, errors.New("token TTLs must be positive and REFRESH_TOKEN_TTL >= ACCESS_TOKEN_TTL"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GoogleEnabled reports whether the Google OAuth2 routes can work.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}
