package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultShareSecret signs share links when SHARE_SECRET is unset. It is refused in production.
const DefaultShareSecret = "videopress-dev-key-change-in-production"

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Limits   LimitsConfig
	Media    MediaConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AWS      AWSConfig
	Share    ShareConfig
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
	// ReadHeaderTimeout bounds request headers only. ReadTimeout covers the whole body,
	// so 0 (off) lets slow clients finish large uploads.
	ReadHeaderTimeout  int
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	Environment        string // "production" turns on Secure cookies
}

// Production reports whether the server runs behind HTTPS in production.
func (c ServerConfig) Production() bool { return c.Environment == "production" }

// StorageConfig holds the flat upload/output directories.
type StorageConfig struct {
	UploadDir string
	OutputDir string
}

// LimitsConfig holds upload validation and retention settings.
type LimitsConfig struct {
	MaxFileSize         int64
	FileExpiryHours     int
	SessionDurationDays int
	SweepInterval       time.Duration
	VideoExtensions     []string
	ImageExtensions     []string
}

// FileRetention is the age after which uploads and outputs are swept.
func (c LimitsConfig) FileRetention() time.Duration {
	return time.Duration(c.FileExpiryHours) * time.Hour
}

// SessionLifetime is the age after which a whole session is swept.
func (c LimitsConfig) SessionLifetime() time.Duration {
	return time.Duration(c.SessionDurationDays) * 24 * time.Hour
}

// MediaConfig holds encoder toolchain settings.
type MediaConfig struct {
	FFmpegPath          string
	FFprobePath         string
	TargetSizeMB        float64 // default size budget for two-pass bitrate targeting
	EncodeTimeoutFactor float64 // timeout = max(min, duration * factor)
	EncodeTimeoutMin    time.Duration
	SplitOptions        []int // seconds; 0 means no splitting
	GIFMaxDuration      float64
	GIFMaxFPS           int
	GIFDefaultFPS       int
	GIFMaxWidth         int
	AnalysisMaxFrames   int
}

// DatabaseConfig holds PostgreSQL connection settings for the output archive.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether a database was configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" || c.Host != "" }

// RedisConfig holds Redis connection settings. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	OutputsBucket        string
	Endpoint             string // S3-compatible endpoint, e.g. MinIO
	PresignExpireMinutes int
}

// ShareConfig holds the signing secret for share links.
type ShareConfig struct {
	Secret      string
	ExpireHours int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadHeaderTimeout:  getEnvInt("READ_HEADER_TIMEOUT_SEC", 10),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 0),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 900),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			Environment:        getEnv("ENVIRONMENT", "development"),
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "uploads"),
			OutputDir: getEnv("OUTPUT_DIR", "outputs"),
		},
		Limits: LimitsConfig{
			MaxFileSize:         getEnvInt64("MAX_CONTENT_LENGTH", 500*1024*1024),
			FileExpiryHours:     getEnvInt("FILE_EXPIRY_HOURS", 24),
			SessionDurationDays: getEnvInt("SESSION_DURATION_DAYS", 7),
			SweepInterval:       time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", 30)) * time.Minute,
			VideoExtensions:     splitTrim(getEnv("ALLOWED_VIDEO_EXTENSIONS", "mp4,mov,avi,mkv,webm,m4v,3gp"), ","),
			ImageExtensions:     splitTrim(getEnv("ALLOWED_IMAGE_EXTENSIONS", "jpg,jpeg,png,gif,webp,bmp,tiff"), ","),
		},
		Media: MediaConfig{
			FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),
			TargetSizeMB:        getEnvFloat("TARGET_SIZE_MB", 15.5),
			EncodeTimeoutFactor: getEnvFloat("ENCODE_TIMEOUT_FACTOR", 10),
			EncodeTimeoutMin:    time.Duration(getEnvInt("ENCODE_TIMEOUT_MIN_SEC", 120)) * time.Second,
			SplitOptions:        splitInts(getEnv("SPLIT_OPTIONS", "0,30,60,90")),
			GIFMaxDuration:      getEnvFloat("GIF_MAX_DURATION_SEC", 6),
			GIFMaxFPS:           getEnvInt("GIF_MAX_FPS", 15),
			GIFDefaultFPS:       getEnvInt("GIF_DEFAULT_FPS", 12),
			GIFMaxWidth:         getEnvInt("GIF_MAX_WIDTH", 360),
			AnalysisMaxFrames:   getEnvInt("ANALYSIS_MAX_FRAMES", 30),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "videopress"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			OutputsBucket:        getEnv("AWS_S3_OUTPUTS_BUCKET", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Share: ShareConfig{
			Secret:      getEnv("SHARE_SECRET", DefaultShareSecret),
			ExpireHours: getEnvInt("SHARE_EXPIRE_HOURS", 24),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Limits.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive")
	}
	if c.Limits.FileExpiryHours <= 0 || c.Limits.SessionDurationDays <= 0 {
		return fmt.Errorf("FILE_EXPIRY_HOURS and SESSION_DURATION_DAYS must be positive")
	}
	if c.Media.TargetSizeMB <= 0 {
		return fmt.Errorf("TARGET_SIZE_MB must be positive")
	}
	for _, s := range c.Media.SplitOptions {
		if s < 0 {
			return fmt.Errorf("SPLIT_OPTIONS must not contain negative values")
		}
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("READ_HEADER_TIMEOUT_SEC must be positive")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("READ_TIMEOUT_SEC and WRITE_TIMEOUT_SEC must not be negative")
	}
	if c.Server.Production() && c.Share.Secret == DefaultShareSecret {
		return fmt.Errorf("SHARE_SECRET must be set when ENVIRONMENT=production")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitInts(s string) []int {
	var out []int
	for _, v := range splitTrim(s, ",") {
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
