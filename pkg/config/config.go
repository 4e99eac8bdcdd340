// Package config provides configuration management for faceattend.
// It loads configuration from YAML files with sensible defaults and
// lets FACEATTEND_* environment variables (or a .env file) override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Extractor names.
const (
	ExtractorDlib    = "dlib"
	ExtractorCascade = "cascade"
)

// DefaultSimilarityThreshold is the cosine similarity a probe must exceed to match.
const DefaultSimilarityThreshold = 0.8

// MinSigningKeyLength is the shortest accepted HS256 signing key.
const MinSigningKeyLength = 32

// DefaultCascadeURL points at the frontal face Haar cascade shipped with OpenCV.
const DefaultCascadeURL = "https://raw.githubusercontent.com/opencv/opencv/master/data/haarcascades/haarcascade_frontalface_default.xml"

// Config holds all faceattend configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// RecognitionConfig holds face extraction and matching settings.
type RecognitionConfig struct {
	Extractor           string  `yaml:"extractor"`
	ModelPath           string  `yaml:"model_path"`
	CascadeFile         string  `yaml:"cascade_file"`
	CascadeURL          string  `yaml:"cascade_url"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	DownloadModels      bool    `yaml:"download_models"`
}

// StorageConfig holds database and image settings.
type StorageConfig struct {
	Database          string `yaml:"database"`
	ImagesDir         string `yaml:"images_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// AuthConfig holds the admin credential and session settings.
type AuthConfig struct {
	AdminUsername     string        `yaml:"admin_username"`
	AdminPassword     string        `yaml:"admin_password"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SigningKey        string        `yaml:"signing_key"`
	Issuer            string        `yaml:"issuer"`
	SessionBackend    string        `yaml:"session_backend"`
	RedisAddr         string        `yaml:"redis_addr"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	Mode            string   `yaml:"mode"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxUploadMB     int      `yaml:"max_upload_mb"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceattend")
	return &Config{
		Recognition: RecognitionConfig{
			Extractor:           ExtractorDlib,
			ModelPath:           filepath.Join(dataDir, "models"),
			CascadeFile:         filepath.Join(dataDir, "models", "haarcascade_frontalface_default.xml"),
			CascadeURL:          DefaultCascadeURL,
			SimilarityThreshold: DefaultSimilarityThreshold,
			DownloadModels:      true,
		},
		Storage: StorageConfig{
			Database:          filepath.Join(dataDir, "attendance.db"),
			ImagesDir:         filepath.Join(dataDir, "user_images"),
			EncryptionEnabled: false,
		},
		Auth: AuthConfig{
			AdminUsername:  "admin",
			AdminPassword:  "admin123",
			SessionTTL:     8 * time.Hour,
			Issuer:         "faceattend",
			SessionBackend: "memory",
			RedisAddr:      "localhost:6379",
		},
		Server: ServerConfig{
			Address:         ":5000",
			Mode:            "release",
			RateLimitPerMin: 120,
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxUploadMB:     10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(dataDir, "faceattend.log"),
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from the specified file.
// On error the defaults are returned alongside the error.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceattend/faceattend.yaml"); err == nil {
		return Load("/etc/faceattend/faceattend.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceattend/faceattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides configuration values from FACEATTEND_* environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.Recognition.Extractor, "FACEATTEND_EXTRACTOR")
	setString(&c.Recognition.ModelPath, "FACEATTEND_MODEL_PATH")
	setString(&c.Recognition.CascadeFile, "FACEATTEND_CASCADE_FILE")
	setFloat(&c.Recognition.SimilarityThreshold, "FACEATTEND_SIMILARITY_THRESHOLD")
	setBool(&c.Recognition.DownloadModels, "FACEATTEND_DOWNLOAD_MODELS")

	setString(&c.Storage.Database, "FACEATTEND_DB_PATH")
	setString(&c.Storage.ImagesDir, "FACEATTEND_IMAGES_DIR")
	setBool(&c.Storage.EncryptionEnabled, "FACEATTEND_ENCRYPT_IMAGES")

	setString(&c.Auth.AdminUsername, "FACEATTEND_ADMIN_USER")
	setString(&c.Auth.AdminPassword, "FACEATTEND_ADMIN_PASSWORD")
	setString(&c.Auth.AdminPasswordHash, "FACEATTEND_ADMIN_PASSWORD_HASH")
	setString(&c.Auth.SigningKey, "FACEATTEND_SIGNING_KEY")
	setString(&c.Auth.SessionBackend, "FACEATTEND_SESSION_BACKEND")
	setString(&c.Auth.RedisAddr, "FACEATTEND_REDIS_ADDR")
	if v := os.Getenv("FACEATTEND_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.SessionTTL = d
		}
	}

	setString(&c.Server.Address, "FACEATTEND_ADDR")
	setString(&c.Server.Mode, "FACEATTEND_MODE")
	setInt(&c.Server.RateLimitPerMin, "FACEATTEND_RATE_LIMIT_PER_MIN")
	if v := os.Getenv("FACEATTEND_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}

	setString(&c.Logging.Level, "FACEATTEND_LOG_LEVEL")
	setString(&c.Logging.File, "FACEATTEND_LOG_FILE")
	setString(&c.Logging.Format, "FACEATTEND_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Recognition.Extractor {
	case ExtractorDlib, ExtractorCascade:
	default:
		return fmt.Errorf("invalid extractor: %s (must be %s or %s)", c.Recognition.Extractor, ExtractorDlib, ExtractorCascade)
	}
	if c.Recognition.SimilarityThreshold <= -1 || c.Recognition.SimilarityThreshold >= 1 {
		return fmt.Errorf("similarity_threshold must be between -1 and 1 (exclusive), got %f", c.Recognition.SimilarityThreshold)
	}

	if c.Storage.Database == "" {
		return fmt.Errorf("storage.database must be set")
	}
	if c.Storage.ImagesDir == "" {
		return fmt.Errorf("storage.images_dir must be set")
	}

	if c.Auth.AdminUsername == "" {
		return fmt.Errorf("auth.admin_username must be set")
	}
	if c.Auth.AdminPassword == "" && c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("auth.admin_password or auth.admin_password_hash must be set")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.Auth.SessionTTL)
	}
	if n := len(c.Auth.SigningKey); n > 0 && n < MinSigningKeyLength {
		return fmt.Errorf("auth.signing_key must be at least %d bytes, got %d", MinSigningKeyLength, n)
	}
	switch c.Auth.SessionBackend {
	case "memory":
	case "redis":
		if c.Auth.RedisAddr == "" {
			return fmt.Errorf("auth.redis_addr must be set for the redis session backend")
		}
		if c.Auth.SigningKey == "" {
			return fmt.Errorf("auth.signing_key must be set for the redis session backend")
		}
	default:
		return fmt.Errorf("invalid session backend: %s (must be memory or redis)", c.Auth.SessionBackend)
	}

	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("rate_limit_per_min must not be negative, got %d", c.Server.RateLimitPerMin)
	}
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server mode: %s (must be debug, release, or test)", c.Server.Mode)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Recognition.CascadeFile = ExpandPath(c.Recognition.CascadeFile)
	c.Storage.Database = ExpandPath(c.Storage.Database)
	c.Storage.ImagesDir = ExpandPath(c.Storage.ImagesDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the directories for the database, images, models and logs.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(filepath.Dir(c.Storage.Database), 0700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := os.MkdirAll(c.Storage.ImagesDir, 0700); err != nil {
		return fmt.Errorf("failed to create images directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
