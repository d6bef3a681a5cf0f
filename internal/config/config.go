package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anime-shed/mri-gradcam-go/internal/validator"
	"github.com/anime-shed/mri-gradcam-go/pkg/validation"

	"github.com/joho/godotenv"
)

// Model sources for artifacts given as URLs
const (
	ModelSourceHTTP  = "http"
	ModelSourceAzure = "azure"
)

type Config struct {
	Host           string
	Port           string
	RequestTimeout time.Duration
	MaxUploadSize  int64
	LogLevel       string
	GinMode        string
	CORSOrigins    []string

	BinaryModelPath    string
	BinaryModelURL     string
	SubclassModelPath  string
	SubclassModelURL   string
	ModelCacheDir      string
	ModelSource        string
	ModelFetchTimeout  time.Duration
	AzureAccount       string
	AzureKey           string
	AzureContainer     string
	ONNXLibraryPath    string
	BinaryImageSize    int
	SubclassImageSize  int
	ModelRetireTimeout time.Duration

	ValidatorMode    validator.Mode
	ValidatorURL     string
	ValidatorAPIKey  string
	ValidatorModelID string
	ValidatorTimeout time.Duration
	ValidatorOCR     bool
	ValidatorWorkers int

	ArtifactDir         string
	ArtifactTTL         time.Duration
	RedisAddress        string
	RedisMaxConnections int

	EnableDB    bool
	DatabaseURL string
	HistorySize int

	SentryDSN         string
	SentryEnvironment string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// BinaryModel returns the local path or URL of the binary model
func (c *Config) BinaryModel() string {
	return firstNonEmpty(c.BinaryModelPath, c.BinaryModelURL)
}

// SubclassModel returns the local path or URL of the subclass model, or
// "" when none is configured
func (c *Config) SubclassModel() string {
	return firstNonEmpty(c.SubclassModelPath, c.SubclassModelURL)
}

// LoadFromEnv reads the environment, after loading a .env file when one
// exists in the working directory
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	mode, err := validator.ParseMode(os.Getenv("VALIDATOR_MODE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Host:           getEnvOrDefault("HOST", "0.0.0.0"),
		Port:           getEnvOrDefault("PORT", "5000"),
		RequestTimeout: parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		MaxUploadSize:  parseIntOrDefault("MAX_UPLOAD_SIZE", 32*1024*1024), // 32MB
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		GinMode:        getEnvOrDefault("GIN_MODE", "release"),
		CORSOrigins:    parseListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),

		BinaryModelPath:    os.Getenv("BINARY_MODEL_PATH"),
		BinaryModelURL:     os.Getenv("BINARY_MODEL_URL"),
		SubclassModelPath:  os.Getenv("SUBCLASS_MODEL_PATH"),
		SubclassModelURL:   os.Getenv("SUBCLASS_MODEL_URL"),
		ModelCacheDir:      getEnvOrDefault("MODEL_CACHE_DIR", filepath.Join(os.TempDir(), "mri-gradcam-models")),
		ModelSource:        strings.ToLower(getEnvOrDefault("MODEL_SOURCE", ModelSourceHTTP)),
		ModelFetchTimeout:  parseDurationOrDefault("MODEL_FETCH_TIMEOUT", 5*time.Minute),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:     os.Getenv("AZURE_MODEL_CONTAINER"),
		ONNXLibraryPath:    os.Getenv("ONNX_LIBRARY_PATH"),
		BinaryImageSize:    int(parseIntOrDefault("BINARY_IMAGE_SIZE", 256)),
		SubclassImageSize:  int(parseIntOrDefault("SUBCLASS_IMAGE_SIZE", 128)),
		ModelRetireTimeout: parseDurationOrDefault("MODEL_RETIRE_TIMEOUT", 2*time.Minute),

		ValidatorMode:    mode,
		ValidatorURL:     getEnvOrDefault("VALIDATOR_URL", "https://classify.roboflow.com"),
		ValidatorAPIKey:  os.Getenv("VALIDATOR_API_KEY"),
		ValidatorModelID: os.Getenv("VALIDATOR_MODEL_ID"),
		ValidatorTimeout: parseDurationOrDefault("VALIDATOR_TIMEOUT", 10*time.Second),
		ValidatorOCR:     parseBoolOrDefault("VALIDATOR_OCR", false),
		ValidatorWorkers: int(parseIntOrDefault("VALIDATOR_WORKERS", 0)),

		ArtifactDir:         getEnvOrDefault("ARTIFACT_DIR", filepath.Join(os.TempDir(), "mri-gradcam-artifacts")),
		ArtifactTTL:         parseDurationOrDefault("ARTIFACT_TTL", time.Hour),
		RedisAddress:        os.Getenv("REDIS_ADDRESS"),
		RedisMaxConnections: int(parseIntOrDefault("REDIS_MAX_CONNECTIONS", 10)),

		EnableDB:    parseBoolOrDefault("ENABLE_DB", false),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HistorySize: int(parseIntOrDefault("HISTORY_SIZE", 100)),

		SentryDSN:         os.Getenv("SENTRY_DSN"),
		SentryEnvironment: getEnvOrDefault("SENTRY_ENVIRONMENT", "production"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 || c.ModelFetchTimeout <= 0 || c.ValidatorTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, model fetch=%s, validator=%s)",
			c.RequestTimeout, c.ModelFetchTimeout, c.ValidatorTimeout)
	}
	if c.BinaryImageSize <= 0 || c.SubclassImageSize <= 0 {
		return fmt.Errorf("image sizes must be > 0 (got binary=%d, subclass=%d)", c.BinaryImageSize, c.SubclassImageSize)
	}
	if c.BinaryModel() == "" {
		return fmt.Errorf("BINARY_MODEL_PATH or BINARY_MODEL_URL is required")
	}

	switch c.ModelSource {
	case ModelSourceHTTP:
		urlValidator := validation.NewURLValidator()
		for key, raw := range map[string]string{"BINARY_MODEL_URL": c.BinaryModelURL, "SUBCLASS_MODEL_URL": c.SubclassModelURL} {
			if raw == "" {
				continue
			}
			if err := urlValidator.ValidateModelURL(raw); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	case ModelSourceAzure:
		if (c.BinaryModelURL != "" || c.SubclassModelURL != "") &&
			(c.AzureAccount == "" || c.AzureKey == "" || c.AzureContainer == "") {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY and AZURE_MODEL_CONTAINER are required when MODEL_SOURCE=azure")
		}
	default:
		return fmt.Errorf("invalid MODEL_SOURCE: %q (want http or azure)", c.ModelSource)
	}

	if c.ValidatorMode == validator.ModeRemote && (c.ValidatorModelID == "" || c.ValidatorAPIKey == "") {
		return fmt.Errorf("VALIDATOR_MODEL_ID and VALIDATOR_API_KEY are required when VALIDATOR_MODE=remote")
	}
	if c.ValidatorMode == validator.ModeRemote {
		if err := validation.NewURLValidator().ValidateURL(c.ValidatorURL); err != nil {
			return fmt.Errorf("invalid VALIDATOR_URL: %w", err)
		}
	}
	if c.ArtifactTTL <= 0 {
		return fmt.Errorf("ARTIFACT_TTL must be > 0 (got %s)", c.ArtifactTTL)
	}
	if c.RedisMaxConnections <= 0 {
		return fmt.Errorf("REDIS_MAX_CONNECTIONS must be > 0 (got %d)", c.RedisMaxConnections)
	}
	if c.EnableDB && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when ENABLE_DB=true")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
