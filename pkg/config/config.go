// Package config resolves the application configuration from defaults, an optional
// config file, environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/thannaske/s3tracker/pkg/models"
	"github.com/thannaske/s3tracker/pkg/retry"
)

const applicationName = "s3tracker"

// Defaults
const (
	DefaultRegion    = "us-east-1"
	DefaultBucket    = "testbucket-PLACEHOLDER-UNIQUE"
	DefaultTable     = "S3-object-size-history"
	DefaultSizeIndex = "bucket_size_index"
	DefaultStore     = "dynamodb"
	DefaultWindow    = 10 * time.Second
	DefaultURLExpiry = time.Hour
)

// envBindings maps configuration keys to the environment variables that set them.
var envBindings = map[string][]string{
	"region":         {"AWS_REGION", "AWS_DEFAULT_REGION"},
	"endpoint":       {"S3_ENDPOINT"},
	"bucket":         {"BUCKET"},
	"table":          {"DDB_TABLE"},
	"size_index":     {"GSI_NAME"},
	"store":          {"S3TRACKER_STORE"},
	"db_path":        {"S3_DB_PATH"},
	"plot_api":       {"PLOTTING_API"},
	"window":         {"S3TRACKER_WINDOW"},
	"url_expiry":     {"S3TRACKER_URL_EXPIRY"},
	"retry.attempts": {"S3TRACKER_RETRY_ATTEMPTS"},
	"retry.base":     {"S3TRACKER_RETRY_BASE"},
	"log_level":      {"S3TRACKER_LOG_LEVEL"},
}

// DefaultDBPath is the sqlite database used when none is configured.
func DefaultDBPath() string {
	return filepath.Join(os.Getenv("HOME"), ".s3tracker.db")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("region", DefaultRegion)
	v.SetDefault("bucket", DefaultBucket)
	v.SetDefault("table", DefaultTable)
	v.SetDefault("size_index", DefaultSizeIndex)
	v.SetDefault("store", DefaultStore)
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("window", DefaultWindow)
	v.SetDefault("url_expiry", DefaultURLExpiry)
	v.SetDefault("retry.attempts", retry.DefaultAttempts)
	v.SetDefault("retry.base", retry.DefaultBase)
	v.SetDefault("log_level", "info")
}

// BindEnv binds the documented environment variables and any S3TRACKER_ prefixed key.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(applicationName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// ReadFile reads file if given, otherwise searches the usual locations. A missing
// config file is not an error.
func ReadFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.SetConfigName(applicationName)
	v.AddConfigPath(fmt.Sprintf("/etc/%s", applicationName))
	v.AddConfigPath(fmt.Sprintf("$HOME/.%s", applicationName))
	v.AddConfigPath(".")
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (models.Config, error) {
	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// New returns a viper instance with defaults and environment bindings in place.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}
