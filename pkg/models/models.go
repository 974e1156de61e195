package models

import (
	"encoding/json"
	"time"
)

// BucketUsage represents the disk usage for a single bucket at a specific point in time
type BucketUsage struct {
	BucketName  string    `json:"bucket_name"`
	SizeBytes   int64     `json:"size"`
	ObjectCount int64     `json:"object_count"`
	Timestamp   time.Time `json:"-"`
}

// TimestampMillis returns the sample's sort key.
func (u BucketUsage) TimestampMillis() int64 {
	return u.Timestamp.UnixMilli()
}

// MarshalJSON writes the timestamp as epoch milliseconds under "ts".
func (u BucketUsage) MarshalJSON() ([]byte, error) {
	type plain BucketUsage
	return json.Marshal(struct {
		plain
		TS int64 `json:"ts"`
	}{plain(u), u.TimestampMillis()})
}

// ObjectInfo is a single listed object.
type ObjectInfo struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size"`
}

// RetryConfig controls the retry policy of the bucket listing.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts" validate:"min=1"`
	Base     time.Duration `mapstructure:"base" validate:"min=0"`
}

// Config represents the application configuration
type Config struct {
	Region    string        `mapstructure:"region" validate:"required"`
	Endpoint  string        `mapstructure:"endpoint" validate:"omitempty,url"`
	Bucket    string        `mapstructure:"bucket" validate:"required"`
	Table     string        `mapstructure:"table" validate:"required"`
	SizeIndex string        `mapstructure:"size_index" validate:"required"`
	Store     string        `mapstructure:"store" validate:"oneof=dynamodb sqlite"`
	DBPath    string        `mapstructure:"db_path" validate:"required_if=Store sqlite"`
	PlotAPI   string        `mapstructure:"plot_api" validate:"omitempty,url"`
	Window    time.Duration `mapstructure:"window" validate:"gt=0"`
	URLExpiry time.Duration `mapstructure:"url_expiry" validate:"gt=0"`
	Retry     RetryConfig   `mapstructure:"retry"`
	LogLevel  string        `mapstructure:"log_level"`
}
