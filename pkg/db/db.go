package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/thannaske/s3tracker/pkg/models"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

var _ Store = (*DB)(nil)

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// a single writer keeps sqlite free of "database is locked" errors
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// InitDB initializes the database tables
func (db *DB) InitDB() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bucket_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bucket_name TEXT NOT NULL,
			ts INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			object_count INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Time-ordered reads within a bucket
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_bucket_usage_name_ts
		ON bucket_usage(bucket_name, ts)
	`)
	if err != nil {
		return err
	}

	// Size-ordered reads within a bucket, the local twin of the size GSI
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_bucket_usage_name_size
		ON bucket_usage(bucket_name, size_bytes)
	`)
	return err
}

// StoreBucketUsage stores the bucket usage data in the database
func (db *DB) StoreBucketUsage(ctx context.Context, usage models.BucketUsage) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bucket_usage (bucket_name, ts, size_bytes, object_count)
		VALUES (?, ?, ?, ?)
	`, usage.BucketName, usage.TimestampMillis(), usage.SizeBytes, usage.ObjectCount)
	return err
}

// GetBucketUsage retrieves the usage data for a specific bucket
func (db *DB) GetBucketUsage(ctx context.Context, bucketName string, startTime, endTime time.Time) ([]models.BucketUsage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT bucket_name, ts, size_bytes, object_count
		FROM bucket_usage
		WHERE bucket_name = ? AND ts BETWEEN ? AND ?
		ORDER BY ts, id
	`, bucketName, startTime.UnixMilli(), endTime.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []models.BucketUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return usages, nil
}

// GetMaxBucketUsage returns the sample with the largest size for a bucket
func (db *DB) GetMaxBucketUsage(ctx context.Context, bucketName string) (*models.BucketUsage, error) {
	row := db.QueryRowContext(ctx, `
		SELECT bucket_name, ts, size_bytes, object_count
		FROM bucket_usage
		WHERE bucket_name = ?
		ORDER BY size_bytes DESC, ts DESC
		LIMIT 1
	`, bucketName)

	u, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUsage(s scanner) (models.BucketUsage, error) {
	var (
		u  models.BucketUsage
		ts int64
	)
	if err := s.Scan(&u.BucketName, &ts, &u.SizeBytes, &u.ObjectCount); err != nil {
		return models.BucketUsage{}, err
	}
	u.Timestamp = time.UnixMilli(ts).UTC()
	return u, nil
}
