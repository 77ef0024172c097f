package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS upload_requests (
		id           UUID PRIMARY KEY,
		device_id    TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL,
		file_size    BIGINT NOT NULL DEFAULT 0,
		s3_key       TEXT NOT NULL,
		bucket       TEXT NOT NULL,
		status       TEXT NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS upload_requests_device_idx ON upload_requests (device_id, generated_at DESC);
`

// PostgresRepository хранит выданные адреса в PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresRepositoryFromDSN создает репозиторий из строки подключения
func NewPostgresRepositoryFromDSN(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) Save(ctx context.Context, req *UploadRequest) error {
	query := `
		INSERT INTO upload_requests (id, device_id, session_id, timestamp, file_size, s3_key, bucket, status, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`

	_, err := r.db.ExecContext(ctx, query,
		req.ID,
		req.DeviceID,
		req.SessionID,
		req.Timestamp,
		req.FileSize,
		req.S3Key,
		req.Bucket,
		req.Status,
		req.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save upload request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*UploadRequest, error) {
	query := `
		SELECT id, device_id, session_id, timestamp, file_size, s3_key, bucket, status, generated_at
		FROM upload_requests
		WHERE id = $1
	`

	var req UploadRequest
	err := scanRequest(r.db.QueryRowContext(ctx, query, id), &req)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get upload request: %w", err)
	}
	return &req, nil
}

func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*UploadRequest, error) {
	query := `
		SELECT id, device_id, session_id, timestamp, file_size, s3_key, bucket, status, generated_at
		FROM upload_requests
		WHERE device_id = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload requests: %w", err)
	}
	defer rows.Close()

	var requests []*UploadRequest
	for rows.Next() {
		var req UploadRequest
		if err := scanRequest(rows, &req); err != nil {
			continue // Пропускаем поврежденные записи
		}
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner, req *UploadRequest) error {
	return s.Scan(
		&req.ID,
		&req.DeviceID,
		&req.SessionID,
		&req.Timestamp,
		&req.FileSize,
		&req.S3Key,
		&req.Bucket,
		&req.Status,
		&req.GeneratedAt,
	)
}
