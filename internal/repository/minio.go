package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type MinIORepository struct {
	client *minio.Client
	bucket string
	region string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
	retryDelay    time.Duration
}

func NewMinIORepository(endpoint, accessKey, secretKey, bucket, region string, useSSL bool, connectTimeout time.Duration, logger zerolog.Logger) (*MinIORepository, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	repo := &MinIORepository{
		client:     client,
		bucket:     bucket,
		region:     region,
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}

	// Архив не обязателен для работы: если MinIO не готов, пробуем снова при первой записи.
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := repo.ensureBucket(ctx); err != nil {
		logger.Error().Err(err).
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Msg("MinIO not ready during startup; audit archive will retry on demand")
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("Connected to MinIO")

	return repo, nil
}

func (r *MinIORepository) ensureBucket(ctx context.Context) error {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.bucketEnsured {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("minio not ready: %w", err)
		}

		exists, err := r.client.BucketExists(ctx, r.bucket)
		if err != nil {
			r.sleep(ctx)
			continue
		}

		if !exists {
			if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region}); err != nil {
				r.sleep(ctx)
				continue
			}
			r.logger.Info().Str("bucket", r.bucket).Msg("Created new bucket")
		}

		r.bucketEnsured = true
		return nil
	}
}

func (r *MinIORepository) sleep(ctx context.Context) {
	timer := time.NewTimer(r.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *MinIORepository) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if err := r.ensureBucket(ctx); err != nil {
		return err
	}

	info, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("key", key).
		Str("etag", info.ETag).
		Int("size", len(data)).
		Msg("Object uploaded to MinIO")

	return nil
}

func (r *MinIORepository) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return nil, err
	}

	object, err := r.client.GetObject(ctx, r.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}
