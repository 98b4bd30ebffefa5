package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioStore struct {
	client *minio.Client
	bucket string
}

func newMinioStore(cfg Config) (Store, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioStore{client: cl, bucket: cfg.Bucket}, nil
}

func (m *minioStore) Put(ctx context.Context, reader io.Reader, size int64, opts PutOptions) (string, error) {
	locator := newLocator(opts.Filename)

	putOpts := minio.PutObjectOptions{
		ContentType: opts.ContentType,
		UserMetadata: map[string]string{
			"original-filename": opts.Filename,
		},
	}
	if _, err := m.client.PutObject(ctx, m.bucket, locator, reader, size, putOpts); err != nil {
		return "", &WriteError{Op: "put", Locator: locator, Err: err}
	}
	return locator, nil
}

func (m *minioStore) Delete(ctx context.Context, locator string) error {
	// RemoveObject succeeds on missing keys, so stat first to distinguish
	// absent blobs from I/O failures.
	if _, err := m.client.StatObject(ctx, m.bucket, locator, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return &WriteError{Op: "stat", Locator: locator, Err: err}
	}

	if err := m.client.RemoveObject(ctx, m.bucket, locator, minio.RemoveObjectOptions{}); err != nil {
		return &WriteError{Op: "delete", Locator: locator, Err: err}
	}
	return nil
}

func (m *minioStore) Exists(ctx context.Context, locator string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, locator, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, &WriteError{Op: "stat", Locator: locator, Err: err}
	}
	return true, nil
}

func (m *minioStore) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}
