package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// localStore keeps blobs on the local filesystem. Writes go to a temporary
// name and are renamed into place, so readers never observe a partial blob.
type localStore struct {
	baseDir string
}

func newLocalStore(baseDir string) (Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local blob store requires a base directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &localStore{baseDir: baseDir}, nil
}

func (l *localStore) Put(ctx context.Context, reader io.Reader, size int64, opts PutOptions) (string, error) {
	locator := newLocator(opts.Filename)
	finalPath := filepath.Join(l.baseDir, filepath.FromSlash(locator))

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", &WriteError{Op: "put", Locator: locator, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), filepath.Base(finalPath)+".tmp-*")
	if err != nil {
		return "", &WriteError{Op: "put", Locator: locator, Err: err}
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, reader)
	if err == nil && size > 0 && written != size {
		err = fmt.Errorf("short write: got %d bytes, want %d", written, size)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Rename(tmpPath, finalPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", &WriteError{Op: "put", Locator: locator, Err: err}
	}

	return locator, nil
}

func (l *localStore) Delete(ctx context.Context, locator string) error {
	fullPath := filepath.Join(l.baseDir, filepath.FromSlash(locator))
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return &WriteError{Op: "delete", Locator: locator, Err: err}
	}
	return nil
}

func (l *localStore) Exists(ctx context.Context, locator string) (bool, error) {
	fullPath := filepath.Join(l.baseDir, filepath.FromSlash(locator))
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &WriteError{Op: "stat", Locator: locator, Err: err}
	}
	return true, nil
}

func (l *localStore) Close() error {
	return nil
}
